package backend

import (
	"encoding/json"
	"fmt"
)

// taggedExecutor is the on-disk shape of a CommandExecutor: a kind
// discriminator plus the kind-specific payload. CommandExecutor is an
// interface, so persistence (internal/pool/descriptor.go) cannot rely
// on encoding/json's default interface handling and needs this tiny
// manual union.
type taggedExecutor struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalExecutor serializes a CommandExecutor into its tagged form.
func MarshalExecutor(exec CommandExecutor) ([]byte, error) {
	var kind string
	switch exec.(type) {
	case *LocalProcessExecutor:
		kind = "local"
	case *ClusterExecutor:
		kind = "cluster"
	default:
		return nil, fmt.Errorf("marshaling executor: unsupported type %T", exec)
	}

	payload, err := json.Marshal(exec)
	if err != nil {
		return nil, fmt.Errorf("marshaling executor payload: %w", err)
	}
	return json.Marshal(taggedExecutor{Kind: kind, Payload: payload})
}

// UnmarshalExecutor reconstructs a CommandExecutor from its tagged form.
// Callers needing a ClusterExecutor's template renderer wired back in
// must type-assert the result and call SetRenderer themselves.
func UnmarshalExecutor(data []byte) (CommandExecutor, error) {
	var tagged taggedExecutor
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("unmarshaling executor envelope: %w", err)
	}

	switch tagged.Kind {
	case "local":
		var e LocalProcessExecutor
		if err := json.Unmarshal(tagged.Payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshaling local executor: %w", err)
		}
		return &e, nil
	case "cluster":
		var e ClusterExecutor
		if err := json.Unmarshal(tagged.Payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshaling cluster executor: %w", err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("unmarshaling executor: unknown kind %q", tagged.Kind)
	}
}

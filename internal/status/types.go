package status

import "encoding/json"

// Envelope is the top-level WebSocket message format: a type tag plus
// its payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PoolSnapshot is the occupancy of one named pool at a point in time.
type PoolSnapshot struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
	Idle  int    `json:"idle"`
}

// SnapshotPayload is the full state sent on connect and on every tick.
type SnapshotPayload struct {
	Pools []PoolSnapshot `json:"pools"`
}

// Message type constants.
const (
	TypeSnapshot = "status.snapshot"
)

// MakeEnvelope marshals payload and wraps it in an Envelope of the given type.
func MakeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: p})
}

package backend

import "testing"

func TestMarshalUnmarshalExecutor_Local(t *testing.T) {
	orig := &LocalProcessExecutor{PID: 4242, JobName: "pool-a"}

	data, err := MarshalExecutor(orig)
	if err != nil {
		t.Fatalf("MarshalExecutor failed: %v", err)
	}

	got, err := UnmarshalExecutor(data)
	if err != nil {
		t.Fatalf("UnmarshalExecutor failed: %v", err)
	}

	local, ok := got.(*LocalProcessExecutor)
	if !ok {
		t.Fatalf("expected *LocalProcessExecutor, got %T", got)
	}
	if local.PID != 4242 || local.JobName != "pool-a" {
		t.Errorf("round-trip mismatch: %+v", local)
	}
}

func TestMarshalUnmarshalExecutor_Cluster(t *testing.T) {
	orig := &ClusterExecutor{RemoteJobID: "789", Queue: "batch"}

	data, err := MarshalExecutor(orig)
	if err != nil {
		t.Fatalf("MarshalExecutor failed: %v", err)
	}

	got, err := UnmarshalExecutor(data)
	if err != nil {
		t.Fatalf("UnmarshalExecutor failed: %v", err)
	}

	cl, ok := got.(*ClusterExecutor)
	if !ok {
		t.Fatalf("expected *ClusterExecutor, got %T", got)
	}
	if cl.RemoteJobID != "789" || cl.Queue != "batch" {
		t.Errorf("round-trip mismatch: %+v", cl)
	}
}

func TestUnmarshalExecutor_UnknownKind(t *testing.T) {
	_, err := UnmarshalExecutor([]byte(`{"kind":"quantum","payload":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

package apollo

import (
	"context"
	"testing"
)

func newTestInstance() *Apollo {
	return newApollo(Options{InitModelSpec: "Random"})
}

func TestNewRegionRejectsDuplicateName(t *testing.T) {
	a := newTestInstance()
	if _, err := a.NewRegion("loopA", 2); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := a.NewRegion("loopA", 2); err == nil {
		t.Fatalf("expected error registering duplicate region name")
	}
}

func TestSetFeatureGetFeatureRoundTrip(t *testing.T) {
	a := newTestInstance()
	a.SetFeature("problem_size", 1024)
	if got := a.GetFeature("problem_size"); got != 1024 {
		t.Fatalf("expected 1024, got %v", got)
	}
}

func TestAttachModelAndFlushEndToEnd(t *testing.T) {
	a := newTestInstance()
	r, err := a.NewRegion("loopA", 3)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}

	pkg := []byte(`{
		"driver": {"format": "int", "rules": "2"},
		"type": {"index": 3, "name": "Static"},
		"region_names": ["loopA"],
		"features": {"count": 0, "names": []}
	}`)
	results, err := a.AttachModel(context.Background(), pkg)
	if err != nil {
		t.Fatalf("AttachModel: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected attach results: %+v", results)
	}

	if err := r.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	idx, err := r.GetPolicyIndex()
	if err != nil {
		t.Fatalf("getPolicyIndex: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected policy 2 after static attach, got %d", idx)
	}
	if err := r.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	global, err := a.FlushAllRegionMeasurements(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(global) != 1 || global[0].Policy != 2 {
		t.Fatalf("expected one global best-policy entry at policy 2, got %+v", global)
	}
}

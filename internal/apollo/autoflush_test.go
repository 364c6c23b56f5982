package apollo

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAutoFlusherFlushesOnceThresholdReached(t *testing.T) {
	a := newApollo(Options{InitModelSpec: "Random", Logger: zap.NewNop()})
	r, err := a.NewRegion("loopA", 2)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.Begin(); err != nil {
			t.Fatalf("begin: %v", err)
		}
		if _, err := r.GetPolicyIndex(); err != nil {
			t.Fatalf("getPolicyIndex: %v", err)
		}
		if err := r.End(); err != nil {
			t.Fatalf("end: %v", err)
		}
	}
	if r.ExecCountCurrentStep() != 3 {
		t.Fatalf("expected 3 pending executions before flush, got %d", r.ExecCountCurrentStep())
	}

	f := NewAutoFlusher(a, 3, time.Hour, zap.NewNop())
	f.pollOnce(context.Background())

	if r.ExecCountCurrentStep() != 0 {
		t.Fatalf("expected autoflush to reset the per-step counter, got %d", r.ExecCountCurrentStep())
	}
}

func TestAutoFlusherDoesNothingBelowThreshold(t *testing.T) {
	a := newApollo(Options{InitModelSpec: "Random", Logger: zap.NewNop()})
	r, err := a.NewRegion("loopA", 2)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	if err := r.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	f := NewAutoFlusher(a, 100, time.Hour, zap.NewNop())
	f.pollOnce(context.Background())

	if r.ExecCountCurrentStep() != 1 {
		t.Fatalf("expected no flush below threshold, counter changed to %d", r.ExecCountCurrentStep())
	}
}

package region

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/apollo-rt/apollo/internal/feature"
	"github.com/apollo-rt/apollo/internal/measure"
	"github.com/apollo-rt/apollo/internal/model"
	"github.com/apollo-rt/apollo/internal/observability"
)

func newTestRegion(t *testing.T, kind model.Kind, cfg model.Config) (*Region, *feature.Bag) {
	t.Helper()
	bag := feature.New()
	m, err := model.New(kind, cfg)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	r, err := New("R", cfg.NumPolicies, m, bag)
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	return r, bag
}

func TestStaticSelectionRecordsOneKey(t *testing.T) {
	r, bag := newTestRegion(t, model.KindStatic, model.Config{NumPolicies: 4, StaticIndex: 2})

	for i := 0; i < 10; i++ {
		bag.Set("f", 3.0)
		if err := r.Begin(); err != nil {
			t.Fatalf("begin: %v", err)
		}
		idx, err := r.GetPolicyIndex()
		if err != nil {
			t.Fatalf("getPolicyIndex: %v", err)
		}
		if idx != 2 {
			t.Fatalf("expected policy 2, got %d", idx)
		}
		if err := r.End(); err != nil {
			t.Fatalf("end: %v", err)
		}
	}

	if r.Measures().Len() != 1 {
		t.Fatalf("expected exactly one measurement key, got %d", r.Measures().Len())
	}
	r.Measures().Iterate(func(e measure.Entry) {
		if e.Record.ExecCount != 10 {
			t.Fatalf("expected exec_count 10, got %d", e.Record.ExecCount)
		}
		if e.Policy != 2 {
			t.Fatalf("expected policy 2, got %d", e.Policy)
		}
	})
}

func TestRegionStateMachinePreconditions(t *testing.T) {
	r, _ := newTestRegion(t, model.KindStatic, model.Config{NumPolicies: 2, StaticIndex: 0})

	if err := r.End(); err == nil {
		t.Fatalf("expected error ending a region that was never begun")
	}
	if _, err := r.GetPolicyIndex(); err == nil {
		t.Fatalf("expected error calling getPolicyIndex outside a region")
	}
	if err := r.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.Begin(); err == nil {
		t.Fatalf("expected error on double begin")
	}
	if err := r.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestGetPolicyIndexIsStableWithinOneInvocation(t *testing.T) {
	r, bag := newTestRegion(t, model.KindRandom, model.Config{NumPolicies: 5})
	bag.Set("f", 1.0)
	if err := r.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	first, _ := r.GetPolicyIndex()
	second, _ := r.GetPolicyIndex()
	if first != second {
		t.Fatalf("expected stable policy within one invocation, got %d then %d", first, second)
	}
	_ = r.End()
}

func TestBeginEndRecordsMetrics(t *testing.T) {
	r, bag := newTestRegion(t, model.KindStatic, model.Config{NumPolicies: 2, StaticIndex: 1})
	metrics := observability.NewMetrics()
	r.SetMetrics(metrics)

	bag.Set("f", 1.0)
	if err := r.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got := testutil.ToFloat64(metrics.RegionActiveCount.WithLabelValues("R")); got != 1 {
		t.Fatalf("expected region_active=1 while inside, got %v", got)
	}
	if _, err := r.GetPolicyIndex(); err != nil {
		t.Fatalf("getPolicyIndex: %v", err)
	}
	if err := r.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	if got := testutil.ToFloat64(metrics.RegionActiveCount.WithLabelValues("R")); got != 0 {
		t.Fatalf("expected region_active=0 after end, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RegionExecutionsTotal.WithLabelValues("R", "1")); got != 1 {
		t.Fatalf("expected one recorded execution for policy 1, got %v", got)
	}
}

func TestImplicitEndOnClose(t *testing.T) {
	r, bag := newTestRegion(t, model.KindStatic, model.Config{NumPolicies: 2, StaticIndex: 1})
	bag.Set("f", 1.0)
	if err := r.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := r.GetPolicyIndex(); err != nil {
		t.Fatalf("getPolicyIndex: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Inside() {
		t.Fatalf("expected region to be idle after close")
	}
	if r.Measures().Len() != 1 {
		t.Fatalf("expected implicit end to record a measurement")
	}
}

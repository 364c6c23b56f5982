package reduce

import (
	"context"
	"testing"

	"github.com/apollo-rt/apollo/internal/feature"
	"github.com/apollo-rt/apollo/internal/model"
	"github.com/apollo-rt/apollo/internal/region"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	records := []Record{
		{Rank: 1, Features: []float32{1.5, 2.5}, PolicyIndex: 3, RegionName: "loopA", AvgTime: 0.125},
		{Rank: 2, Features: []float32{-1.0, 0.0}, PolicyIndex: 0, RegionName: "loopB", AvgTime: 9.75},
	}
	buf, err := Pack(records, 2)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, err := Unpack(buf, 2)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for i, want := range records {
		if got[i].Rank != want.Rank || got[i].PolicyIndex != want.PolicyIndex || got[i].RegionName != want.RegionName || got[i].AvgTime != want.AvgTime {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, got[i], want)
		}
		for j := range want.Features {
			if got[i].Features[j] != want.Features[j] {
				t.Fatalf("record %d feature %d mismatch: got %v want %v", i, j, got[i].Features[j], want.Features[j])
			}
		}
	}
}

func TestPackRejectsFeatureCountMismatch(t *testing.T) {
	records := []Record{{Features: []float32{1.0}, RegionName: "r"}}
	if _, err := Pack(records, 2); err == nil {
		t.Fatalf("expected error for feature count mismatch")
	}
}

func TestUnpackRejectsBadStride(t *testing.T) {
	if _, err := Unpack([]byte{1, 2, 3}, 2); err == nil {
		t.Fatalf("expected error for malformed buffer")
	}
}

func TestLocalReducePicksFastest(t *testing.T) {
	bag := feature.New()
	m, _ := model.New(model.KindStatic, model.Config{NumPolicies: 2, StaticIndex: 0})
	r, err := region.New("R", 2, m, bag)
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}

	r.Measures().Record([]float64{1.0}, 0, 0.9)
	r.Measures().Record([]float64{1.0}, 0, 1.1)
	r.Measures().Record([]float64{1.0}, 1, 0.2)
	r.Measures().Record([]float64{1.0}, 1, 0.3)

	best := LocalReduce(r)
	if len(best) != 1 {
		t.Fatalf("expected 1 distinct feature vector, got %d", len(best))
	}
	for _, bp := range best {
		if bp.Policy != 1 {
			t.Fatalf("expected policy 1, got %d", bp.Policy)
		}
		if bp.AvgTime != 0.25 {
			t.Fatalf("expected avg 0.25, got %v", bp.AvgTime)
		}
	}
}

func TestLocalReduceTieBreaksOnLowestPolicy(t *testing.T) {
	bag := feature.New()
	m, _ := model.New(model.KindStatic, model.Config{NumPolicies: 3, StaticIndex: 0})
	r, _ := region.New("R", 3, m, bag)

	r.Measures().Record([]float64{2.0}, 0, 1.0)
	r.Measures().Record([]float64{2.0}, 2, 1.0)

	best := LocalReduce(r)
	for _, bp := range best {
		if bp.Policy != 0 {
			t.Fatalf("expected tie-break to pick policy 0, got %d", bp.Policy)
		}
	}
}

func TestFlushSingleRankLoopback(t *testing.T) {
	bag := feature.New()
	m, _ := model.New(model.KindStatic, model.Config{NumPolicies: 2, StaticIndex: 0})
	r, _ := region.New("R", 2, m, bag)
	r.Measures().Record([]float64{1.0}, 0, 1.0)
	r.Measures().Record([]float64{1.0}, 1, 0.5)

	f := NewFlusher(0, 1, LoopbackCollective{}, 4)
	global, err := f.Flush(context.Background(), map[string]*region.Region{"R": r})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(global) != 1 {
		t.Fatalf("expected 1 global best-policy entry, got %d", len(global))
	}
	if global[0].Policy != 1 {
		t.Fatalf("expected policy 1, got %d", global[0].Policy)
	}
}

type fakeCollective struct {
	peers [][]byte
}

func (f fakeCollective) AllGather(_ context.Context, payload []byte) ([][]byte, error) {
	return append([][]byte{payload}, f.peers...), nil
}

func TestFlushCombinesAcrossRanks(t *testing.T) {
	bag := feature.New()
	m, _ := model.New(model.KindStatic, model.Config{NumPolicies: 2, StaticIndex: 0})
	r, _ := region.New("R", 2, m, bag)
	r.Measures().Record([]float64{1.0}, 0, 1.0) // this rank: policy 0 avg 1.0

	peerRecord := Record{Rank: 7, Features: []float32{1.0}, PolicyIndex: 1, RegionName: "R", AvgTime: 0.1}
	peerPayload, err := Pack([]Record{peerRecord}, 1)
	if err != nil {
		t.Fatalf("pack peer payload: %v", err)
	}

	f := NewFlusher(0, 1, fakeCollective{peers: [][]byte{peerPayload}}, 4)
	global, err := f.Flush(context.Background(), map[string]*region.Region{"R": r})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(global) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(global))
	}
	if global[0].Policy != 1 || global[0].Rank != 7 {
		t.Fatalf("expected peer's faster policy to win: %+v", global[0])
	}
}

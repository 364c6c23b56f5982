// Package reduce implements the best-policy reducer (C6): local
// reduction of a region's measurement table into a per-feature-vector
// best policy, and the cross-rank collective exchange that refines it
// further.
package reduce

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/apollo-rt/apollo/internal/measure"
	"github.com/apollo-rt/apollo/internal/region"
)

// LocalReduce scans a region's measurement table and, for each
// distinct feature vector, keeps the (policy, avg) pair with the
// smallest average execution time. Ties are broken by the lowest
// policy index. Complexity O(|measures|), per §4.6.
func LocalReduce(r *region.Region) map[string]region.BestPolicy {
	best := make(map[string]region.BestPolicy)
	r.Measures().Iterate(func(e measure.Entry) {
		key := measure.FeaturesKey(e.Features)
		cand := region.BestPolicy{Features: e.Features, Policy: e.Policy, AvgTime: e.Record.Avg}
		cur, ok := best[key]
		if !ok || betterLocal(cand, cur) {
			best[key] = cand
		}
	})
	return best
}

func betterLocal(a, b region.BestPolicy) bool {
	if a.AvgTime != b.AvgTime {
		return a.AvgTime < b.AvgTime
	}
	return a.Policy < b.Policy
}

// Collective is the pluggable MPI stand-in (§9): a single all-gather
// operation over opaque byte payloads. The only implementation in this
// repository is the in-process LoopbackCollective below, which tests
// and apollod both use; a multi-rank transport plugs in here.
type Collective interface {
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)
}

// LoopbackCollective is a single-rank Collective that returns exactly
// the payload it was given — useful for running the reducer without an
// MPI launcher, and the facade's default when no Collective is given.
type LoopbackCollective struct{}

func (LoopbackCollective) AllGather(_ context.Context, payload []byte) ([][]byte, error) {
	return [][]byte{payload}, nil
}

// Flusher drives the collective phase of the reduction: local reduce
// across all registered regions (bounded concurrency), pack, exchange,
// and global re-reduce.
type Flusher struct {
	Rank         int32
	FeatureCount int
	Collective   Collective

	sem *semaphore.Weighted
}

// NewFlusher builds a Flusher. maxConcurrentLocalReduce bounds how many
// regions are locally reduced in parallel before packing, mirroring
// the teacher's per-tenant semaphore pattern.
func NewFlusher(rank int32, featureCount int, collective Collective, maxConcurrentLocalReduce int64) *Flusher {
	if maxConcurrentLocalReduce <= 0 {
		maxConcurrentLocalReduce = 1
	}
	return &Flusher{
		Rank:         rank,
		FeatureCount: featureCount,
		Collective:   collective,
		sem:          semaphore.NewWeighted(maxConcurrentLocalReduce),
	}
}

// GlobalBestPolicy is one entry of the facade's best_policies_global
// table: the best-known policy for one region at one feature vector,
// across every rank.
type GlobalBestPolicy struct {
	RegionName string
	Features   []float64
	Policy     int
	AvgTime    float64
	Rank       int32
}

// Flush performs the full §4.6 local+collective reduction: it locally
// reduces every region (installing the result into that region via
// SetBestPolicies), packs the combined table onto the wire, exchanges
// it with all ranks, and re-reduces globally. Flush only returns a new
// global table on success; on any error it returns none, although a
// failure after the local phase leaves the regions' freshly installed
// best-policy tables in place.
func (f *Flusher) Flush(ctx context.Context, regions map[string]*region.Region) ([]GlobalBestPolicy, error) {
	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic packing order, easier to test and log

	g, gctx := errgroup.WithContext(ctx)
	localResults := make([]map[string]region.BestPolicy, len(names))
	for i, name := range names {
		i, r := i, regions[name]
		g.Go(func() error {
			if err := f.sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("reduce: acquire local-reduce slot: %w", err)
			}
			defer f.sem.Release(1)
			localResults[i] = LocalReduce(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, name := range names {
		regions[name].SetBestPolicies(localResults[i])
	}

	var records []Record
	for i, name := range names {
		for _, bp := range localResults[i] {
			records = append(records, Record{
				Rank:        f.Rank,
				Features:    toFloat32(bp.Features),
				PolicyIndex: int32(bp.Policy),
				RegionName:  name,
				AvgTime:     bp.AvgTime,
			})
		}
	}

	payload, err := Pack(records, f.FeatureCount)
	if err != nil {
		return nil, fmt.Errorf("reduce: pack local best-policies: %w", err)
	}

	peerPayloads, err := f.Collective.AllGather(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("reduce: collective all-gather failed: %w", err)
	}

	var allRecords []Record
	for rankIdx, p := range peerPayloads {
		recs, err := Unpack(p, f.FeatureCount)
		if err != nil {
			return nil, fmt.Errorf("reduce: unpack payload from peer %d: %w", rankIdx, err)
		}
		allRecords = append(allRecords, recs...)
	}

	return globalReduce(allRecords), nil
}

// globalKey groups records by (region_name, feature-vector) for the
// cross-rank re-reduction.
type globalKey struct {
	region   string
	features string
}

func globalReduce(records []Record) []GlobalBestPolicy {
	best := make(map[globalKey]GlobalBestPolicy)
	order := make([]globalKey, 0)

	for _, rec := range records {
		features := float32to64(rec.Features)
		key := globalKey{region: rec.RegionName, features: measure.FeaturesKey(features)}
		cand := GlobalBestPolicy{
			RegionName: rec.RegionName,
			Features:   features,
			Policy:     int(rec.PolicyIndex),
			AvgTime:    rec.AvgTime,
			Rank:       rec.Rank,
		}
		cur, ok := best[key]
		if !ok {
			best[key] = cand
			order = append(order, key)
			continue
		}
		if betterGlobal(cand, cur) {
			best[key] = cand
		}
	}

	out := make([]GlobalBestPolicy, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// betterGlobal implements §4.6's global tie-break: smallest avg time,
// then smallest policy index, then smallest rank.
func betterGlobal(a, b GlobalBestPolicy) bool {
	if a.AvgTime != b.AvgTime {
		return a.AvgTime < b.AvgTime
	}
	if a.Policy != b.Policy {
		return a.Policy < b.Policy
	}
	return a.Rank < b.Rank
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func float32to64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

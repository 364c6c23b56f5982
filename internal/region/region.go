// Package region implements the per-region lifecycle (C5): begin/end
// timing, measurement recording, and policy selection via the region's
// model wrapper.
package region

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apollo-rt/apollo/internal/feature"
	"github.com/apollo-rt/apollo/internal/measure"
	"github.com/apollo-rt/apollo/internal/model"
	"github.com/apollo-rt/apollo/internal/observability"
)

// MaxNameLength is the longest a region name may be — it must also fit
// the 64-byte NUL-padded wire field used by the best-policy reducer
// (§4.6), which reserves one byte for the terminator.
const MaxNameLength = 63

// Region is a named code site whose executions are autotuned. A Region
// exclusively owns its measurement table and model wrapper; the facade
// exclusively owns the set of registered regions.
type Region struct {
	name        string
	numPolicies int
	model       *model.Wrapper
	measures    *measure.Table

	bestPolicies map[string]BestPolicy

	inside        bool
	currentPolicy int
	tBegin        time.Time
	tEnd          time.Time

	execCountTotal          uint64
	execCountCurrentStep    uint64
	execCountCurrentPolicy  uint64

	features *feature.Bag
	metrics  *observability.Metrics
}

// BestPolicy is the policy-index/avg-time pair a region's best-policy
// reduction settles on for one feature vector. Features is retained
// alongside the pair so the collective reducer can pack it onto the
// wire (§4.6) without a second pass over the measurement table.
type BestPolicy struct {
	Features []float64
	Policy   int
	AvgTime  float64
}

// New registers a region with the given name and policy count, with an
// initial model. Name length is validated against MaxNameLength; the
// facade (not this package) enforces cross-region name uniqueness,
// since uniqueness is a property of the registry, not of one region.
func New(name string, numPolicies int, initial model.Model, features *feature.Bag) (*Region, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("region: name %q exceeds %d characters", name, MaxNameLength)
	}
	if numPolicies <= 0 {
		return nil, fmt.Errorf("region: num_policies must be positive, got %d", numPolicies)
	}
	return &Region{
		name:          name,
		numPolicies:   numPolicies,
		model:         model.NewWrapper(name, numPolicies, initial),
		measures:      measure.New(),
		bestPolicies:  make(map[string]BestPolicy),
		currentPolicy: -1,
		features:      features,
	}, nil
}

func (r *Region) Name() string        { return r.name }
func (r *Region) NumPolicies() int    { return r.numPolicies }

// EffectivePolicyCount returns the policy count the region's active
// model actually operates over. It is always equal to NumPolicies
// today since every New call requires an explicit, positive
// num_policies — the original runtime instead derives this from the
// configured model when constructed with a zero policy count, which
// this port does not support; the method exists so callers that
// ported logic expecting that derivation have a stable place to look.
func (r *Region) EffectivePolicyCount() int { return r.numPolicies }
func (r *Region) Inside() bool        { return r.inside }
func (r *Region) CurrentPolicy() int  { return r.currentPolicy }
func (r *Region) Measures() *measure.Table { return r.measures }
func (r *Region) Model() *model.Wrapper    { return r.model }

// Begin starts a measured invocation. Precondition: not already inside.
func (r *Region) Begin() error {
	if r.inside {
		return fmt.Errorf("region %q: begin() called while already inside", r.name)
	}
	r.inside = true
	r.tBegin = time.Now()
	if r.metrics != nil {
		r.metrics.SetRegionActive(r.name, true)
	}
	return nil
}

// GetPolicyIndex selects (or re-reads, if already selected this
// invocation) the policy for the current feature snapshot. Calling it
// more than once within one Begin/End pair returns the same value: the
// first call's choice is kept until End, so models that advance state
// on every choice (Random, RoundRobin, Sequential) are consulted once.
func (r *Region) GetPolicyIndex() (int, error) {
	if !r.inside {
		return 0, fmt.Errorf("region %q: getPolicyIndex() called while not inside", r.name)
	}
	if r.currentPolicy >= 0 {
		return r.currentPolicy, nil
	}
	idx, err := r.model.GetIndex(r.features.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("region %q: %w", r.name, err)
	}
	r.currentPolicy = idx
	return idx, nil
}

// End stops the current invocation, records the measurement for the
// policy selected via GetPolicyIndex (or 0 if GetPolicyIndex was never
// called), and clears the feature bag.
func (r *Region) End() error {
	if !r.inside {
		return fmt.Errorf("region %q: end() called while not inside", r.name)
	}
	r.tEnd = time.Now()
	duration := r.tEnd.Sub(r.tBegin).Seconds()

	policy := r.currentPolicy
	if policy < 0 {
		policy = 0
	}
	r.measures.Record(r.features.Snapshot(), policy, duration)

	r.execCountTotal++
	r.execCountCurrentStep++
	r.execCountCurrentPolicy++

	if r.metrics != nil {
		policyLabel := strconv.Itoa(policy)
		r.metrics.RecordRegionExecution(r.name, policyLabel)
		r.metrics.ObserveMeasurement(r.name, policyLabel, duration)
		r.metrics.SetRegionActive(r.name, false)
	}

	r.features.Clear()
	r.inside = false
	r.currentPolicy = -1
	return nil
}

// Close implements the implicit end-on-destruction rule: if the region
// is still inside when it goes out of scope, it is ended first.
func (r *Region) Close() error {
	if r.inside {
		return r.End()
	}
	return nil
}

// ExecCountTotal is the number of End() calls over the region's
// lifetime.
func (r *Region) ExecCountTotal() uint64 { return r.execCountTotal }

// ResetStepCounter zeroes the per-step execution counter, called by the
// facade after a flush cycle.
func (r *Region) ResetStepCounter() { r.execCountCurrentStep = 0 }

// ExecCountCurrentStep is the number of End() calls since the last
// ResetStepCounter.
func (r *Region) ExecCountCurrentStep() uint64 { return r.execCountCurrentStep }

// SetMetrics attaches the process-wide Prometheus collectors. Called
// once by the facade after New; left nil (the zero value) in tests
// that have no need for metrics, which every recording method treats
// as "do nothing."
func (r *Region) SetMetrics(m *observability.Metrics) { r.metrics = m }

// BestPolicies returns the region's current best-known policy per
// feature vector, as last computed by a best-policy reduction.
func (r *Region) BestPolicies() map[string]BestPolicy {
	out := make(map[string]BestPolicy, len(r.bestPolicies))
	for k, v := range r.bestPolicies {
		out[k] = v
	}
	return out
}

// SetBestPolicies installs a freshly computed best-policy table. Used
// by the reducer (C6), which owns the computation but not the region.
func (r *Region) SetBestPolicies(bp map[string]BestPolicy) {
	r.bestPolicies = bp
}

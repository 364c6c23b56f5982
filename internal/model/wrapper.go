package model

import (
	"fmt"
	"sync/atomic"
)

// Wrapper owns the currently-active model for one region (C4). The
// active model is replaced, never mutated: Configure builds a fully
// constructed model and then publishes it with a single atomic pointer
// store, so a concurrent GetIndex never observes a half-installed
// model (§5's ordering guarantee).
type Wrapper struct {
	regionName  string
	numPolicies int
	active      atomic.Pointer[Model]
}

// NewWrapper creates a wrapper already holding an initial model.
func NewWrapper(regionName string, numPolicies int, initial Model) *Wrapper {
	w := &Wrapper{regionName: regionName, numPolicies: numPolicies}
	w.active.Store(&initial)
	return w
}

// GetIndex delegates to the active model.
func (w *Wrapper) GetIndex(features []float64) (int, error) {
	m := w.active.Load()
	if m == nil {
		return 0, fmt.Errorf("model: wrapper for region %q has no active model", w.regionName)
	}
	return (*m).Choose(features)
}

// Active returns the kind of the currently active model, for tests and
// diagnostics.
func (w *Wrapper) Active() Kind {
	m := w.active.Load()
	if m == nil {
		return ""
	}
	return (*m).Kind()
}

// Configure applies a model package to this region, per §4.4: locate
// the entry for this region (exact name or __ANY_REGION__ fallback),
// instantiate the new model, and swap it in. It is a no-op — not an
// error — when the package targets neither this region nor the
// wildcard.
func (w *Wrapper) Configure(pkg Package) error {
	if !pkg.TargetsRegion(w.regionName) {
		return nil
	}
	cfg, err := pkg.ToConfig(w.numPolicies)
	if err != nil {
		return fmt.Errorf("model: region %q: %w", w.regionName, err)
	}
	m, err := New(pkg.Type.Name, cfg)
	if err != nil {
		return fmt.Errorf("model: region %q: %w", w.regionName, err)
	}
	w.active.Store(&m)
	return nil
}

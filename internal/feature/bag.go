// Package feature implements the process-wide ordered feature bag (C1).
package feature

import "sync"

// Bag holds named scalar features in first-insertion order. Once a name
// receives an index it keeps it for the lifetime of the process, so that
// feature vectors produced by Snapshot are directly comparable across
// region invocations.
type Bag struct {
	mu      sync.Mutex
	index   map[string]int
	names   []string
	values  []float64
}

// New returns an empty feature bag.
func New() *Bag {
	return &Bag{index: make(map[string]int)}
}

// Set updates an existing entry in place, or appends a new one.
func (b *Bag) Set(name string, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.index[name]; ok {
		b.values[i] = value
		return
	}
	b.index[name] = len(b.names)
	b.names = append(b.names, name)
	b.values = append(b.values, value)
}

// Get returns the value for name, or 0.0 if it has never been set.
func (b *Bag) Get(name string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.index[name]; ok {
		return b.values[i]
	}
	return 0.0
}

// Snapshot returns the current ordered sequence of values. The returned
// slice is a copy and safe to retain as a measurement key.
func (b *Bag) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float64, len(b.values))
	copy(out, b.values)
	return out
}

// Names returns the current ordered sequence of feature names. Exposed
// for the decision-tree trainer and for diagnostics; not part of the
// measurement key.
func (b *Bag) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Clear empties the current values but preserves name-to-index
// assignments. The spec requires feature-vector ordering to stay stable
// for the lifetime of the process ("once a name receives an index, it
// keeps it") even though the bag is cleared at every region boundary —
// so a cleared slot reads back as 0.0 (same as a name that was never
// set) without disturbing the position a later Set for that name lands
// in.
func (b *Bag) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.values {
		b.values[i] = 0.0
	}
}

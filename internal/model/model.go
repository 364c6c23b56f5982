// Package model implements the policy-selection model hierarchy (C3)
// and the model wrapper that atomically swaps a region's active model
// (C4). Every variant chooses from the feature vector and its own
// internal state only (Random's generator, RoundRobin's and
// Sequential's counters): none of them read or mutate a region's
// measurement table.
package model

import (
	"fmt"
	"math/rand"
)

// Kind names one of the five policy-selection strategies.
type Kind string

const (
	KindRandom       Kind = "Random"
	KindRoundRobin   Kind = "RoundRobin"
	KindSequential   Kind = "Sequential"
	KindStatic       Kind = "Static"
	KindDecisionTree Kind = "DecisionTree"
)

// Model is the shared capability of every policy-selection strategy.
type Model interface {
	// Choose returns a policy index in [0, num_policies) for the given
	// feature vector.
	Choose(features []float64) (int, error)
	Kind() Kind
}

// TreeNode is one node of a serialized decision tree. Internal nodes
// carry Feature/Threshold and Left/Right child indices into the
// node slice; leaves are marked by Left == Right == -1 and carry
// Policy.
type TreeNode struct {
	Feature   int     `mapstructure:"feature"`
	Threshold float64 `mapstructure:"threshold"`
	Left      int     `mapstructure:"left"`
	Right     int     `mapstructure:"right"`
	Policy    int     `mapstructure:"policy"`
}

func (n TreeNode) isLeaf() bool { return n.Left < 0 && n.Right < 0 }

// Config carries every variant-specific field a model factory might
// need. Only the fields relevant to the requested Kind are consulted.
type Config struct {
	NumPolicies  int
	FeatureCount int

	Seed        *int64     // Random
	StaticIndex int        // Static
	TreeNodes   []TreeNode // DecisionTree
}

// New builds a Model of the given kind, validating it against cfg.
// Construction fails closed: a malformed Static or DecisionTree
// configuration is reported rather than silently clamped.
func New(kind Kind, cfg Config) (Model, error) {
	if cfg.NumPolicies <= 0 {
		return nil, fmt.Errorf("model: num_policies must be positive, got %d", cfg.NumPolicies)
	}

	switch kind {
	case KindRandom:
		return newRandom(cfg), nil
	case KindRoundRobin:
		return newRoundRobin(cfg), nil
	case KindSequential:
		return newSequential(cfg), nil
	case KindStatic:
		return newStatic(cfg)
	case KindDecisionTree:
		return newDecisionTree(cfg)
	default:
		return nil, fmt.Errorf("model: unknown kind %q", kind)
	}
}

// --- Random ---

type randomModel struct {
	numPolicies int
	rng         *rand.Rand
}

func newRandom(cfg Config) *randomModel {
	seed := int64(1)
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	return &randomModel{numPolicies: cfg.NumPolicies, rng: rand.New(rand.NewSource(seed))}
}

func (m *randomModel) Kind() Kind { return KindRandom }

func (m *randomModel) Choose(_ []float64) (int, error) {
	return m.rng.Intn(m.numPolicies), nil
}

// --- RoundRobin ---

type roundRobinModel struct {
	numPolicies int
	counter     int
}

func newRoundRobin(cfg Config) *roundRobinModel {
	return &roundRobinModel{numPolicies: cfg.NumPolicies}
}

func (m *roundRobinModel) Kind() Kind { return KindRoundRobin }

func (m *roundRobinModel) Choose(_ []float64) (int, error) {
	idx := m.counter % m.numPolicies
	m.counter++
	return idx, nil
}

// --- Sequential ---

type sequentialModel struct {
	numPolicies int
	counter     int
}

func newSequential(cfg Config) *sequentialModel {
	return &sequentialModel{numPolicies: cfg.NumPolicies}
}

func (m *sequentialModel) Kind() Kind { return KindSequential }

func (m *sequentialModel) Choose(_ []float64) (int, error) {
	idx := m.counter
	if idx > m.numPolicies-1 {
		idx = m.numPolicies - 1
	}
	m.counter++
	return idx, nil
}

// --- Static ---

type staticModel struct {
	index int
}

func newStatic(cfg Config) (*staticModel, error) {
	if cfg.StaticIndex < 0 || cfg.StaticIndex >= cfg.NumPolicies {
		return nil, fmt.Errorf("model: static index %d out of range [0,%d)", cfg.StaticIndex, cfg.NumPolicies)
	}
	return &staticModel{index: cfg.StaticIndex}, nil
}

func (m *staticModel) Kind() Kind { return KindStatic }

func (m *staticModel) Choose(_ []float64) (int, error) {
	return m.index, nil
}

// --- DecisionTree ---

type decisionTreeModel struct {
	nodes       []TreeNode
	numPolicies int
}

func newDecisionTree(cfg Config) (*decisionTreeModel, error) {
	if len(cfg.TreeNodes) == 0 {
		return nil, fmt.Errorf("model: decision tree has no nodes")
	}
	for i, n := range cfg.TreeNodes {
		if n.isLeaf() {
			if n.Policy < 0 || n.Policy >= cfg.NumPolicies {
				return nil, fmt.Errorf("model: decision tree leaf %d policy %d out of range [0,%d)", i, n.Policy, cfg.NumPolicies)
			}
			continue
		}
		if n.Feature < 0 || (cfg.FeatureCount > 0 && n.Feature >= cfg.FeatureCount) {
			return nil, fmt.Errorf("model: decision tree node %d feature index %d out of range", i, n.Feature)
		}
		if n.Left < 0 || n.Left >= len(cfg.TreeNodes) || n.Right < 0 || n.Right >= len(cfg.TreeNodes) {
			return nil, fmt.Errorf("model: decision tree node %d has out-of-range child index", i)
		}
	}
	return &decisionTreeModel{nodes: cfg.TreeNodes, numPolicies: cfg.NumPolicies}, nil
}

func (m *decisionTreeModel) Kind() Kind { return KindDecisionTree }

func (m *decisionTreeModel) Choose(features []float64) (int, error) {
	node := m.nodes[0]
	for !node.isLeaf() {
		val := 0.0
		if node.Feature < len(features) {
			val = features[node.Feature]
		}
		if val <= node.Threshold {
			node = m.nodes[node.Left]
		} else {
			node = m.nodes[node.Right]
		}
	}
	return node.Policy, nil
}

package model

import "fmt"

// AnyRegionSentinel is the region-name wildcard that applies a package
// to every region not explicitly named (§3, §4.7).
const AnyRegionSentinel = "__ANY_REGION__"

// Package is the decoded form of a model-ingest JSON document (§6's
// "Model package JSON"). Parsing the wire JSON into this shape is the
// ingest package's job (internal/ingest); model only consumes it.
type Package struct {
	Driver struct {
		Format string `mapstructure:"format"`
		Rules  string `mapstructure:"rules"`
	} `mapstructure:"driver"`
	Type struct {
		Index int  `mapstructure:"index"`
		Name  Kind `mapstructure:"name"`
	} `mapstructure:"type"`
	RegionNames []string `mapstructure:"region_names"`
	Features    struct {
		Count int      `mapstructure:"count"`
		Names []string `mapstructure:"names"`
	} `mapstructure:"features"`
	Tree []TreeNode `mapstructure:"tree"`
}

// TargetsRegion reports whether this package applies to a region named
// name, honoring the __ANY_REGION__ wildcard.
func (p Package) TargetsRegion(name string) bool {
	for _, n := range p.RegionNames {
		if n == AnyRegionSentinel || n == name {
			return true
		}
	}
	return false
}

// ToConfig projects the package into a model.Config for the given
// region's policy count. The Static model's fixed index travels in
// driver.rules (the original Apollo's default Static package is
// `"driver": {"format": "int", "rules": "0"}` — type.index there is
// the model-type enum value, not a policy choice, so rules is the only
// place in the wire format left to carry it).
func (p Package) ToConfig(numPolicies int) (Config, error) {
	cfg := Config{
		NumPolicies:  numPolicies,
		FeatureCount: p.Features.Count,
		TreeNodes:    p.Tree,
	}
	if p.Type.Name == KindStatic {
		var idx int
		if _, err := fmt.Sscanf(p.Driver.Rules, "%d", &idx); err != nil {
			return cfg, fmt.Errorf("model: static package has non-integer driver.rules %q: %w", p.Driver.Rules, err)
		}
		cfg.StaticIndex = idx
	}
	return cfg, nil
}

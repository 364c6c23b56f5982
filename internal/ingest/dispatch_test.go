package ingest

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/apollo-rt/apollo/internal/feature"
	"github.com/apollo-rt/apollo/internal/model"
	"github.com/apollo-rt/apollo/internal/region"
)

func newRegion(t *testing.T, name string) *region.Region {
	t.Helper()
	bag := feature.New()
	m, err := model.New(model.KindRandom, model.Config{NumPolicies: 4})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	r, err := region.New(name, 4, m, bag)
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	return r
}

func TestDispatchWildcardTargetsEveryRegion(t *testing.T) {
	regions := map[string]*region.Region{
		"A": newRegion(t, "A"),
		"B": newRegion(t, "B"),
		"C": newRegion(t, "C"),
	}
	pkgJSON := []byte(`{
		"driver": {"format": "int", "rules": "1"},
		"type": {"index": 3, "name": "Static"},
		"region_names": ["__ANY_REGION__"],
		"features": {"count": 0, "names": []}
	}`)

	results, err := Dispatch(pkgJSON, regions)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected per-region error: %v", r.Err)
		}
	}
	for name, r := range regions {
		idx, err := r.Model().GetIndex(nil)
		if err != nil {
			t.Fatalf("getindex %s: %v", name, err)
		}
		if idx != 1 {
			t.Fatalf("region %s: expected policy 1 after wildcard attach, got %d", name, idx)
		}
	}
}

func TestDispatchTargetedRegionOnly(t *testing.T) {
	regions := map[string]*region.Region{
		"A": newRegion(t, "A"),
		"B": newRegion(t, "B"),
		"C": newRegion(t, "C"),
	}
	beforeA := regions["A"].Model().Active()
	beforeC := regions["C"].Model().Active()

	pkgJSON := []byte(`{
		"driver": {"format": "int", "rules": "2"},
		"type": {"index": 3, "name": "Static"},
		"region_names": ["B"],
		"features": {"count": 0, "names": []}
	}`)

	results, err := Dispatch(pkgJSON, regions)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 1 || results[0].RegionName != "B" {
		t.Fatalf("expected exactly one result for region B, got %+v", results)
	}

	idxB, _ := regions["B"].Model().GetIndex(nil)
	if idxB != 2 {
		t.Fatalf("expected region B policy 2, got %d", idxB)
	}
	afterA := regions["A"].Model().Active()
	afterC := regions["C"].Model().Active()
	if afterA != beforeA || afterC != beforeC {
		t.Fatalf("untargeted regions must be unchanged")
	}
}

func TestDispatchInvalidJSONReportsWithoutSideEffects(t *testing.T) {
	regions := map[string]*region.Region{"A": newRegion(t, "A")}
	before := regions["A"].Model().Active()

	if _, err := Dispatch([]byte(`not json`), regions); err == nil {
		t.Fatalf("expected parse error")
	}

	after := regions["A"].Model().Active()
	if before != after {
		t.Fatalf("parse failure must not mutate any region's model")
	}
}

func TestRedactForAuditNarrowsRegionNames(t *testing.T) {
	pkg := []byte(`{"region_names": ["__ANY_REGION__"], "type": {"name": "Static"}}`)
	redacted, err := RedactForAudit(pkg, []string{"A", "B"})
	if err != nil {
		t.Fatalf("redact: %v", err)
	}
	if !gjson.GetBytes(redacted, "region_names.0").Exists() {
		t.Fatalf("expected region_names to be set")
	}
	got := gjson.GetBytes(redacted, "region_names").Array()
	if len(got) != 2 || got[0].String() != "A" || got[1].String() != "B" {
		t.Fatalf("unexpected region_names after redaction: %s", redacted)
	}
}

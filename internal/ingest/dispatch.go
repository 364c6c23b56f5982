// Package ingest implements the model-ingest dispatcher (C7): parsing
// an externally delivered JSON model package and routing it to the
// regions it targets.
package ingest

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/apollo-rt/apollo/internal/model"
	"github.com/apollo-rt/apollo/internal/region"
)

// Result reports the outcome of dispatching a package to one region.
type Result struct {
	RegionName string
	Err        error
}

// Dispatch parses pkgBytes as a model package (§6) and, for every
// region in regions that the package targets (by exact name or the
// __ANY_REGION__ wildcard), invokes that region's model wrapper with
// it. A parse failure is reported and no region is touched. A
// per-region configuration failure does not prevent dispatch to the
// remaining regions (§4.7, §7's "Package errors").
//
// Go byte slices already carry their own length, so the "copy into a
// NUL-terminated buffer" step of the original's C interface has no
// idiomatic equivalent here — gjson is handed pkgBytes directly.
func Dispatch(pkgBytes []byte, regions map[string]*region.Region) ([]Result, error) {
	if !gjson.ValidBytes(pkgBytes) {
		return nil, fmt.Errorf("ingest: model package is not valid JSON")
	}

	raw, ok := gjson.ParseBytes(pkgBytes).Value().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("ingest: model package root is not a JSON object")
	}

	var pkg model.Package
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &pkg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("ingest: decoding model package: %w", err)
	}

	var results []Result
	for name, r := range regions {
		if !pkg.TargetsRegion(name) {
			continue
		}
		err := r.Model().Configure(pkg)
		results = append(results, Result{RegionName: name, Err: err})
	}
	return results, nil
}

// RedactForAudit rewrites a model package's region_names to just the
// regions it was actually dispatched to, for audit logging or replay
// in tests — the original package may carry a wildcard or a long list
// that is more useful to a human reader narrowed down to what fired.
func RedactForAudit(pkgBytes []byte, dispatchedTo []string) ([]byte, error) {
	out, err := sjson.SetBytes(pkgBytes, "region_names", dispatchedTo)
	if err != nil {
		return nil, fmt.Errorf("ingest: redacting region_names for audit: %w", err)
	}
	return out, nil
}

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseInitSpec parses the APOLLO_INIT_MODEL environment variable
// format used by the original runtime: "<Kind>" or "<Kind>,<arg>",
// e.g. "Static,0" or "DecisionTree". The optional argument is the
// fixed policy index for Static and is ignored for every other kind.
func ParseInitSpec(spec string) (Kind, int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return KindRandom, 0, nil
	}

	parts := strings.SplitN(spec, ",", 2)
	kind := Kind(strings.TrimSpace(parts[0]))
	switch kind {
	case KindRandom, KindRoundRobin, KindSequential, KindStatic, KindDecisionTree:
	default:
		return "", 0, fmt.Errorf("model: unrecognized init-model kind %q", parts[0])
	}

	if kind != KindStatic || len(parts) < 2 {
		return kind, 0, nil
	}

	idx, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", 0, fmt.Errorf("model: invalid static policy index in init-model spec %q: %w", spec, err)
	}
	return kind, idx, nil
}

package blueprint

import "sort"

// Divergence check weights. Each check contributes its full weight when
// the candidate and live values differ; the sum is clamped to [0, 1].
const (
	weightInterfaceCount = 0.15
	weightInterfaceIDs   = 0.30
	weightPort           = 0.15
	weightGPU            = 0.15
	weightDependencies   = 0.25
)

// DivergenceScore measures how far a candidate blueprint has drifted from
// the live one it would replace. 0 means structurally identical, 1 means
// fully divergent.
func DivergenceScore(candidate, live *Blueprint) float64 {
	score := 0.0

	if len(candidate.Interfaces) != len(live.Interfaces) {
		score += weightInterfaceCount
	}
	if !sameStringSet(interfaceIDs(candidate), interfaceIDs(live)) {
		score += weightInterfaceIDs
	}
	if candidate.Runtime.Port != live.Runtime.Port {
		score += weightPort
	}
	if candidate.Runtime.GPU != live.Runtime.GPU {
		score += weightGPU
	}
	if !sameStringSet(dependencyNames(candidate), dependencyNames(live)) {
		score += weightDependencies
	}

	if score > 1 {
		score = 1
	}
	return score
}

func interfaceIDs(bp *Blueprint) []string {
	ids := make([]string, 0, len(bp.Interfaces))
	for _, iface := range bp.Interfaces {
		ids = append(ids, iface.ID)
	}
	return ids
}

func dependencyNames(bp *Blueprint) []string {
	names := make([]string, 0, len(bp.Dependencies.Services))
	for _, dep := range bp.Dependencies.Services {
		names = append(names, dep.Name)
	}
	return names
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

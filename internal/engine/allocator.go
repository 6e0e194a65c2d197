package engine

import "math"

// reweightShares turns raw scores into allocation fractions summing to 1,
// each within [minFrac, maxFrac]. Negative scores contribute nothing; when
// no score is positive the split is uniform.
func reweightShares(scores []float64, minFrac, maxFrac float64) []float64 {
	n := len(scores)
	if n == 0 {
		return nil
	}

	shares := make([]float64, n)
	var total float64
	for _, s := range scores {
		total += math.Max(0, s)
	}
	if total <= 0 {
		for i := range shares {
			shares[i] = 1.0 / float64(n)
		}
	} else {
		for i, s := range scores {
			shares[i] = math.Max(0, s) / total
		}
	}

	return clampAndNormalize(shares, minFrac, maxFrac)
}

// clampAndNormalize projects shares onto the bounded simplex: each share in
// [minFrac, maxFrac], summing to 1. Shares pinned at a bound stay there
// while the remaining mass is split proportionally among the rest.
func clampAndNormalize(shares []float64, minFrac, maxFrac float64) []float64 {
	n := len(shares)
	if n == 0 {
		return shares
	}
	// infeasible bounds degrade to uniform
	if minFrac*float64(n) > 1 || maxFrac*float64(n) < 1 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}

	out := make([]float64, n)
	copy(out, shares)
	fixed := make([]bool, n)

	for iter := 0; iter < n+1; iter++ {
		changed := false
		var fixedMass, freeMass float64
		for i := range out {
			if fixed[i] {
				fixedMass += out[i]
				continue
			}
			if out[i] < minFrac {
				out[i] = minFrac
				fixed[i] = true
				fixedMass += minFrac
				changed = true
			} else if out[i] > maxFrac {
				out[i] = maxFrac
				fixed[i] = true
				fixedMass += maxFrac
				changed = true
			} else {
				freeMass += out[i]
			}
		}

		remaining := 1 - fixedMass
		if freeMass > 0 && remaining > 0 {
			scale := remaining / freeMass
			for i := range out {
				if !fixed[i] {
					out[i] *= scale
				}
			}
		} else if freeMass == 0 {
			break
		}
		if !changed {
			// rescaling may have pushed a free share out of bounds
			inBounds := true
			for i := range out {
				if !fixed[i] && (out[i] < minFrac-1e-12 || out[i] > maxFrac+1e-12) {
					inBounds = false
				}
			}
			if inBounds {
				break
			}
		}
	}
	return out
}

package sm

import (
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// resample fills dst with indices of surviving particles. Weights must be normalized.
func resample(dst []int, weights []float64, rng *rand.Rand, resamplingType ResamplingType, cum []float64) []int {
	n := len(weights)
	if len(dst) != n {
		dst = make([]int, n)
	}
	if len(cum) < n {
		cum = make([]float64, n)
	}
	switch resamplingType {
	case ResamplingBinaryMultinomial:
		cum = floats.CumSum(cum[:n], weights)
		for i := range dst {
			dst[i] = searchCumulative(cum, rng.Float64()*cum[n-1])
		}
	case ResamplingLinearMultinomial:
		cum = floats.CumSum(cum[:n], weights)
		uniforms := make([]float64, n)
		for i := range uniforms {
			uniforms[i] = rng.Float64() * cum[n-1]
		}
		slices.Sort(uniforms)
		j := 0
		for i, u := range uniforms {
			for j < n-1 && cum[j] <= u {
				j++
			}
			dst[i] = j
		}
	case ResamplingResidual:
		k := 0
		residual := make([]float64, n)
		for i, w := range weights {
			copies := int(float64(n) * w)
			for c := 0; c < copies && k < n; c++ {
				dst[k] = i
				k++
			}
			residual[i] = float64(n)*w - float64(copies)
		}
		if k == n {
			break
		}
		cum = floats.CumSum(cum[:n], residual)
		if cum[n-1] <= 0 {
			// rounding left no residual mass
			cum = floats.CumSum(cum[:n], weights)
		}
		for ; k < n; k++ {
			dst[k] = searchCumulative(cum, rng.Float64()*cum[n-1])
		}
	default:
		for i := range dst {
			dst[i] = i
		}
	}
	return dst
}

// searchCumulative returns the first index whose cumulative weight exceeds u
func searchCumulative(cum []float64, u float64) int {
	idx := sort.Search(len(cum), func(j int) bool { return cum[j] > u })
	if idx >= len(cum) {
		idx = len(cum) - 1
	}
	return idx
}

// effectiveSampleSize is 1 / sum(w^2) of normalized weights
func effectiveSampleSize(weights []float64) float64 {
	sumSq := floats.Dot(weights, weights)
	if sumSq == 0 {
		return 0
	}
	return 1 / sumSq
}

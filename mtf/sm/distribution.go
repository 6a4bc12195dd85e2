package sm

import (
	"math"
	"math/rand/v2"

	"github.com/LdDl/mtf-go/mtf"
)

// Distribution is one Gaussian proposal. Sigma holds a single value when sampling corners.
type Distribution struct {
	Mean     []float64
	Sigma    []float64
	NSamples int
}

// ProcessDistributions resolves sampler configuration into distributions and splits nSamples between them.
//
// Corner based sampling is used when pixSigma is set and its first value is positive, one distribution per value.
// Otherwise there is one distribution per entry of the longer of ssmSigma and ssmMean; the shorter list repeats its last entry.
// Every sigma and mean must hold either one value or exactly stateSize values.
// The split is even and the residual goes to the first distributions, one each.
func ProcessDistributions(component string, ssmSigma, ssmMean [][]float64, pixSigma []float64, nSamples, stateSize int) ([]Distribution, bool, error) {
	if nSamples <= 0 {
		return nil, false, mtf.NewConfigurationError(component, "number of samples must be positive, got %d", nSamples)
	}
	usingPixSigma := len(pixSigma) > 0 && pixSigma[0] > 0

	var distrs []Distribution
	if usingPixSigma {
		distrs = make([]Distribution, len(pixSigma))
		for i, sigma := range pixSigma {
			if !(sigma > 0) || math.IsInf(sigma, 0) {
				return nil, false, mtf.NewConfigurationError(component, "pixel sigma for distribution %d must be positive and finite, got %v", i, sigma)
			}
			distrs[i].Sigma = []float64{sigma}
		}
	} else {
		if len(ssmSigma) == 0 {
			return nil, false, mtf.NewConfigurationError(component, "sigma must be provided for at least one sampler")
		}
		if len(ssmMean) == 0 {
			ssmMean = [][]float64{make([]float64, stateSize)}
		}
		distrs = make([]Distribution, max(len(ssmSigma), len(ssmMean)))
		for i := range distrs {
			sigma, err := broadcast(component, "sigma", i, ssmSigma[min(i, len(ssmSigma)-1)], stateSize)
			if err != nil {
				return nil, false, err
			}
			for j, v := range sigma {
				if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, false, mtf.NewConfigurationError(component, "sigma %d of distribution %d must be non-negative and finite, got %v", j, i, v)
				}
			}
			mean, err := broadcast(component, "mean", i, ssmMean[min(i, len(ssmMean)-1)], stateSize)
			if err != nil {
				return nil, false, err
			}
			distrs[i].Sigma = sigma
			distrs[i].Mean = mean
		}
	}

	counts, err := splitSamples(component, nSamples, len(distrs))
	if err != nil {
		return nil, false, err
	}
	for i := range distrs {
		distrs[i].NSamples = counts[i]
	}
	return distrs, usingPixSigma, nil
}

func broadcast(component, what string, distrID int, v []float64, stateSize int) ([]float64, error) {
	out := make([]float64, stateSize)
	switch len(v) {
	case 1:
		for i := range out {
			out[i] = v[0]
		}
	case stateSize:
		copy(out, v)
	default:
		return nil, mtf.NewConfigurationError(component, "%s for distribution %d has invalid size %d, expected 1 or %d", what, distrID, len(v), stateSize)
	}
	return out, nil
}

func splitSamples(component string, nSamples, nDistr int) ([]int, error) {
	if nDistr <= 0 {
		return nil, mtf.NewConfigurationError(component, "at least one distribution is required")
	}
	perDistr := nSamples / nDistr
	counts := make([]int, nDistr)
	for i := range counts {
		counts[i] = perDistr
	}
	residual := nSamples - nDistr*perDistr
	if residual >= nDistr {
		return nil, mtf.NewLogicError(component, "residual sample count %d exceeds the number of distributions %d", residual, nDistr)
	}
	for i := 0; i < residual; i++ {
		counts[i]++
	}
	return counts, nil
}

// distributionOfSlot maps every sample slot to its distribution, slots of one distribution are contiguous
func distributionOfSlot(distrs []Distribution) []int {
	total := 0
	for _, d := range distrs {
		total += d.NSamples
	}
	slots := make([]int, 0, total)
	for i, d := range distrs {
		for j := 0; j < d.NSamples; j++ {
			slots = append(slots, i)
		}
	}
	return slots
}

// drawPerturbation draws delta from distribution d around the current state of ssm
func drawPerturbation(dst []float64, ssm mtf.StateSpaceModel, rng *rand.Rand, d Distribution, usingPixSigma bool) []float64 {
	if usingPixSigma {
		return ssm.GeneratePixPerturbation(dst, rng, d.Sigma[0])
	}
	return ssm.GeneratePerturbation(dst, rng, d.Mean, d.Sigma)
}

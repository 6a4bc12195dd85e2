package ssm

import (
	"math"
	"math/rand/v2"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/mat"
)

const estimatorName = "isometry-estimator"

// IsometryEstimator fits rigid motion to point correspondences. Implements mtf.WarpEstimator.
type IsometryEstimator struct{}

func NewIsometryEstimator() IsometryEstimator {
	return IsometryEstimator{}
}

func (IsometryEstimator) MinSamples() int { return 2 }

func (IsometryEstimator) RunKernel(src, dst []mtf.Point) (*mat.Dense, error) {
	rg, ok := fitRigid(src, dst)
	if !ok {
		return nil, mtf.NewNumericError(estimatorName, "sample is degenerate")
	}
	return rg.matrix(), nil
}

// Refine refits on all given correspondences. The closed form solution converges in one pass.
func (IsometryEstimator) Refine(src, dst []mtf.Point, warp *mat.Dense, maxIters int) (*mat.Dense, error) {
	if maxIters <= 0 {
		return warp, nil
	}
	rg, ok := fitRigid(src, dst)
	if !ok {
		return warp, nil
	}
	return rg.matrix(), nil
}

// ComputeReprojError writes squared distance between warped src and dst
func (IsometryEstimator) ComputeReprojError(errs []float64, src, dst []mtf.Point, warp *mat.Dense) []float64 {
	if len(errs) != len(src) {
		errs = make([]float64, len(src))
	}
	for i := range src {
		x := warp.At(0, 0)*src[i].X + warp.At(0, 1)*src[i].Y + warp.At(0, 2)
		y := warp.At(1, 0)*src[i].X + warp.At(1, 1)*src[i].Y + warp.At(1, 2)
		dx, dy := x-dst[i].X, y-dst[i].Y
		errs[i] = dx*dx + dy*dy
	}
	return errs
}

// EstimateRobust runs RANSAC with MSAC scoring over the estimator kernel and refines on the consensus set.
// Returns warp mapping in onto out and inlier mask.
func EstimateRobust(in, out []mtf.Point, est mtf.WarpEstimator, params mtf.RobustParams) (*mat.Dense, []bool, error) {
	if len(in) != len(out) {
		return nil, nil, mtf.NewConfigurationError(estimatorName, "point sets differ in size: %d vs %d", len(in), len(out))
	}
	if params.MaxIters <= 0 || params.Threshold <= 0 {
		return nil, nil, mtf.NewConfigurationError(estimatorName, "max iterations and threshold must be positive")
	}
	m := est.MinSamples()
	n := len(in)
	if n < m {
		return nil, nil, mtf.NewNumericError(estimatorName, "need at least %d correspondences, got %d", m, n)
	}

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed))
	threshSq := params.Threshold * params.Threshold
	errs := make([]float64, n)
	sampleIn := make([]mtf.Point, m)
	sampleOut := make([]mtf.Point, m)
	idx := make([]int, m)

	var bestWarp *mat.Dense
	bestScore := math.MaxFloat64
	maxIters := params.MaxIters
	for iter := 0; iter < maxIters; iter++ {
		sampleDistinct(rng, idx, n)
		for k, id := range idx {
			sampleIn[k] = in[id]
			sampleOut[k] = out[id]
		}
		warp, err := est.RunKernel(sampleIn, sampleOut)
		if err != nil {
			continue
		}
		errs = est.ComputeReprojError(errs, in, out, warp)
		score := 0.0
		inliers := 0
		for _, e := range errs {
			if e < threshSq {
				score += e
				inliers++
			} else {
				score += threshSq
			}
		}
		if score < bestScore {
			bestScore = score
			bestWarp = warp
			maxIters = min(maxIters, adaptiveIters(params.Confidence, float64(inliers)/float64(n), m, params.MaxIters))
		}
	}
	if bestWarp == nil {
		return nil, nil, mtf.NewNumericError(estimatorName, "no non-degenerate sample found")
	}

	mask := inlierMask(nil, est.ComputeReprojError(errs, in, out, bestWarp), threshSq)
	var consIn, consOut []mtf.Point
	for i, ok := range mask {
		if ok {
			consIn = append(consIn, in[i])
			consOut = append(consOut, out[i])
		}
	}
	if len(consIn) >= m {
		refined, err := est.Refine(consIn, consOut, bestWarp, params.RefineIters)
		if err == nil {
			bestWarp = refined
			mask = inlierMask(mask, est.ComputeReprojError(errs, in, out, bestWarp), threshSq)
		}
	}
	return bestWarp, mask, nil
}

// adaptiveIters is the number of samples needed to draw an all-inlier sample with given confidence
func adaptiveIters(confidence, inlierRatio float64, sampleSize, maxIters int) int {
	if confidence <= 0 || confidence >= 1 || inlierRatio <= 0 {
		return maxIters
	}
	p := math.Pow(inlierRatio, float64(sampleSize))
	if p >= 1 {
		return 1
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if math.IsNaN(k) || k > float64(maxIters) {
		return maxIters
	}
	return int(math.Ceil(k))
}

func inlierMask(dst []bool, errs []float64, threshSq float64) []bool {
	if len(dst) != len(errs) {
		dst = make([]bool, len(errs))
	}
	for i, e := range errs {
		dst[i] = e < threshSq
	}
	return dst
}

func sampleDistinct(rng *rand.Rand, idx []int, n int) {
	for k := range idx {
	draw:
		for {
			v := rng.IntN(n)
			for _, prev := range idx[:k] {
				if prev == v {
					continue draw
				}
			}
			idx[k] = v
			break
		}
	}
}

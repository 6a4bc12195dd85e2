package mtf

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// StateSpaceModel is a parametric warp family with fixed state size S.
//
// Methods without explicit state argument operate on the current state.
// Methods taking a state are pure and safe for concurrent use.
type StateSpaceModel interface {
	Name() string
	StateSize() int
	// NPts is number of sampled points N
	NPts() int

	// Initialize resets the model to the given corners
	Initialize(corners Corners) error
	State() []float64
	SetState(state []float64)
	Corners() Corners
	// Pts returns warped sampling points for the current state
	Pts() []Point
	// SetCorners moves the current state so that the region best fits corners
	SetCorners(corners Corners) error

	AdditiveUpdate(delta []float64)
	// CompositionalUpdate applies W(state) * W(delta)
	CompositionalUpdate(delta []float64)
	ComposeStates(dst, a, b []float64) []float64
	InvertState(dst, state []float64) []float64
	WarpFromState(state []float64) *mat.Dense
	StateFromWarp(dst []float64, warp mat.Matrix) ([]float64, error)
	WarpPts(dst []Point, state []float64) []Point
	CornersOf(state []float64) Corners

	// CmptPixJacobian fills N x S matrix dI/dp for additive updates
	CmptPixJacobian(dst *mat.Dense, pixGrad [][2]float64)
	// CmptWarpedPixJacobian fills N x S matrix dI/dp for compositional updates
	CmptWarpedPixJacobian(dst *mat.Dense, pixGrad [][2]float64)
	CmptPixHessian(dst []*mat.Dense, pixHess [][3]float64, pixGrad [][2]float64) []*mat.Dense
	CmptWarpedPixHessian(dst []*mat.Dense, pixHess [][3]float64, pixGrad [][2]float64) []*mat.Dense

	// EstimateWarpFromCorners returns delta such that W(state of in) * W(delta) best maps in onto out
	EstimateWarpFromCorners(dst []float64, in, out Corners) ([]float64, error)
	StateFromCorners(dst []float64, corners Corners) ([]float64, error)
	// EstimateWarpFromPts robustly fits a warp mapping in onto out and returns it as state with inlier mask
	EstimateWarpFromPts(dst []float64, in, out []Point, est WarpEstimator, params RobustParams) ([]float64, []bool, error)
	EstimateMeanOfSamples(dst []float64, states [][]float64, weights []float64) []float64

	// GeneratePerturbation draws delta around the current state from N(mean, sigma) (scalar sigma/mean broadcast).
	GeneratePerturbation(dst []float64, rng *rand.Rand, mean, sigma []float64) []float64
	// GeneratePixPerturbation draws delta by jittering the current corners with isotropic sigma
	GeneratePixPerturbation(dst []float64, rng *rand.Rand, sigma float64) []float64
}

// WarpEstimator is the kernel of robust point-correspondence fitting
type WarpEstimator interface {
	// MinSamples is size of a minimal sample
	MinSamples() int
	RunKernel(src, dst []Point) (*mat.Dense, error)
	Refine(src, dst []Point, warp *mat.Dense, maxIters int) (*mat.Dense, error)
	ComputeReprojError(errs []float64, src, dst []Point, warp *mat.Dense) []float64
}

// RobustParams controls RANSAC fitting
type RobustParams struct {
	MaxIters    int
	Threshold   float64
	Confidence  float64
	RefineIters int
	Seed        uint64
}

// DefaultRobustParams returns commonly used values
func DefaultRobustParams() RobustParams {
	return RobustParams{
		MaxIters:    2000,
		Threshold:   3.0,
		Confidence:  0.995,
		RefineIters: 10,
		Seed:        42,
	}
}

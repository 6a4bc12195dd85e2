package mtf

import (
	"gonum.org/v1/gonum/mat"
)

// DistFunc computes distance between two distance features.
// When worst >= 0 implementation may stop early and return any value greater than worst.
type DistFunc func(a, b []float64, worst float64) float64

// Score is read-only evaluation of a candidate patch against the template
type Score struct {
	Similarity    float64
	LogLikelihood float64
	PatchError    float64
}

// AppearanceModel measures similarity between the template and the current patch
// and provides derivatives of the similarity w.r.t. pixel intensities.
//
// Pixel Jacobians are N x S matrices (rows are pixels), pixel Hessians are N matrices of S x S.
// State Hessians written to dst are S x S; dst may be empty (zero value) and will be allocated.
type AppearanceModel interface {
	Name() string
	// PatchSize is N, the number of sampled pixels
	PatchSize() int

	// SetTemplate captures the reference patch. Copies the data.
	SetTemplate(patch []float64)
	Template() []float64
	// SetPatch replaces the current patch. Copies the data.
	SetPatch(patch []float64)
	Patch() []float64

	InitializeSimilarity()
	// UpdateSimilarity recomputes statistics of the current patch.
	// With prereqOnly set only the score is refreshed, otherwise the current gradient too.
	UpdateSimilarity(prereqOnly bool)
	Similarity() float64
	// Likelihood is non-negative and monotonic in Similarity
	Likelihood() float64
	// PatchError is RMS of (patch - template) normalized by the dynamic range
	PatchError() float64

	InitializeGrad()
	UpdateInitGrad()
	// UpdateCurrGrad fills the buffer returned by CurrGrad when UpdateSimilarity(true) left it stale.
	// After UpdateSimilarity(false) it does nothing.
	UpdateCurrGrad()
	// InitGrad is dS/d(template pixel)
	InitGrad() []float64
	// CurrGrad is dS/d(current pixel), a read-only buffer owned by the model and separate from
	// the centered pixel buffer. Valid after UpdateSimilarity(false) or UpdateCurrGrad.
	CurrGrad() []float64

	CmptInitHessian(dst *mat.Dense, initPixJacobian mat.Matrix)
	CmptCurrHessian(dst *mat.Dense, currPixJacobian mat.Matrix)
	CmptInitHessianSecondOrder(dst *mat.Dense, initPixJacobian mat.Matrix, initPixHessian []*mat.Dense)
	CmptCurrHessianSecondOrder(dst *mat.Dense, currPixJacobian mat.Matrix, currPixHessian []*mat.Dense)
	// CmptSelfHessian evaluates Hessian of the template against itself
	CmptSelfHessian(dst *mat.Dense, pixJacobian mat.Matrix)

	InitializeDistFeat()
	UpdateDistFeat()
	DistFeat() []float64
	DistFeatSize() int
	// DistFeatOf computes feature of arbitrary patch without touching model state
	DistFeatOf(dst, patch []float64) []float64
	DistFunc() DistFunc

	// Score evaluates the patch without touching model state. Safe for concurrent use.
	Score(patch []float64) Score
}

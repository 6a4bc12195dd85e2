package am

import (
	"math"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/mat"
)

const ssimName = "ssim"

// SSIMParams configures structural similarity
type SSIMParams struct {
	// K1 stabilizes the luminance term: c1 = (K1*L)^2
	K1 float64
	// K2 stabilizes the contrast/structure term: c2 = (K2*L)^2
	K2 float64
	// DynamicRange is L, the range of pixel values
	DynamicRange float64
	// LikelihoodAlpha is the sharpness of exp(-alpha*(1-S))
	LikelihoodAlpha float64
}

// DefaultSSIMParams returns standard SSIM constants for 8-bit images
func DefaultSSIMParams() SSIMParams {
	return SSIMParams{
		K1:              0.01,
		K2:              0.03,
		DynamicRange:    255.0,
		LikelihoodAlpha: 10.0,
	}
}

// Validate checks parameters
func (p SSIMParams) Validate() error {
	if p.K1 < 0 || p.K2 < 0 {
		return mtf.NewConfigurationError(ssimName, "k1 and k2 must be non-negative, got k1=%v k2=%v", p.K1, p.K2)
	}
	if p.DynamicRange <= 0 {
		return mtf.NewConfigurationError(ssimName, "dynamic range must be positive, got %v", p.DynamicRange)
	}
	if p.LikelihoodAlpha <= 0 {
		return mtf.NewConfigurationError(ssimName, "likelihood alpha must be positive, got %v", p.LikelihoodAlpha)
	}
	return nil
}

// SSIM is the structural similarity appearance model:
//
//	S = ((2*m_t*m_c + c1)(2*cov + c2)) / ((m_t^2 + m_c^2 + c1)(var_t + var_c + c2))
//
// Statistics are population moments over the N sampled pixels.
type SSIM struct {
	params SSIMParams
	n      int
	c1, c2 float64

	template []float64
	patch    []float64

	initStats patchStats
	currStats patchStats
	cov       float64
	terms     ssimTerms

	initGrad []float64
	// own buffer, not a view over currStats.cntr; stale after UpdateSimilarity(true)
	currGrad      []float64
	currGradStale bool

	currFeat []float64
}

// NewSSIM creates model for patches of size patchSize
func NewSSIM(params SSIMParams, patchSize int) (*SSIM, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if patchSize < 2 {
		return nil, mtf.NewConfigurationError(ssimName, "patch size must be at least 2, got %d", patchSize)
	}
	c1 := params.K1 * params.DynamicRange
	c2 := params.K2 * params.DynamicRange
	return &SSIM{
		params:   params,
		n:        patchSize,
		c1:       c1 * c1,
		c2:       c2 * c2,
		template: make([]float64, patchSize),
		patch:    make([]float64, patchSize),
	}, nil
}

// NewSSIMDefault creates model with DefaultSSIMParams
func NewSSIMDefault(patchSize int) *SSIM {
	s, err := NewSSIM(DefaultSSIMParams(), patchSize)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *SSIM) Name() string                { return ssimName }
func (s *SSIM) PatchSize() int              { return s.n }
func (s *SSIM) Params() SSIMParams          { return s.params }
func (s *SSIM) Constants() (c1, c2 float64) { return s.c1, s.c2 }
func (s *SSIM) Template() []float64         { return s.template }
func (s *SSIM) Patch() []float64            { return s.patch }

func (s *SSIM) SetTemplate(patch []float64) {
	copy(s.template, patch)
}

func (s *SSIM) SetPatch(patch []float64) {
	copy(s.patch, patch)
}

// InitializeSimilarity computes template statistics and treats the template as current patch
func (s *SSIM) InitializeSimilarity() {
	s.initStats.compute(s.template)
	copy(s.patch, s.template)
	s.currStats.compute(s.patch)
	s.cov = covariance(s.currStats.cntr, s.initStats.cntr)
	s.terms = newSSIMTerms(&s.currStats, &s.initStats, s.cov, s.c1, s.c2)
	s.currGradStale = true
}

func (s *SSIM) UpdateSimilarity(prereqOnly bool) {
	s.currStats.compute(s.patch)
	s.cov = covariance(s.currStats.cntr, s.initStats.cntr)
	s.terms = newSSIMTerms(&s.currStats, &s.initStats, s.cov, s.c1, s.c2)
	s.currGradStale = true
	if prereqOnly {
		return
	}
	s.fillCurrGrad()
}

func (s *SSIM) fillCurrGrad() {
	if len(s.currGrad) != s.n {
		s.currGrad = make([]float64, s.n)
	}
	s.terms.fillGrad(s.currGrad, s.currStats.cntr, s.initStats.cntr)
	s.currGradStale = false
}

func (s *SSIM) Similarity() float64 {
	return s.terms.value()
}

func (s *SSIM) Likelihood() float64 {
	return math.Exp(-s.params.LikelihoodAlpha * (1 - s.terms.value()))
}

func (s *SSIM) PatchError() float64 {
	return patchError(s.patch, s.template, s.params.DynamicRange)
}

func (s *SSIM) InitializeGrad() {
	s.initGrad = make([]float64, s.n)
	s.currGrad = make([]float64, s.n)
	s.currGradStale = true
}

func (s *SSIM) UpdateInitGrad() {
	if len(s.initGrad) != s.n {
		s.initGrad = make([]float64, s.n)
	}
	t := newSSIMTerms(&s.initStats, &s.currStats, s.cov, s.c1, s.c2)
	t.fillGrad(s.initGrad, s.initStats.cntr, s.currStats.cntr)
}

// UpdateCurrGrad refills the current gradient only when the last UpdateSimilarity skipped it
func (s *SSIM) UpdateCurrGrad() {
	if s.currGradStale || len(s.currGrad) != s.n {
		s.fillCurrGrad()
	}
}

func (s *SSIM) InitGrad() []float64 { return s.initGrad }
func (s *SSIM) CurrGrad() []float64 { return s.currGrad }

func (s *SSIM) CmptInitHessian(dst *mat.Dense, initPixJacobian mat.Matrix) {
	t := newSSIMTerms(&s.initStats, &s.currStats, s.cov, s.c1, s.c2)
	t.stateHessian(dst, initPixJacobian, s.initStats.cntr, s.currStats.cntr)
}

func (s *SSIM) CmptCurrHessian(dst *mat.Dense, currPixJacobian mat.Matrix) {
	s.terms.stateHessian(dst, currPixJacobian, s.currStats.cntr, s.initStats.cntr)
}

func (s *SSIM) CmptInitHessianSecondOrder(dst *mat.Dense, initPixJacobian mat.Matrix, initPixHessian []*mat.Dense) {
	s.CmptInitHessian(dst, initPixJacobian)
	if len(s.initGrad) != s.n {
		s.UpdateInitGrad()
	}
	addGradWeightedHessians(dst, s.initGrad, initPixHessian)
}

func (s *SSIM) CmptCurrHessianSecondOrder(dst *mat.Dense, currPixJacobian mat.Matrix, currPixHessian []*mat.Dense) {
	s.CmptCurrHessian(dst, currPixJacobian)
	s.UpdateCurrGrad()
	addGradWeightedHessians(dst, s.currGrad, currPixHessian)
}

// CmptSelfHessian evaluates the Hessian at zero displacement, i.e. template against itself.
// The gradient vanishes there so no second order pixel terms are needed.
func (s *SSIM) CmptSelfHessian(dst *mat.Dense, pixJacobian mat.Matrix) {
	t := newSSIMTerms(&s.initStats, &s.initStats, s.initStats.variance, s.c1, s.c2)
	t.stateHessian(dst, pixJacobian, s.initStats.cntr, s.initStats.cntr)
}

func (s *SSIM) InitializeDistFeat() {
	s.currFeat = make([]float64, s.DistFeatSize())
}

func (s *SSIM) UpdateDistFeat() {
	s.currFeat = s.DistFeatOf(s.currFeat, s.patch)
}

func (s *SSIM) DistFeat() []float64 { return s.currFeat }

// DistFeatSize is N+2: mean, variance and centered pixels
func (s *SSIM) DistFeatSize() int { return s.n + 2 }

func (s *SSIM) DistFeatOf(dst, patch []float64) []float64 {
	size := len(patch) + 2
	if len(dst) < size {
		dst = make([]float64, size)
	}
	dst = dst[:size]
	st := patchStats{cntr: dst[2:]}
	st.compute(patch)
	dst[0] = st.mean
	dst[1] = st.variance
	return dst
}

func (s *SSIM) DistFunc() mtf.DistFunc {
	return NewSSIMDist(s.c1, s.c2).Distance
}

func (s *SSIM) Score(patch []float64) mtf.Score {
	st := patchStats{cntr: make([]float64, len(patch))}
	st.compute(patch)
	t := newSSIMTerms(&st, &s.initStats, covariance(st.cntr, s.initStats.cntr), s.c1, s.c2)
	f := t.value()
	return mtf.Score{
		Similarity:    f,
		LogLikelihood: -s.params.LikelihoodAlpha * (1 - f),
		PatchError:    patchError(patch, s.template, s.params.DynamicRange),
	}
}

type patchStats struct {
	mean     float64
	variance float64
	cntr     []float64
}

// compute fills statistics. cntr is reused when it has the right length.
func (st *patchStats) compute(patch []float64) {
	n := float64(len(patch))
	if len(st.cntr) != len(patch) {
		st.cntr = make([]float64, len(patch))
	}
	sum := 0.0
	for _, v := range patch {
		sum += v
	}
	st.mean = sum / n
	ss := 0.0
	for i, v := range patch {
		c := v - st.mean
		st.cntr[i] = c
		ss += c * c
	}
	st.variance = ss / n
}

// covariance must accumulate in the same order as patchStats.compute so that covariance(x, x) == variance(x)
func covariance(a, b []float64) float64 {
	ss := 0.0
	for i := range a {
		ss += a[i] * b[i]
	}
	return ss / float64(len(a))
}

func patchError(patch, template []float64, dynamicRange float64) float64 {
	ss := 0.0
	for i := range patch {
		d := patch[i] - template[i]
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(patch))) / dynamicRange
}

// ssimTerms holds S = a*b/(c*d) as seen from one side ("self") of the pair.
// Derivatives are taken w.r.t. pixels of self.
type ssimTerms struct {
	a, b, c, d float64
	selfMean   float64
	otherMean  float64
	n          float64
}

func newSSIMTerms(self, other *patchStats, cov, c1, c2 float64) ssimTerms {
	return ssimTerms{
		a:         2*self.mean*other.mean + c1,
		b:         2*cov + c2,
		c:         self.mean*self.mean + other.mean*other.mean + c1,
		d:         self.variance + other.variance + c2,
		selfMean:  self.mean,
		otherMean: other.mean,
		n:         float64(len(self.cntr)),
	}
}

func (t ssimTerms) value() float64 {
	if t.c == 0 || t.d == 0 {
		return math.NaN()
	}
	return (t.a / t.c) * (t.b / t.d)
}

// gradCoeffs returns coefficients of dS/dx in the basis (1, other centered, self centered)
func (t ssimTerms) gradCoeffs() (g0, g1, g2 float64) {
	rac := t.a / t.c
	rbd := t.b / t.d
	k := rac * 2 / t.n
	g0 = 2 / t.n * rbd * (t.otherMean - t.selfMean*rac) / t.c
	g1 = k / t.d
	g2 = -k * rbd / t.d
	return g0, g1, g2
}

func (t ssimTerms) fillGrad(dst, selfCntr, otherCntr []float64) {
	g0, g1, g2 := t.gradCoeffs()
	for i := range dst {
		dst[i] = g0 + g1*otherCntr[i] + g2*selfCntr[i]
	}
}

// hessCoeffs returns M and kappa such that d2S/dx2 = E*M*E^T + kappa*I
// with E = [1, other centered, self centered].
// S is written as the product a * b * (1/c) * (1/d) and differentiated factor by factor.
func (t ssimTerms) hessCoeffs() (m [3][3]float64, kappa float64) {
	n := t.n
	rac := t.a / t.c
	rbd := t.b / t.d
	pC := t.a * rbd
	pD := t.b * rac

	gA := [3]float64{2 * t.otherMean / n, 0, 0}
	gB := [3]float64{0, 2 / n, 0}
	gC := [3]float64{-(2 * t.selfMean / n) / (t.c * t.c), 0, 0}
	gD := [3]float64{0, 0, -(2 / n) / (t.d * t.d)}

	dc := 2 * t.selfMean / n
	m[0][0] += pC * (2*dc*dc/(t.c*t.c*t.c) - 2/(n*n*t.c*t.c))
	m[2][2] += pD * 2 * (2 / n) * (2 / n) / (t.d * t.d * t.d)
	m[0][0] += pD * (2 / (n * n)) / (t.d * t.d)
	kappa = -pD * (2 / n) / (t.d * t.d)

	pairs := [6]struct {
		p    float64
		u, v [3]float64
	}{
		{1 / (t.c * t.d), gA, gB},
		{rbd, gA, gC},
		{t.b / t.c, gA, gD},
		{t.a / t.d, gB, gC},
		{rac, gB, gD},
		{t.a * t.b, gC, gD},
	}
	for _, pr := range pairs {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m[i][j] += pr.p * (pr.u[i]*pr.v[j] + pr.v[i]*pr.u[j])
			}
		}
	}
	return m, kappa
}

// stateHessian writes J^T (d2S/dx2) J into dst
func (t ssimTerms) stateHessian(dst *mat.Dense, jac mat.Matrix, selfCntr, otherCntr []float64) {
	nPix, sz := jac.Dims()
	v := make([][3]float64, sz)
	for i := 0; i < nPix; i++ {
		for p := 0; p < sz; p++ {
			jip := jac.At(i, p)
			v[p][0] += jip
			v[p][1] += jip * otherCntr[i]
			v[p][2] += jip * selfCntr[i]
		}
	}
	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)

	m, kappa := t.hessCoeffs()
	reuseSquare(dst, sz)
	for p := 0; p < sz; p++ {
		for q := 0; q < sz; q++ {
			h := kappa * jtj.At(p, q)
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					h += v[p][a] * m[a][b] * v[q][b]
				}
			}
			dst.Set(p, q, h)
		}
	}
}

func addGradWeightedHessians(dst *mat.Dense, grad []float64, pixHess []*mat.Dense) {
	for i, h := range pixHess {
		if grad[i] == 0 {
			continue
		}
		var scaled mat.Dense
		scaled.Scale(grad[i], h)
		dst.Add(dst, &scaled)
	}
}

func reuseSquare(dst *mat.Dense, size int) {
	if !dst.IsEmpty() {
		if r, c := dst.Dims(); r == size && c == size {
			return
		}
		dst.Reset()
	}
	dst.ReuseAs(size, size)
}

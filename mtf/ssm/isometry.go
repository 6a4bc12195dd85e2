package ssm

import (
	"math"
	"math/rand/v2"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	isometryName      = "isometry"
	isometryStateSize = 3
)

// IsometryParams configures rigid motion model
type IsometryParams struct {
	// Resx and Resy define sampling grid over the tracked region
	Resx int
	Resy int
	// PtBasedSampling makes GeneratePerturbation jitter corners instead of state parameters
	PtBasedSampling bool
}

// DefaultIsometryParams returns 50x50 sampling grid with state-space sampling
func DefaultIsometryParams() IsometryParams {
	return IsometryParams{
		Resx: 50,
		Resy: 50,
	}
}

// Validate checks parameters
func (p IsometryParams) Validate() error {
	if p.Resx < 2 || p.Resy < 2 {
		return mtf.NewConfigurationError(isometryName, "sampling resolution must be at least 2x2, got %dx%d", p.Resx, p.Resy)
	}
	return nil
}

// Isometry is rotation plus translation: x = R(theta) q + t, with state [tx, ty, theta].
// Base points q are the sampling grid of the initial region centered on its centroid,
// so the initial state is [cx, cy, 0].
type Isometry struct {
	params IsometryParams

	basePts     []mtf.Point
	baseCorners mtf.Corners

	state   []float64
	pts     []mtf.Point
	corners mtf.Corners
}

// NewIsometry creates model. Call Initialize before use.
func NewIsometry(params IsometryParams) (*Isometry, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := params.Resx * params.Resy
	return &Isometry{
		params:  params,
		basePts: make([]mtf.Point, n),
		state:   make([]float64, isometryStateSize),
		pts:     make([]mtf.Point, n),
	}, nil
}

func (ssm *Isometry) Name() string             { return isometryName }
func (ssm *Isometry) StateSize() int           { return isometryStateSize }
func (ssm *Isometry) NPts() int                { return len(ssm.basePts) }
func (ssm *Isometry) Params() IsometryParams   { return ssm.params }
func (ssm *Isometry) State() []float64         { return ssm.state }
func (ssm *Isometry) Corners() mtf.Corners     { return ssm.corners }
func (ssm *Isometry) Pts() []mtf.Point         { return ssm.pts }
func (ssm *Isometry) BaseCorners() mtf.Corners { return ssm.baseCorners }

func (ssm *Isometry) Initialize(corners mtf.Corners) error {
	if !corners.IsFinite() {
		return mtf.NewConfigurationError(isometryName, "initial corners must be finite, got %v", corners)
	}
	r := corners.BoundingRect()
	if r.Width*r.Height <= 0 {
		return mtf.NewConfigurationError(isometryName, "initial corners span zero area: %v", corners)
	}
	centroid := corners.Centroid()
	grid := mtf.PointsInCorners(corners, ssm.params.Resx, ssm.params.Resy)
	for i, p := range grid {
		ssm.basePts[i] = mtf.Point{X: p.X - centroid.X, Y: p.Y - centroid.Y}
	}
	ssm.baseCorners = corners.Translate(-centroid.X, -centroid.Y)
	ssm.state[0], ssm.state[1], ssm.state[2] = centroid.X, centroid.Y, 0
	ssm.refresh()
	return nil
}

func (ssm *Isometry) refresh() {
	ssm.pts = ssm.WarpPts(ssm.pts, ssm.state)
	ssm.corners = ssm.CornersOf(ssm.state)
}

func (ssm *Isometry) SetState(state []float64) {
	ssm.state[0] = state[0]
	ssm.state[1] = state[1]
	ssm.state[2] = normalizeAngle(state[2])
	ssm.refresh()
}

func (ssm *Isometry) SetCorners(corners mtf.Corners) error {
	state, err := ssm.StateFromCorners(nil, corners)
	if err != nil {
		return err
	}
	ssm.SetState(state)
	return nil
}

func (ssm *Isometry) AdditiveUpdate(delta []float64) {
	ssm.state[0] += delta[0]
	ssm.state[1] += delta[1]
	ssm.state[2] = normalizeAngle(ssm.state[2] + delta[2])
	ssm.refresh()
}

func (ssm *Isometry) CompositionalUpdate(delta []float64) {
	ssm.ComposeStates(ssm.state, ssm.state, delta)
	ssm.refresh()
}

// ComposeStates returns state of W(a) * W(b). dst may alias a or b.
func (ssm *Isometry) ComposeStates(dst, a, b []float64) []float64 {
	dst = ensureLen(dst, isometryStateSize)
	c, s := math.Cos(a[2]), math.Sin(a[2])
	tx := c*b[0] - s*b[1] + a[0]
	ty := s*b[0] + c*b[1] + a[1]
	theta := normalizeAngle(a[2] + b[2])
	dst[0], dst[1], dst[2] = tx, ty, theta
	return dst
}

// InvertState returns state of W(state)^-1. dst may alias state.
func (ssm *Isometry) InvertState(dst, state []float64) []float64 {
	dst = ensureLen(dst, isometryStateSize)
	c, s := math.Cos(state[2]), math.Sin(state[2])
	tx := -(c*state[0] + s*state[1])
	ty := -(-s*state[0] + c*state[1])
	dst[0], dst[1], dst[2] = tx, ty, normalizeAngle(-state[2])
	return dst
}

func (ssm *Isometry) WarpFromState(state []float64) *mat.Dense {
	return rigid{theta: state[2], tx: state[0], ty: state[1]}.matrix()
}

func (ssm *Isometry) StateFromWarp(dst []float64, warp mat.Matrix) ([]float64, error) {
	if r, c := warp.Dims(); r != 3 || c != 3 {
		return nil, mtf.NewConfigurationError(isometryName, "warp must be 3x3, got %dx%d", r, c)
	}
	rg, ok := rigidFromMatrix(warp)
	if !ok {
		return nil, mtf.NewNumericError(isometryName, "warp matrix is degenerate")
	}
	dst = ensureLen(dst, isometryStateSize)
	dst[0], dst[1], dst[2] = rg.tx, rg.ty, rg.theta
	return dst, nil
}

func (ssm *Isometry) WarpPts(dst []mtf.Point, state []float64) []mtf.Point {
	if len(dst) != len(ssm.basePts) {
		dst = make([]mtf.Point, len(ssm.basePts))
	}
	rg := rigid{theta: state[2], tx: state[0], ty: state[1]}
	for i, q := range ssm.basePts {
		dst[i] = rg.apply(q)
	}
	return dst
}

func (ssm *Isometry) CornersOf(state []float64) mtf.Corners {
	var out mtf.Corners
	rg := rigid{theta: state[2], tx: state[0], ty: state[1]}
	for i, q := range ssm.baseCorners {
		out[i] = rg.apply(q)
	}
	return out
}

// CmptPixJacobian: columns are dx/dtx = (1, 0), dx/dty = (0, 1), dx/dtheta = R'(theta) q
func (ssm *Isometry) CmptPixJacobian(dst *mat.Dense, pixGrad [][2]float64) {
	c, s := math.Cos(ssm.state[2]), math.Sin(ssm.state[2])
	reuseDims(dst, len(ssm.basePts), isometryStateSize)
	for i, q := range ssm.basePts {
		gx, gy := pixGrad[i][0], pixGrad[i][1]
		dxdt := -s*q.X - c*q.Y
		dydt := c*q.X - s*q.Y
		dst.Set(i, 0, gx)
		dst.Set(i, 1, gy)
		dst.Set(i, 2, gx*dxdt+gy*dydt)
	}
}

// CmptWarpedPixJacobian differentiates W(state) * W(delta) at delta = 0:
// translation columns are rotated, the angle column is the same as for additive updates.
func (ssm *Isometry) CmptWarpedPixJacobian(dst *mat.Dense, pixGrad [][2]float64) {
	c, s := math.Cos(ssm.state[2]), math.Sin(ssm.state[2])
	reuseDims(dst, len(ssm.basePts), isometryStateSize)
	for i, q := range ssm.basePts {
		gx, gy := pixGrad[i][0], pixGrad[i][1]
		dxdt := -s*q.X - c*q.Y
		dydt := c*q.X - s*q.Y
		dst.Set(i, 0, gx*c+gy*s)
		dst.Set(i, 1, -gx*s+gy*c)
		dst.Set(i, 2, gx*dxdt+gy*dydt)
	}
}

func (ssm *Isometry) CmptPixHessian(dst []*mat.Dense, pixHess [][3]float64, pixGrad [][2]float64) []*mat.Dense {
	return ssm.cmptPixHessian(dst, pixHess, pixGrad, false)
}

func (ssm *Isometry) CmptWarpedPixHessian(dst []*mat.Dense, pixHess [][3]float64, pixGrad [][2]float64) []*mat.Dense {
	return ssm.cmptPixHessian(dst, pixHess, pixGrad, true)
}

// cmptPixHessian computes d2I/dp2 = Jx^T (d2I/dx2) Jx + sum_k dI/dx_k * d2x_k/dp2.
// The only non-zero second derivative of the warp is d2x/dtheta2 = -(x - t), in both update modes.
func (ssm *Isometry) cmptPixHessian(dst []*mat.Dense, pixHess [][3]float64, pixGrad [][2]float64, warped bool) []*mat.Dense {
	n := len(ssm.basePts)
	if len(dst) != n {
		dst = make([]*mat.Dense, n)
	}
	c, s := math.Cos(ssm.state[2]), math.Sin(ssm.state[2])
	jx := mat.NewDense(2, isometryStateSize, nil)
	d2 := mat.NewDense(2, 2, nil)
	var tmp mat.Dense
	for i, q := range ssm.basePts {
		if dst[i] == nil {
			dst[i] = mat.NewDense(isometryStateSize, isometryStateSize, nil)
		}
		if warped {
			jx.Set(0, 0, c)
			jx.Set(1, 0, s)
			jx.Set(0, 1, -s)
			jx.Set(1, 1, c)
		} else {
			jx.Set(0, 0, 1)
			jx.Set(1, 0, 0)
			jx.Set(0, 1, 0)
			jx.Set(1, 1, 1)
		}
		rx := c*q.X - s*q.Y
		ry := s*q.X + c*q.Y
		jx.Set(0, 2, -ry)
		jx.Set(1, 2, rx)

		d2.Set(0, 0, pixHess[i][0])
		d2.Set(0, 1, pixHess[i][1])
		d2.Set(1, 0, pixHess[i][1])
		d2.Set(1, 1, pixHess[i][2])

		tmp.Reset()
		tmp.Mul(d2, jx)
		dst[i].Mul(jx.T(), &tmp)
		dst[i].Set(2, 2, dst[i].At(2, 2)-pixGrad[i][0]*rx-pixGrad[i][1]*ry)
	}
	return dst
}

// StateFromCorners fits the state whose corners best match corners in least squares sense
func (ssm *Isometry) StateFromCorners(dst []float64, corners mtf.Corners) ([]float64, error) {
	if !corners.IsFinite() {
		return nil, mtf.NewNumericError(isometryName, "corners are not finite")
	}
	rg, ok := fitRigid(ssm.baseCorners[:], corners[:])
	if !ok {
		return nil, mtf.NewNumericError(isometryName, "corners are degenerate")
	}
	dst = ensureLen(dst, isometryStateSize)
	dst[0], dst[1], dst[2] = rg.tx, rg.ty, normalizeAngle(rg.theta)
	return dst, nil
}

// EstimateWarpFromCorners returns delta with W(s_in) * W(delta) = W(s_out)
// where s_in and s_out are states fitted to in and out.
func (ssm *Isometry) EstimateWarpFromCorners(dst []float64, in, out mtf.Corners) ([]float64, error) {
	sIn, err := ssm.StateFromCorners(nil, in)
	if err != nil {
		return nil, err
	}
	sOut, err := ssm.StateFromCorners(nil, out)
	if err != nil {
		return nil, err
	}
	inv := ssm.InvertState(nil, sIn)
	return ssm.ComposeStates(dst, inv, sOut), nil
}

// EstimateWarpFromPts fits image-space rigid motion H mapping in onto out with RANSAC.
// Returned delta satisfies W(state) * W(delta) = H * W(state), i.e. CompositionalUpdate(delta) moves the region by H.
func (ssm *Isometry) EstimateWarpFromPts(dst []float64, in, out []mtf.Point, est mtf.WarpEstimator, params mtf.RobustParams) ([]float64, []bool, error) {
	if est == nil {
		est = NewIsometryEstimator()
	}
	warp, mask, err := EstimateRobust(in, out, est, params)
	if err != nil {
		return nil, nil, err
	}
	h, err := ssm.StateFromWarp(nil, warp)
	if err != nil {
		return nil, nil, err
	}
	inv := ssm.InvertState(nil, ssm.state)
	tmp := ssm.ComposeStates(nil, inv, h)
	return ssm.ComposeStates(dst, tmp, ssm.state), mask, nil
}

// EstimateMeanOfSamples averages translation linearly and angle on the circle. Nil weights mean uniform.
func (ssm *Isometry) EstimateMeanOfSamples(dst []float64, states [][]float64, weights []float64) []float64 {
	dst = ensureLen(dst, isometryStateSize)
	n := len(states)
	if n == 0 {
		copy(dst, ssm.state)
		return dst
	}
	var tx, ty, sinSum, cosSum, wSum float64
	for i, st := range states {
		w := 1.0 / float64(n)
		if weights != nil {
			w = weights[i]
		}
		tx += w * st[0]
		ty += w * st[1]
		sinSum += w * math.Sin(st[2])
		cosSum += w * math.Cos(st[2])
		wSum += w
	}
	if wSum > 0 {
		tx /= wSum
		ty /= wSum
	}
	dst[0], dst[1] = tx, ty
	dst[2] = math.Atan2(sinSum, cosSum)
	return dst
}

func (ssm *Isometry) GeneratePerturbation(dst []float64, rng *rand.Rand, mean, sigma []float64) []float64 {
	if ssm.params.PtBasedSampling {
		return ssm.GeneratePixPerturbation(dst, rng, sigma[0])
	}
	dst = ensureLen(dst, isometryStateSize)
	for i := range dst {
		m := 0.0
		if len(mean) == 1 {
			m = mean[0]
		} else if len(mean) > i {
			m = mean[i]
		}
		sd := sigma[0]
		if len(sigma) > i {
			sd = sigma[i]
		}
		dst[i] = m + sd*rng.NormFloat64()
	}
	dst[2] = normalizeAngle(dst[2])
	return dst
}

func (ssm *Isometry) GeneratePixPerturbation(dst []float64, rng *rand.Rand, sigma float64) []float64 {
	perturbed := ssm.corners
	for i := range perturbed {
		perturbed[i].X += sigma * rng.NormFloat64()
		perturbed[i].Y += sigma * rng.NormFloat64()
	}
	delta, err := ssm.EstimateWarpFromCorners(dst, ssm.corners, perturbed)
	if err != nil || floats.HasNaN(delta) {
		dst = ensureLen(dst, isometryStateSize)
		for i := range dst {
			dst[i] = 0
		}
		return dst
	}
	return delta
}

func ensureLen(dst []float64, n int) []float64 {
	if len(dst) != n {
		return make([]float64, n)
	}
	return dst
}

func reuseDims(dst *mat.Dense, r, c int) {
	if !dst.IsEmpty() {
		if rr, cc := dst.Dims(); rr == r && cc == c {
			return
		}
		dst.Reset()
	}
	dst.ReuseAs(r, c)
}

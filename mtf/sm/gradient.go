package sm

import (
	"math"
	"time"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GradientSearch maximizes appearance similarity with Newton iterations over the warp state
type GradientSearch struct {
	params GradientParams
	am     mtf.AppearanceModel
	ssm    mtf.StateSpaceModel
	opts   options

	initialized bool
	frame       int
	iters       int
	prevCorners mtf.Corners

	patch       []float64
	pixGrad     [][2]float64
	pixHess     [][3]float64
	pixJac      mat.Dense
	pixHessians []*mat.Dense
	// self Hessian of the template computed at initialization
	initHessian mat.Dense
	hessian     mat.Dense
	jac         mat.VecDense
	rhs         mat.VecDense
	delta       mat.VecDense
	lu          mat.LU
	step        []float64
	backup      []float64
}

// NewGradientSearch creates gradient search over the given models
func NewGradientSearch(am mtf.AppearanceModel, ssm mtf.StateSpaceModel, params GradientParams, optFns ...Option) (*GradientSearch, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := checkModels(gradientName, am, ssm); err != nil {
		return nil, err
	}
	return &GradientSearch{
		params: params,
		am:     am,
		ssm:    ssm,
		opts:   newOptions(gradientName, optFns),
		step:   make([]float64, ssm.StateSize()),
		backup: make([]float64, ssm.StateSize()),
	}, nil
}

func (gs *GradientSearch) Name() string             { return gradientName }
func (gs *GradientSearch) AM() mtf.AppearanceModel  { return gs.am }
func (gs *GradientSearch) SSM() mtf.StateSpaceModel { return gs.ssm }
func (gs *GradientSearch) Corners() mtf.Corners     { return gs.ssm.Corners() }
func (gs *GradientSearch) PrevCorners() mtf.Corners { return gs.prevCorners }
func (gs *GradientSearch) Params() GradientParams   { return gs.params }

// Iterations returns number of iterations made by the last Update
func (gs *GradientSearch) Iterations() int { return gs.iters }

// Initialize captures the template and precomputes its self Hessian
func (gs *GradientSearch) Initialize(img mtf.Image, corners mtf.Corners) error {
	// stays false unless the new region is fully set up
	gs.initialized = false
	if err := gs.ssm.Initialize(corners); err != nil {
		return err
	}
	pts := gs.ssm.Pts()
	gs.patch = mtf.ExtractPatch(gs.patch, img, pts)
	if floats.HasNaN(gs.patch) {
		return mtf.NewNumericError(gradientName, "template contains NaN intensities")
	}
	gs.am.SetTemplate(gs.patch)
	gs.am.InitializeSimilarity()
	gs.am.InitializeGrad()
	gs.am.UpdateInitGrad()

	gs.pixGrad = mtf.PatchGradient(gs.pixGrad, img, pts)
	gs.cmptPixJacobian()
	gs.am.CmptSelfHessian(&gs.initHessian, &gs.pixJac)

	gs.prevCorners = gs.ssm.Corners()
	gs.frame = 0
	gs.iters = 0
	gs.initialized = true
	gs.opts.logger.Debug("initialized", "corners", corners, "hessian", gs.params.HessType.String())
	return nil
}

// Update runs Newton iterations on img. On error the state is rolled back to the previous frame.
func (gs *GradientSearch) Update(img mtf.Image) error {
	if !gs.initialized {
		return mtf.NewLogicError(gradientName, "update called before initialize")
	}
	start := time.Now()
	gs.frame++
	gs.prevCorners = gs.ssm.Corners()
	copy(gs.backup, gs.ssm.State())

	iters, err := gs.iterate(img)
	gs.iters = iters
	if err != nil {
		gs.ssm.SetState(gs.backup)
	}
	gs.opts.collector.RecordFrame(gradientName, gs.frame, iters, time.Since(start), err)
	gs.opts.logger.LogFrame(gs.frame, iters, err)
	return err
}

func (gs *GradientSearch) iterate(img mtf.Image) (int, error) {
	for i := 0; i < gs.params.MaxIters; i++ {
		pts := gs.ssm.Pts()
		gs.patch = mtf.ExtractPatch(gs.patch, img, pts)
		gs.am.SetPatch(gs.patch)
		gs.am.UpdateSimilarity(false)
		gs.am.UpdateCurrGrad()

		gs.pixGrad = mtf.PatchGradient(gs.pixGrad, img, pts)
		gs.cmptPixJacobian()

		// d(similarity)/d(state) = J^T * d(similarity)/d(pixels)
		grad := mat.NewVecDense(len(gs.am.CurrGrad()), gs.am.CurrGrad())
		gs.jac.MulVec(gs.pixJac.T(), grad)

		hessian := &gs.hessian
		switch gs.params.HessType {
		case HessInitialSelf:
			hessian = &gs.initHessian
		case HessCurrentSelf:
			gs.am.CmptSelfHessian(&gs.hessian, &gs.pixJac)
		case HessStd:
			gs.am.CmptCurrHessian(&gs.hessian, &gs.pixJac)
		case HessSecondOrder:
			gs.pixHess = mtf.PatchHessian(gs.pixHess, img, pts)
			if gs.params.UpdateType == UpdateCompositional {
				gs.pixHessians = gs.ssm.CmptWarpedPixHessian(gs.pixHessians, gs.pixHess, gs.pixGrad)
			} else {
				gs.pixHessians = gs.ssm.CmptPixHessian(gs.pixHessians, gs.pixHess, gs.pixGrad)
			}
			gs.am.CmptCurrHessianSecondOrder(&gs.hessian, &gs.pixJac, gs.pixHessians)
		}

		if err := gs.solve(hessian); err != nil {
			return i + 1, err
		}
		if gs.params.UpdateType == UpdateCompositional {
			gs.ssm.CompositionalUpdate(gs.step)
		} else {
			gs.ssm.AdditiveUpdate(gs.step)
		}

		stepNorm := floats.Norm(gs.step, 2)
		gs.opts.collector.RecordIteration(gradientName, gs.frame, i+1, stepNorm)
		if stepNorm < gs.params.Epsilon {
			return i + 1, nil
		}
	}
	return gs.params.MaxIters, nil
}

func (gs *GradientSearch) cmptPixJacobian() {
	if gs.params.UpdateType == UpdateCompositional {
		gs.ssm.CmptWarpedPixJacobian(&gs.pixJac, gs.pixGrad)
		return
	}
	gs.ssm.CmptPixJacobian(&gs.pixJac, gs.pixGrad)
}

// solve finds step of hessian * step = -jac
func (gs *GradientSearch) solve(hessian *mat.Dense) error {
	if floats.HasNaN(hessian.RawMatrix().Data) {
		return mtf.NewNumericError(gradientName, "hessian contains NaN")
	}
	if mat.Norm(hessian, 1) == 0 {
		return mtf.NewNumericError(gradientName, "hessian is zero, region has no texture")
	}
	gs.lu.Factorize(hessian)
	cond := gs.lu.Cond()
	if math.IsNaN(cond) || cond > gs.params.MaxCond {
		return mtf.NewNumericError(gradientName, "hessian is ill-conditioned, condition number %g exceeds %g", cond, gs.params.MaxCond)
	}
	gs.rhs.ScaleVec(-1, &gs.jac)
	if err := gs.lu.SolveVecTo(&gs.delta, false, &gs.rhs); err != nil {
		return mtf.NewNumericError(gradientName, "newton step solve failed: %v", err)
	}
	copy(gs.step, gs.delta.RawVector().Data)
	for _, v := range gs.step {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return mtf.NewNumericError(gradientName, "newton step is not finite: %v", gs.step)
		}
	}
	return nil
}

// SetRegion moves the region without recapturing the template
func (gs *GradientSearch) SetRegion(corners mtf.Corners) error {
	if !gs.initialized {
		return mtf.NewLogicError(gradientName, "set region called before initialize")
	}
	gs.prevCorners = gs.ssm.Corners()
	return gs.ssm.SetCorners(corners)
}

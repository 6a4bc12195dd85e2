package sm

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/floats"
)

// ParticleSearch is a particle filter over the warp state.
//
// Every particle slot belongs to one proposal distribution for the filter lifetime.
type ParticleSearch struct {
	params        ParticleParams
	am            mtf.AppearanceModel
	ssm           mtf.StateSpaceModel
	opts          options
	distrs        []Distribution
	usingPixSigma bool
	// slot -> distribution
	slots []int

	stateSize int
	rng       *rand.Rand

	// row-major particle states and views into them
	states    []float64
	particles [][]float64
	// last applied displacement of every particle, used by AutoRegression1
	arStates    []float64
	ar          [][]float64
	logWeights  []float64
	weights     []float64
	distrWts    []float64
	mean        []float64
	ess         float64
	resamples   int
	initialized bool
	frame       int
	iters       int
	prevCorners mtf.Corners

	noise       []float64
	delta       []float64
	resampleIdx []int
	cum         []float64
	bufStates   []float64
	bufAR       []float64
	cornersBuf  []mtf.Corners
	backup      particleBackup
}

type particleBackup struct {
	state    []float64
	states   []float64
	ar       []float64
	weights  []float64
	distrWts []float64
}

// NewParticleSearch validates configuration and resolves proposal distributions
func NewParticleSearch(am mtf.AppearanceModel, ssm mtf.StateSpaceModel, params ParticleParams, optFns ...Option) (*ParticleSearch, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := checkModels(particleName, am, ssm); err != nil {
		return nil, err
	}
	stateSize := ssm.StateSize()
	distrs, usingPixSigma, err := ProcessDistributions(particleName, params.SSMSigma, params.SSMMean, params.PixSigma, params.NParticles, stateSize)
	if err != nil {
		return nil, err
	}
	n := params.NParticles
	ps := &ParticleSearch{
		params:        params,
		am:            am,
		ssm:           ssm,
		opts:          newOptions(particleName, optFns),
		distrs:        distrs,
		usingPixSigma: usingPixSigma,
		slots:         distributionOfSlot(distrs),
		stateSize:     stateSize,
		states:        make([]float64, n*stateSize),
		particles:     make([][]float64, n),
		arStates:      make([]float64, n*stateSize),
		ar:            make([][]float64, n),
		logWeights:    make([]float64, n),
		weights:       make([]float64, n),
		distrWts:      make([]float64, len(distrs)),
		mean:          make([]float64, stateSize),
		noise:         make([]float64, stateSize),
		delta:         make([]float64, stateSize),
		cum:           make([]float64, n),
		bufStates:     make([]float64, n*stateSize),
		bufAR:         make([]float64, n*stateSize),
	}
	for i := 0; i < n; i++ {
		ps.particles[i] = ps.states[i*stateSize : (i+1)*stateSize : (i+1)*stateSize]
		ps.ar[i] = ps.arStates[i*stateSize : (i+1)*stateSize : (i+1)*stateSize]
	}
	ps.opts.logger.Debug("distributions processed",
		"distributions", len(distrs),
		"pix_sigma", usingPixSigma,
		"particles", n,
	)
	return ps, nil
}

func (ps *ParticleSearch) Name() string             { return particleName }
func (ps *ParticleSearch) AM() mtf.AppearanceModel  { return ps.am }
func (ps *ParticleSearch) SSM() mtf.StateSpaceModel { return ps.ssm }
func (ps *ParticleSearch) Corners() mtf.Corners     { return ps.ssm.Corners() }
func (ps *ParticleSearch) PrevCorners() mtf.Corners { return ps.prevCorners }

// Distributions returns resolved proposal distributions
func (ps *ParticleSearch) Distributions() []Distribution { return ps.distrs }

// Weights returns normalized particle weights. Read-only view.
func (ps *ParticleSearch) Weights() []float64 { return ps.weights }

// Particles returns particle states. Read-only view.
func (ps *ParticleSearch) Particles() [][]float64 { return ps.particles }

// DistributionWeights returns current prior weights of proposal distributions
func (ps *ParticleSearch) DistributionWeights() []float64 { return ps.distrWts }

// EffectiveSampleSize of the last weighting step
func (ps *ParticleSearch) EffectiveSampleSize() float64 { return ps.ess }

// ResampleCount is how many times the particle set was replaced since Initialize
func (ps *ParticleSearch) ResampleCount() int { return ps.resamples }

// Initialize captures the template and places every particle at the initial state
func (ps *ParticleSearch) Initialize(img mtf.Image, corners mtf.Corners) error {
	// stays false unless the new region is fully set up
	ps.initialized = false
	if err := ps.ssm.Initialize(corners); err != nil {
		return err
	}
	patch := mtf.ExtractPatch(nil, img, ps.ssm.Pts())
	ps.am.SetTemplate(patch)
	ps.am.InitializeSimilarity()

	ps.rng = rand.New(rand.NewPCG(ps.params.Seed, ps.params.Seed))
	ps.resetParticles(ps.ssm.State())
	for i := range ps.arStates {
		ps.arStates[i] = 0
	}
	uniform := 1 / float64(ps.params.NParticles)
	for i := range ps.weights {
		ps.weights[i] = uniform
	}
	for i := range ps.distrWts {
		ps.distrWts[i] = 1
	}
	ps.ess = float64(ps.params.NParticles)
	ps.resamples = 0
	ps.frame = 0
	ps.prevCorners = ps.ssm.Corners()
	ps.initialized = true
	return nil
}

func (ps *ParticleSearch) resetParticles(state []float64) {
	for _, p := range ps.particles {
		copy(p, state)
	}
}

// Update runs propagate, weight, estimate and resample steps until the estimate settles
func (ps *ParticleSearch) Update(img mtf.Image) error {
	if !ps.initialized {
		return mtf.NewLogicError(particleName, "update called before initialize")
	}
	start := time.Now()
	ps.frame++
	ps.prevCorners = ps.ssm.Corners()
	ps.saveBackup()

	iters, err := ps.iterate(img)
	ps.iters = iters
	if err != nil {
		ps.restoreBackup()
	}
	ps.opts.collector.RecordFrame(particleName, ps.frame, iters, time.Since(start), err)
	ps.opts.logger.LogFrame(ps.frame, iters, err)
	return err
}

func (ps *ParticleSearch) iterate(img mtf.Image) (int, error) {
	for i := 0; i < ps.params.MaxIters; i++ {
		before := ps.ssm.Corners()
		ps.propagate()
		if err := ps.weigh(img); err != nil {
			return i + 1, err
		}
		if err := ps.estimate(); err != nil {
			return i + 1, err
		}
		if ps.params.ResetToMean {
			ps.resetParticles(ps.mean)
		}
		if ps.params.UpdateDistrWts {
			ps.updateDistrWts()
		}
		ps.maybeResample()

		change := ps.ssm.Corners().MaxDeviation(before)
		ps.opts.collector.RecordIteration(particleName, ps.frame, i+1, change)
		if change < ps.params.Epsilon {
			return i + 1, nil
		}
	}
	return ps.params.MaxIters, nil
}

// propagate draws every random number sequentially in slot order
func (ps *ParticleSearch) propagate() {
	for i, p := range ps.particles {
		d := ps.distrs[ps.slots[i]]
		ps.noise = drawPerturbation(ps.noise, ps.ssm, ps.rng, d, ps.usingPixSigma)
		if ps.params.DynamicModel == DynamicAutoRegression1 {
			ps.combine(ps.delta, ps.ar[i], ps.noise)
		} else {
			copy(ps.delta, ps.noise)
		}
		ps.combine(p, p, ps.delta)
		if ps.params.DynamicModel == DynamicAutoRegression1 {
			copy(ps.ar[i], ps.delta)
		}
	}
}

// combine applies b on top of a according to the update type. dst may alias a.
func (ps *ParticleSearch) combine(dst, a, b []float64) {
	if ps.params.UpdateType == UpdateCompositional {
		ps.ssm.ComposeStates(dst, a, b)
		return
	}
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

func (ps *ParticleSearch) logLikelihood(score mtf.Score) float64 {
	switch ps.params.LikelihoodFunc {
	case LikelihoodGaussian:
		e := score.PatchError / ps.params.MeasurementSigma
		return -0.5 * e * e
	case LikelihoodReciprocal:
		return -math.Log1p(score.PatchError / ps.params.MeasurementSigma)
	default:
		return score.LogLikelihood
	}
}

// weigh evaluates particles concurrently and normalizes weights in the log domain
func (ps *ParticleSearch) weigh(img mtf.Image) error {
	err := parallelRange(len(ps.particles), ps.params.Workers, func(lo, hi int) error {
		var pts []mtf.Point
		var patch []float64
		for i := lo; i < hi; i++ {
			pts = ps.ssm.WarpPts(pts, ps.particles[i])
			patch = mtf.ExtractPatch(patch, img, pts)
			lw := ps.logLikelihood(ps.am.Score(patch))
			if ps.params.UpdateDistrWts {
				lw += math.Log(ps.distrWts[ps.slots[i]])
			}
			if math.IsNaN(lw) {
				lw = math.Inf(-1)
			}
			ps.logWeights[i] = lw
		}
		return nil
	})
	if err != nil {
		return err
	}
	lse := floats.LogSumExp(ps.logWeights)
	if math.IsInf(lse, 0) || math.IsNaN(lse) {
		return mtf.NewNumericError(particleName, "all particle likelihoods are degenerate")
	}
	for i, lw := range ps.logWeights {
		ps.weights[i] = math.Exp(lw - lse)
	}
	ps.ess = effectiveSampleSize(ps.weights)
	return nil
}

func (ps *ParticleSearch) estimate() error {
	switch ps.params.MeanType {
	case MeanNone:
		copy(ps.mean, ps.particles[floats.MaxIdx(ps.weights)])
	case MeanCorners:
		if len(ps.cornersBuf) != len(ps.particles) {
			ps.cornersBuf = make([]mtf.Corners, len(ps.particles))
		}
		for i, p := range ps.particles {
			ps.cornersBuf[i] = ps.ssm.CornersOf(p)
		}
		meanCorners := mtf.MeanCorners(ps.cornersBuf, ps.weights)
		if _, err := ps.ssm.StateFromCorners(ps.mean, meanCorners); err != nil {
			return mtf.NewNumericError(particleName, "mean corners %v do not map to a state: %v", meanCorners, err)
		}
	default:
		ps.ssm.EstimateMeanOfSamples(ps.mean, ps.particles, ps.weights)
	}
	if floats.HasNaN(ps.mean) {
		return mtf.NewNumericError(particleName, "mean state is not finite: %v", ps.mean)
	}
	ps.ssm.SetState(ps.mean)
	return nil
}

// updateDistrWts scales every distribution by its weight mass relative to its share of particles
func (ps *ParticleSearch) updateDistrWts() {
	n := float64(len(ps.particles))
	mass := make([]float64, len(ps.distrs))
	for i, w := range ps.weights {
		mass[ps.slots[i]] += w
	}
	for k, d := range ps.distrs {
		if d.NSamples == 0 {
			continue
		}
		ps.distrWts[k] = math.Max(ps.params.MinDistrWt, mass[k]*n/float64(d.NSamples))
	}
}

// maybeResample evaluates degeneracy every time, resampling happens only when a strategy is configured
func (ps *ParticleSearch) maybeResample() {
	n := len(ps.particles)
	degenerate := ps.params.AdaptiveResamplingThresh == 0 || ps.ess < ps.params.AdaptiveResamplingThresh*float64(n)
	resampled := ps.params.ResamplingType != ResamplingNone && degenerate
	ps.opts.collector.RecordResample(particleName, ps.frame, ps.ess, resampled)
	if !resampled {
		return
	}

	ps.resampleIdx = resample(ps.resampleIdx, ps.weights, ps.rng, ps.params.ResamplingType, ps.cum)
	s := ps.stateSize
	for i, src := range ps.resampleIdx {
		copy(ps.bufStates[i*s:(i+1)*s], ps.particles[src])
		copy(ps.bufAR[i*s:(i+1)*s], ps.ar[src])
	}
	copy(ps.states, ps.bufStates)
	copy(ps.arStates, ps.bufAR)
	uniform := 1 / float64(n)
	for i := range ps.weights {
		ps.weights[i] = uniform
	}
	ps.resamples++
}

// saveBackup keeps everything a failed frame may modify except the random generator
func (ps *ParticleSearch) saveBackup() {
	b := &ps.backup
	b.state = append(b.state[:0], ps.ssm.State()...)
	b.states = append(b.states[:0], ps.states...)
	b.ar = append(b.ar[:0], ps.arStates...)
	b.weights = append(b.weights[:0], ps.weights...)
	b.distrWts = append(b.distrWts[:0], ps.distrWts...)
}

func (ps *ParticleSearch) restoreBackup() {
	b := &ps.backup
	ps.ssm.SetState(b.state)
	copy(ps.states, b.states)
	copy(ps.arStates, b.ar)
	copy(ps.weights, b.weights)
	copy(ps.distrWts, b.distrWts)
}

// SetRegion moves the region and collapses every particle onto it
func (ps *ParticleSearch) SetRegion(corners mtf.Corners) error {
	if !ps.initialized {
		return mtf.NewLogicError(particleName, "set region called before initialize")
	}
	ps.prevCorners = ps.ssm.Corners()
	if err := ps.ssm.SetCorners(corners); err != nil {
		return err
	}
	ps.resetParticles(ps.ssm.State())
	for i := range ps.arStates {
		ps.arStates[i] = 0
	}
	return nil
}

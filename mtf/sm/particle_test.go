package sm

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newParticle(t *testing.T, params ParticleParams, optFns ...Option) *ParticleSearch {
	t.Helper()
	am, iso := newModels(t, 12)
	ps, err := NewParticleSearch(am, iso, params, optFns...)
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Initialize(blobImage(), initialCorners()); err != nil {
		t.Fatal(err)
	}
	return ps
}

func TestParticleWeights(t *testing.T) {
	collector := &mtf.BasicCollector{}
	params := DefaultParticleParams()
	params.NParticles = 100
	params.MaxIters = 3
	params.Epsilon = 0
	ps := newParticle(t, params, WithCollector(collector))

	if err := ps.Update(blobImage().Shift(1, 0)); err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, w := range ps.Weights() {
		if w < 0 {
			t.Errorf("Weights should be non-negative, got %f", w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("Weights should sum to 1, got %f", sum)
	}
	if ess := ps.EffectiveSampleSize(); ess < 1 || ess > 100+1e-9 {
		t.Errorf("Effective sample size should be in [1, 100], got %f", ess)
	}
	if ps.ResampleCount() != 0 {
		t.Errorf("Particles should not be resampled without a strategy, got %d resamples", ps.ResampleCount())
	}
	if collector.ResampleChecks.Load() != 3 {
		t.Errorf("Degeneracy should be checked every iteration, got %d checks", collector.ResampleChecks.Load())
	}
	if collector.Resamples.Load() != 0 {
		t.Errorf("Collector should see no resamples, got %d", collector.Resamples.Load())
	}
}

func TestParticleResamplingStrategies(t *testing.T) {
	for _, rt := range []ResamplingType{ResamplingBinaryMultinomial, ResamplingLinearMultinomial, ResamplingResidual} {
		params := DefaultParticleParams()
		params.NParticles = 60
		params.MaxIters = 2
		params.Epsilon = 0
		params.ResamplingType = rt
		ps := newParticle(t, params)
		if err := ps.Update(blobImage().Shift(1, 1)); err != nil {
			t.Fatalf("Update with %s resampling should succeed, got %v", rt, err)
		}
		if ps.ResampleCount() != 2 {
			t.Errorf("%s resampling should run every iteration, got %d", rt, ps.ResampleCount())
		}
		for i, w := range ps.Weights() {
			if w != 1/60.0 {
				t.Errorf("Weight %d should be uniform after %s resampling, got %f", i, rt, w)
				break
			}
		}
	}

	params := DefaultParticleParams()
	params.NParticles = 60
	params.MaxIters = 2
	params.Epsilon = 0
	params.ResamplingType = ResamplingBinaryMultinomial
	params.AdaptiveResamplingThresh = 1e-6
	ps := newParticle(t, params)
	if err := ps.Update(blobImage()); err != nil {
		t.Fatal(err)
	}
	if ps.ResampleCount() != 0 {
		t.Errorf("Tiny adaptive threshold should prevent resampling, got %d", ps.ResampleCount())
	}
}

func TestResample(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	concentrated := []float64{0, 1, 0, 0}
	for _, rt := range []ResamplingType{ResamplingBinaryMultinomial, ResamplingLinearMultinomial, ResamplingResidual} {
		got := resample(nil, concentrated, rng, rt, nil)
		if diff := cmp.Diff([]int{1, 1, 1, 1}, got); diff != "" {
			t.Errorf("%s resampling of a single mode mismatch (-want +got):\n%s", rt, diff)
		}
	}
	got := resample(nil, []float64{0.5, 0.5, 0, 0}, rng, ResamplingResidual, nil)
	if diff := cmp.Diff([]int{0, 0, 1, 1}, got); diff != "" {
		t.Errorf("Residual resampling mismatch (-want +got):\n%s", diff)
	}
	got = resample(nil, []float64{0.25, 0.25, 0.25, 0.25}, rng, ResamplingNone, nil)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, got); diff != "" {
		t.Errorf("No resampling should keep indices (-want +got):\n%s", diff)
	}
	if ess := effectiveSampleSize([]float64{0.25, 0.25, 0.25, 0.25}); math.Abs(ess-4) > 1e-12 {
		t.Errorf("Uniform weights should give ESS 4, got %f", ess)
	}
}

func TestParticleTracking(t *testing.T) {
	params := DefaultParticleParams()
	params.NParticles = 300
	params.MaxIters = 5
	params.LikelihoodFunc = LikelihoodGaussian
	params.MeasurementSigma = 0.01
	params.ResamplingType = ResamplingBinaryMultinomial
	ps := newParticle(t, params)

	truth := initialCorners().Translate(2, 1)
	before := initialCorners().MaxDeviation(truth)
	if err := ps.Update(blobImage().Shift(2, 1)); err != nil {
		t.Fatal(err)
	}
	if after := ps.Corners().MaxDeviation(truth); after >= before {
		t.Errorf("Corner error should shrink below %f, got %f", before, after)
	}
}

func TestParticleDeterminism(t *testing.T) {
	var runs [][]float64
	for _, workers := range []int{1, 3} {
		params := DefaultParticleParams()
		params.NParticles = 80
		params.MaxIters = 3
		params.ResamplingType = ResamplingResidual
		params.Workers = workers
		ps := newParticle(t, params)
		for f := 1; f <= 2; f++ {
			if err := ps.Update(blobImage().Shift(f, 0)); err != nil {
				t.Fatal(err)
			}
		}
		flat := append([]float64(nil), ps.SSM().State()...)
		for _, p := range ps.Particles() {
			flat = append(flat, p...)
		}
		runs = append(runs, append(flat, ps.Weights()...))
	}
	if diff := cmp.Diff(runs[0], runs[1]); diff != "" {
		t.Errorf("Filter should not depend on worker count (-1 +3):\n%s", diff)
	}
}

func TestParticleDistributionWeights(t *testing.T) {
	params := DefaultParticleParams()
	params.NParticles = 90
	params.MaxIters = 2
	params.SSMSigma = [][]float64{{0.5, 0.5, 0.005}, {20, 20, 0.5}}
	params.UpdateDistrWts = true
	params.MinDistrWt = 0.3
	ps := newParticle(t, params)
	if err := ps.Update(blobImage()); err != nil {
		t.Fatal(err)
	}
	wts := ps.DistributionWeights()
	if len(wts) != 2 {
		t.Fatalf("Should have 2 distribution weights, got %d", len(wts))
	}
	for k, w := range wts {
		if w < params.MinDistrWt {
			t.Errorf("Distribution weight %d should be at least %f, got %f", k, params.MinDistrWt, w)
		}
	}
	if wts[0] <= wts[1] {
		t.Errorf("Narrow distribution should outweigh the wide one on a static frame, got %v", wts)
	}
}

func TestParticleFailures(t *testing.T) {
	params := DefaultParticleParams()
	params.NParticles = 40
	ps := newParticle(t, params)
	particles := make([][]float64, 0, 40)
	for _, p := range ps.Particles() {
		particles = append(particles, append([]float64(nil), p...))
	}
	if err := ps.Update(nanImage{}); !errors.Is(err, mtf.ErrNumeric) {
		t.Errorf("NaN frame should be numeric error, got %v", err)
	}
	if ps.Corners() != initialCorners() {
		t.Errorf("Corners should roll back to %v, got %v", initialCorners(), ps.Corners())
	}
	if diff := cmp.Diff(particles, ps.Particles(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Particles should roll back (-want +got):\n%s", diff)
	}

	am, iso := newModels(t, 12)
	bad := DefaultParticleParams()
	bad.NParticles = 0
	if _, err := NewParticleSearch(am, iso, bad); !errors.Is(err, mtf.ErrConfiguration) {
		t.Errorf("Zero particles should be configuration error, got %v", err)
	}
	bad = DefaultParticleParams()
	bad.LikelihoodFunc = LikelihoodGaussian
	bad.MeasurementSigma = 0
	if _, err := NewParticleSearch(am, iso, bad); !errors.Is(err, mtf.ErrConfiguration) {
		t.Errorf("Zero measurement sigma should be configuration error, got %v", err)
	}
	fresh, err := NewParticleSearch(am, iso, DefaultParticleParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Update(blobImage()); !errors.Is(err, mtf.ErrLogic) {
		t.Errorf("Update before initialize should be logic error, got %v", err)
	}
}

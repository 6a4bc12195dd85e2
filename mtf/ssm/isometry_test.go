package ssm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/mat"
)

const eps = 1e-9

func newTestIsometry(t *testing.T, params IsometryParams) *Isometry {
	t.Helper()
	ssm, err := NewIsometry(params)
	if err != nil {
		t.Fatal(err)
	}
	corners := mtf.NewCornersFromRect(mtf.NewRect(40, 30, 60, 40))
	if err := ssm.Initialize(corners); err != nil {
		t.Fatal(err)
	}
	return ssm
}

func TestIsometryInitialize(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 5, Resy: 4})
	corners := mtf.NewCornersFromRect(mtf.NewRect(40, 30, 60, 40))
	if d := ssm.Corners().MaxDeviation(corners); d > eps {
		t.Errorf("Corners should match initial corners, deviation %v", d)
	}
	state := ssm.State()
	if state[0] != 70 || state[1] != 50 || state[2] != 0 {
		t.Errorf("Initial state should be [70 50 0], got %v", state)
	}
	pts := ssm.Pts()
	if len(pts) != 20 {
		t.Errorf("Number of points should be 20, got %d", len(pts))
	}
	if pts[0] != corners[0] || pts[19] != corners[2] {
		t.Errorf("Grid should start at top-left and end at bottom-right corner, got %v and %v", pts[0], pts[19])
	}
	if err := ssm.Initialize(mtf.NewCornersFromRect(mtf.NewRect(10, 10, 0, 5))); err == nil {
		t.Errorf("Zero area corners should be rejected")
	}
}

func TestIsometryWarpRoundTrip(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	rng := rand.New(rand.NewPCG(1, 1))
	for k := 0; k < 100; k++ {
		state := []float64{rng.Float64()*200 - 100, rng.Float64()*200 - 100, (2*rng.Float64() - 1) * math.Pi}
		got, err := ssm.StateFromWarp(nil, ssm.WarpFromState(state))
		if err != nil {
			t.Fatal(err)
		}
		for i := range state {
			if math.Abs(got[i]-state[i]) > 1e-12 {
				t.Errorf("State %v should survive warp round trip, got %v", state, got)
				break
			}
		}
	}
	if _, err := ssm.StateFromWarp(nil, mat.NewDense(3, 3, nil)); err == nil {
		t.Errorf("Zero warp should be rejected")
	}
}

func TestIsometryComposeInvert(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	a := []float64{10, -5, 0.7}
	b := []float64{-3, 4, -1.2}
	ab := ssm.ComposeStates(nil, a, b)
	var prod mat.Dense
	prod.Mul(ssm.WarpFromState(a), ssm.WarpFromState(b))
	if !mat.EqualApprox(&prod, ssm.WarpFromState(ab), eps) {
		t.Errorf("Composition should match matrix product:\n%v\nvs\n%v", mat.Formatted(&prod), mat.Formatted(ssm.WarpFromState(ab)))
	}
	id := ssm.ComposeStates(nil, a, ssm.InvertState(nil, a))
	for i, v := range id {
		if math.Abs(v) > eps {
			t.Errorf("Composition with inverse should be identity, component %d is %v", i, v)
		}
	}
}

func TestIsometryCorners(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 4, Resy: 4})
	target := []float64{90, 60, 0.3}
	corners := ssm.CornersOf(target)
	if err := ssm.SetCorners(corners); err != nil {
		t.Fatal(err)
	}
	for i := range target {
		if math.Abs(ssm.State()[i]-target[i]) > eps {
			t.Errorf("State should be %v after SetCorners, got %v", target, ssm.State())
			break
		}
	}
	start := ssm.CornersOf([]float64{70, 50, 0})
	delta, err := ssm.EstimateWarpFromCorners(nil, start, corners)
	if err != nil {
		t.Fatal(err)
	}
	ssm.SetState([]float64{70, 50, 0})
	ssm.CompositionalUpdate(delta)
	if d := ssm.Corners().MaxDeviation(corners); d > eps {
		t.Errorf("Compositional update with estimated delta should reach target corners, deviation %v", d)
	}
}

func TestIsometryPixJacobian(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	state := []float64{72, 48, 0.4}
	ssm.SetState(state)
	n := ssm.NPts()
	h := 1e-6
	for _, warped := range []bool{false, true} {
		for axis := 0; axis < 2; axis++ {
			grad := make([][2]float64, n)
			for i := range grad {
				grad[i][axis] = 1
			}
			var jac mat.Dense
			if warped {
				ssm.CmptWarpedPixJacobian(&jac, grad)
			} else {
				ssm.CmptPixJacobian(&jac, grad)
			}
			for k := 0; k < 3; k++ {
				dp := make([]float64, 3)
				dm := make([]float64, 3)
				dp[k], dm[k] = h, -h
				var sp, sm []float64
				if warped {
					sp = ssm.ComposeStates(nil, state, dp)
					sm = ssm.ComposeStates(nil, state, dm)
				} else {
					sp = []float64{state[0] + dp[0], state[1] + dp[1], state[2] + dp[2]}
					sm = []float64{state[0] + dm[0], state[1] + dm[1], state[2] + dm[2]}
				}
				ptsP := ssm.WarpPts(nil, sp)
				ptsM := ssm.WarpPts(nil, sm)
				for i := 0; i < n; i++ {
					var fd float64
					if axis == 0 {
						fd = (ptsP[i].X - ptsM[i].X) / (2 * h)
					} else {
						fd = (ptsP[i].Y - ptsM[i].Y) / (2 * h)
					}
					if math.Abs(fd-jac.At(i, k)) > 1e-5 {
						t.Errorf("Jacobian (warped=%v, axis=%d) at (%d, %d) should be %v, got %v", warped, axis, i, k, fd, jac.At(i, k))
					}
				}
			}
		}
	}
}

func TestIsometryPixHessian(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	state := []float64{72, 48, -0.8}
	ssm.SetState(state)
	n := ssm.NPts()
	h := 1e-4

	// pure warp curvature: unit gradient along x, zero image Hessian
	grad := make([][2]float64, n)
	for i := range grad {
		grad[i][0] = 1
	}
	hess := ssm.CmptPixHessian(nil, make([][3]float64, n), grad)
	ptsP := ssm.WarpPts(nil, []float64{state[0], state[1], state[2] + h})
	ptsM := ssm.WarpPts(nil, []float64{state[0], state[1], state[2] - h})
	pts := ssm.Pts()
	for i := 0; i < n; i++ {
		fd := (ptsP[i].X - 2*pts[i].X + ptsM[i].X) / (h * h)
		if math.Abs(fd-hess[i].At(2, 2)) > 1e-3 {
			t.Errorf("d2x/dtheta2 at %d should be %v, got %v", i, fd, hess[i].At(2, 2))
		}
		for k := 0; k < 3; k++ {
			for l := 0; l < 3; l++ {
				if (k != 2 || l != 2) && hess[i].At(k, l) != 0 {
					t.Errorf("Only theta-theta entry should be non-zero, got %v at (%d, %d)", hess[i].At(k, l), k, l)
				}
			}
		}
	}

	// pure image curvature: Hessian is outer product of the x-row of the warp Jacobian
	pixHess := make([][3]float64, n)
	for i := range pixHess {
		pixHess[i][0] = 1
	}
	var jac mat.Dense
	ones := make([][2]float64, n)
	for i := range ones {
		ones[i][0] = 1
	}
	ssm.CmptPixJacobian(&jac, ones)
	hess = ssm.CmptPixHessian(hess, pixHess, make([][2]float64, n))
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			for l := 0; l < 3; l++ {
				expected := jac.At(i, k) * jac.At(i, l)
				if math.Abs(hess[i].At(k, l)-expected) > eps {
					t.Errorf("Pixel Hessian at %d (%d, %d) should be %v, got %v", i, k, l, expected, hess[i].At(k, l))
				}
			}
		}
	}
}

func TestIsometryMeanOfSamples(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	states := [][]float64{
		{10, 20, math.Pi - 0.1},
		{20, 40, -math.Pi + 0.1},
	}
	mean := ssm.EstimateMeanOfSamples(nil, states, []float64{0.5, 0.5})
	if mean[0] != 15 || mean[1] != 30 {
		t.Errorf("Translation mean should be (15, 30), got (%v, %v)", mean[0], mean[1])
	}
	if math.Abs(math.Abs(mean[2])-math.Pi) > eps {
		t.Errorf("Angle mean across the branch cut should be pi, got %v", mean[2])
	}
}

func TestIsometryGeneratePerturbation(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	r1 := rand.New(rand.NewPCG(7, 7))
	r2 := rand.New(rand.NewPCG(7, 7))
	sigma := []float64{2, 2, 0.05}
	for k := 0; k < 10; k++ {
		a := ssm.GeneratePerturbation(nil, r1, nil, sigma)
		b := ssm.GeneratePerturbation(nil, r2, nil, sigma)
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("Perturbations from equally seeded generators should match, got %v and %v", a, b)
			}
		}
	}

	ptBased := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3, PtBasedSampling: true})
	delta := ptBased.GeneratePerturbation(nil, r1, nil, []float64{1.5})
	if delta[0] == 0 && delta[1] == 0 && delta[2] == 0 {
		t.Errorf("Corner based perturbation should not be zero")
	}
	if math.Abs(delta[2]) > 0.5 {
		t.Errorf("Corner jitter of 1.5 px should yield small rotation, got %v", delta[2])
	}
}

func TestEstimateWarpFromPts(t *testing.T) {
	ssm := newTestIsometry(t, IsometryParams{Resx: 3, Resy: 3})
	truth := rigid{theta: 0.25, tx: 7, ty: -4}
	rng := rand.New(rand.NewPCG(3, 9))
	n := 60
	in := make([]mtf.Point, n)
	out := make([]mtf.Point, n)
	for i := range in {
		in[i] = mtf.Point{X: rng.Float64() * 200, Y: rng.Float64() * 200}
		out[i] = truth.apply(in[i])
		if i%3 == 0 {
			// outlier
			out[i].X += 30 + rng.Float64()*50
			out[i].Y -= 30 + rng.Float64()*50
		} else {
			out[i].X += 0.1 * rng.NormFloat64()
			out[i].Y += 0.1 * rng.NormFloat64()
		}
	}
	delta, mask, err := ssm.EstimateWarpFromPts(nil, in, out, NewIsometryEstimator(), mtf.DefaultRobustParams())
	if err != nil {
		t.Fatal(err)
	}
	for i, ok := range mask {
		if ok == (i%3 == 0) {
			t.Errorf("Inlier mask at %d should be %v", i, i%3 != 0)
		}
	}
	before := ssm.Corners()
	ssm.CompositionalUpdate(delta)
	for i, c := range ssm.Corners() {
		expected := truth.apply(before[i])
		if math.Abs(c.X-expected.X) > 0.2 || math.Abs(c.Y-expected.Y) > 0.2 {
			t.Errorf("Corner %d should move to %v, got %v", i, expected, c)
		}
	}

	if _, _, err := EstimateRobust(in[:1], out[:1], NewIsometryEstimator(), mtf.DefaultRobustParams()); err == nil {
		t.Errorf("Single correspondence should be rejected")
	}
}

package sm

import (
	"errors"
	"testing"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/google/go-cmp/cmp"
)

func TestProcessDistributionsSplit(t *testing.T) {
	sigma := [][]float64{{1}, {2}, {3}}
	distrs, usingPix, err := ProcessDistributions("test", sigma, nil, nil, 200, 3)
	if err != nil {
		t.Fatal(err)
	}
	if usingPix {
		t.Errorf("State space sampling should be used when pixel sigma is empty")
	}
	got := make([]int, len(distrs))
	for i, d := range distrs {
		got[i] = d.NSamples
	}
	if diff := cmp.Diff([]int{67, 67, 66}, got); diff != "" {
		t.Errorf("Sample split mismatch (-want +got):\n%s", diff)
	}

	for nDistr := 1; nDistr <= 7; nDistr++ {
		sigmas := make([][]float64, nDistr)
		for i := range sigmas {
			sigmas[i] = []float64{1}
		}
		for n := nDistr; n <= 60; n++ {
			distrs, _, err := ProcessDistributions("test", sigmas, nil, nil, n, 3)
			if err != nil {
				t.Fatalf("Split of %d samples into %d distributions should succeed, got %v", n, nDistr, err)
			}
			sum, lo, hi := 0, n, 0
			for _, d := range distrs {
				sum += d.NSamples
				lo = min(lo, d.NSamples)
				hi = max(hi, d.NSamples)
			}
			if sum != n {
				t.Errorf("Samples of %d distributions should sum to %d, got %d", nDistr, n, sum)
			}
			if hi-lo > 1 {
				t.Errorf("Split of %d into %d should differ by at most 1, got [%d, %d]", n, nDistr, lo, hi)
			}
			// residual goes to the first distributions
			for i := 1; i < len(distrs); i++ {
				if distrs[i].NSamples > distrs[i-1].NSamples {
					t.Errorf("Distribution %d should not get more samples than distribution %d", i, i-1)
				}
			}
		}
	}
}

func TestProcessDistributionsBroadcast(t *testing.T) {
	sigma := [][]float64{{1, 2, 0.1}}
	mean := [][]float64{{0}, {5, 6, 0.5}}
	distrs, _, err := ProcessDistributions("test", sigma, mean, nil, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []Distribution{
		{Mean: []float64{0, 0, 0}, Sigma: []float64{1, 2, 0.1}, NSamples: 5},
		{Mean: []float64{5, 6, 0.5}, Sigma: []float64{1, 2, 0.1}, NSamples: 5},
	}
	if diff := cmp.Diff(want, distrs); diff != "" {
		t.Errorf("Distributions mismatch (-want +got):\n%s", diff)
	}

	distrs, usingPix, err := ProcessDistributions("test", nil, nil, []float64{2, 4}, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !usingPix {
		t.Errorf("Pixel sigma should switch to corner sampling")
	}
	want = []Distribution{
		{Sigma: []float64{2}, NSamples: 3},
		{Sigma: []float64{4}, NSamples: 2},
	}
	if diff := cmp.Diff(want, distrs); diff != "" {
		t.Errorf("Pixel distributions mismatch (-want +got):\n%s", diff)
	}

	// non-positive first pixel sigma falls back to state sigma
	_, usingPix, err = ProcessDistributions("test", [][]float64{{1}}, nil, []float64{0}, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if usingPix {
		t.Errorf("Zero pixel sigma should not enable corner sampling")
	}
}

func TestProcessDistributionsErrors(t *testing.T) {
	cases := []struct {
		name     string
		sigma    [][]float64
		mean     [][]float64
		pix      []float64
		nSamples int
	}{
		{name: "no sigma", nSamples: 10},
		{name: "short sigma", sigma: [][]float64{{1, 2}}, nSamples: 10},
		{name: "long sigma", sigma: [][]float64{{1, 2, 3, 4}}, nSamples: 10},
		{name: "bad mean", sigma: [][]float64{{1}}, mean: [][]float64{{1, 2}}, nSamples: 10},
		{name: "negative sigma", sigma: [][]float64{{-1}}, nSamples: 10},
		{name: "negative pixel sigma", pix: []float64{2, -1}, nSamples: 10},
		{name: "no samples", sigma: [][]float64{{1}}, nSamples: 0},
	}
	for _, tc := range cases {
		_, _, err := ProcessDistributions("test", tc.sigma, tc.mean, tc.pix, tc.nSamples, 3)
		if !errors.Is(err, mtf.ErrConfiguration) {
			t.Errorf("Case '%s' should fail with configuration error, got %v", tc.name, err)
		}
	}
}

func TestEnumNames(t *testing.T) {
	for v := HessInitialSelf; v <= HessSecondOrder; v++ {
		parsed, err := ParseHessType(v.String())
		if err != nil || parsed != v {
			t.Errorf("Hessian type '%s' should parse back, got %v (%v)", v, parsed, err)
		}
	}
	for v := ResamplingNone; v <= ResamplingResidual; v++ {
		parsed, err := ParseResamplingType(v.String())
		if err != nil || parsed != v {
			t.Errorf("Resampling type '%s' should parse back, got %v (%v)", v, parsed, err)
		}
	}
	for v := MeanNone; v <= MeanCorners; v++ {
		parsed, err := ParseMeanType(v.String())
		if err != nil || parsed != v {
			t.Errorf("Mean type '%s' should parse back, got %v (%v)", v, parsed, err)
		}
	}
	for v := LikelihoodAM; v <= LikelihoodReciprocal; v++ {
		parsed, err := ParseLikelihoodFunc(v.String())
		if err != nil || parsed != v {
			t.Errorf("Likelihood '%s' should parse back, got %v (%v)", v, parsed, err)
		}
	}
	if v, err := ParseDynamicModel("AutoRegression(1)"); err != nil || v != DynamicAutoRegression1 {
		t.Errorf("'AutoRegression(1)' should parse, got %v (%v)", v, err)
	}
	if v, err := ParseUpdateType("compositional"); err != nil || v != UpdateCompositional {
		t.Errorf("Update type parsing should be case insensitive, got %v (%v)", v, err)
	}
	if _, err := ParseMeanType("median"); !errors.Is(err, mtf.ErrConfiguration) {
		t.Errorf("Unknown name should be a configuration error, got %v", err)
	}
	if MeanType(42).String() != "Unknown" {
		t.Errorf("Out of range value should print as Unknown, got %s", MeanType(42))
	}
}

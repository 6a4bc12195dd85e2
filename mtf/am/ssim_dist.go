package am

import (
	"math"
)

// DistSentinel is returned by SSIMDist when the early exit test proves the bound can not be beaten
const DistSentinel = math.MaxFloat64

// how many centered pixels are accumulated between early exit checks
const distCheckStride = 16

// SSIMDist computes 1 - SSIM between two distance features [mean, variance, centered pixels...]
type SSIMDist struct {
	c1, c2 float64
}

func NewSSIMDist(c1, c2 float64) SSIMDist {
	return SSIMDist{c1: c1, c2: c2}
}

// Distance implements mtf.DistFunc. Pass worst < 0 to disable early exit.
func (sd SSIMDist) Distance(a, b []float64, worst float64) float64 {
	ma, va := a[0], a[1]
	mb, vb := b[0], b[1]
	xa, xb := a[2:], b[2:]
	n := float64(len(xa))

	lum := (2*ma*mb + sd.c1) / (ma*ma + mb*mb + sd.c1)
	den := va + vb + sd.c2

	// Upper bound on the remaining cross term is sqrt(remA * remB) by Cauchy-Schwarz.
	// It only bounds S from above when the luminance term is positive.
	prune := worst >= 0 && lum > 0
	remA, remB := n*va, n*vb

	cross := 0.0
	for i := range xa {
		cross += xa[i] * xb[i]
		if !prune {
			continue
		}
		remA -= xa[i] * xa[i]
		remB -= xb[i] * xb[i]
		if (i+1)%distCheckStride != 0 {
			continue
		}
		bound := math.Sqrt(math.Max(remA, 0)*math.Max(remB, 0))*(1+1e-9) + 1e-12
		best := lum * (2*(cross+bound)/n + sd.c2) / den
		if 1-best > worst {
			return DistSentinel
		}
	}
	return 1 - lum*((2*(cross/n)+sd.c2)/den)
}

package sm

import (
	"math"
	"testing"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/am"
	"github.com/LdDl/mtf-go/mtf/ssm"
)

// blobImage is smooth enough for sub-pixel alignment and textured enough to be unambiguous
func blobImage() *mtf.GrayImage {
	return mtf.NewGrayImageFunc(160, 160, func(x, y int) float64 {
		fx, fy := float64(x), float64(y)
		b1 := math.Exp(-((fx-70)*(fx-70) + (fy-75)*(fy-75)) / (2 * 15 * 15))
		b2 := math.Exp(-((fx-95)*(fx-95) + (fy-60)*(fy-60)) / (2 * 12 * 12))
		return 60 + 120*b1 + 80*b2 + 0.3*fx
	})
}

func flatImage() *mtf.GrayImage {
	return mtf.NewGrayImageFunc(160, 160, func(x, y int) float64 {
		return 128
	})
}

// nanImage returns NaN everywhere
type nanImage struct{}

func (nanImage) Width() int                  { return 160 }
func (nanImage) Height() int                 { return 160 }
func (nanImage) Interp(x, y float64) float64 { return math.NaN() }

func initialCorners() mtf.Corners {
	return mtf.NewCornersFromRect(mtf.NewRect(50, 50, 60, 60))
}

func newModels(t *testing.T, res int) (*am.SSIM, *ssm.Isometry) {
	t.Helper()
	params := ssm.DefaultIsometryParams()
	params.Resx, params.Resy = res, res
	iso, err := ssm.NewIsometry(params)
	if err != nil {
		t.Fatal(err)
	}
	ssim, err := am.NewSSIM(am.DefaultSSIMParams(), res*res)
	if err != nil {
		t.Fatal(err)
	}
	return ssim, iso
}

func stateError(got, want []float64) float64 {
	sum := 0.0
	for i := range got {
		d := got[i] - want[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

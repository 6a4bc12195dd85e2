package mtf

import (
	"image"
	"image/color"
	"math"
)

// Image is a single-channel frame handle consumed by search methods.
type Image interface {
	// Width in pixels
	Width() int
	// Height in pixels
	Height() int
	// Interp returns bilinearly interpolated intensity at sub-pixel location (x, y)
	Interp(x, y float64) float64
}

// GrayImage stores intensities row-major as float64
type GrayImage struct {
	W   int
	H   int
	Pix []float64
}

// NewGrayImage allocates zero image
func NewGrayImage(width, height int) *GrayImage {
	return &GrayImage{
		W:   width,
		H:   height,
		Pix: make([]float64, width*height),
	}
}

// NewGrayImageFunc fills the image from intensity function
func NewGrayImageFunc(width, height int, f func(x, y int) float64) *GrayImage {
	img := NewGrayImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Pix[y*width+x] = f(x, y)
		}
	}
	return img
}

// NewGrayImageFrom converts any image.Image to luminance in [0, 255]
func NewGrayImageFrom(src image.Image) *GrayImage {
	b := src.Bounds()
	img := NewGrayImage(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
			img.Pix[(y-b.Min.Y)*img.W+(x-b.Min.X)] = float64(g.Y) / 257.0
		}
	}
	return img
}

func (img *GrayImage) Width() int  { return img.W }
func (img *GrayImage) Height() int { return img.H }

// At returns intensity of integer pixel, clamped to borders
func (img *GrayImage) At(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= img.W {
		x = img.W - 1
	}
	if y < 0 {
		y = 0
	} else if y >= img.H {
		y = img.H - 1
	}
	return img.Pix[y*img.W+x]
}

// Interp implements Image. Locations outside of the frame are clamped to the border.
func (img *GrayImage) Interp(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN()
	}
	x = clampFloat64(x, 0, float64(img.W-1))
	y = clampFloat64(y, 0, float64(img.H-1))
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	dx := x - float64(x0)
	dy := y - float64(y0)
	i00 := img.At(x0, y0)
	i10 := img.At(x0+1, y0)
	i01 := img.At(x0, y0+1)
	i11 := img.At(x0+1, y0+1)
	return (1-dx)*(1-dy)*i00 + dx*(1-dy)*i10 + (1-dx)*dy*i01 + dx*dy*i11
}

// Shift returns copy of the image translated by integer offset; uncovered pixels replicate the border
func (img *GrayImage) Shift(dx, dy int) *GrayImage {
	return NewGrayImageFunc(img.W, img.H, func(x, y int) float64 {
		return img.At(x-dx, y-dy)
	})
}

// ExtractPatch samples the image at every point into dst (allocated when nil or too short)
func ExtractPatch(dst []float64, img Image, pts []Point) []float64 {
	if len(dst) < len(pts) {
		dst = make([]float64, len(pts))
	}
	dst = dst[:len(pts)]
	for i, p := range pts {
		dst[i] = img.Interp(p.X, p.Y)
	}
	return dst
}

// PatchGradient computes central-difference intensity gradient (dI/dx, dI/dy) at every point
func PatchGradient(dst [][2]float64, img Image, pts []Point) [][2]float64 {
	if len(dst) < len(pts) {
		dst = make([][2]float64, len(pts))
	}
	dst = dst[:len(pts)]
	for i, p := range pts {
		dst[i][0] = (img.Interp(p.X+1, p.Y) - img.Interp(p.X-1, p.Y)) / 2.0
		dst[i][1] = (img.Interp(p.X, p.Y+1) - img.Interp(p.X, p.Y-1)) / 2.0
	}
	return dst
}

// PatchHessian computes second order intensity derivatives (xx, xy, yy) at every point
func PatchHessian(dst [][3]float64, img Image, pts []Point) [][3]float64 {
	if len(dst) < len(pts) {
		dst = make([][3]float64, len(pts))
	}
	dst = dst[:len(pts)]
	for i, p := range pts {
		c := img.Interp(p.X, p.Y)
		dst[i][0] = img.Interp(p.X+1, p.Y) - 2*c + img.Interp(p.X-1, p.Y)
		dst[i][1] = (img.Interp(p.X+1, p.Y+1) - img.Interp(p.X+1, p.Y-1) - img.Interp(p.X-1, p.Y+1) + img.Interp(p.X-1, p.Y-1)) / 4.0
		dst[i][2] = img.Interp(p.X, p.Y+1) - 2*c + img.Interp(p.X, p.Y-1)
	}
	return dst
}

package mtf

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}

// Center returns the center of the rectangle
func (r Rectangle) Center() Point {
	return Point{X: r.X + r.Width/2.0, Y: r.Y + r.Height/2.0}
}

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func NewPointFrom(point image.Point) Point {
	return Point{
		X: float64(point.X),
		Y: float64(point.Y),
	}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}

// Corners is the 4-point polygon bounding a tracked region.
// Order is top-left, top-right, bottom-right, bottom-left (clockwise in image coordinates).
type Corners [4]Point

// NewCornersFromRect returns axis-aligned corners of the rectangle
func NewCornersFromRect(r Rectangle) Corners {
	return Corners{
		{X: r.X, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
		{X: r.X, Y: r.Y + r.Height},
	}
}

// Centroid returns mean of the four corners
func (c Corners) Centroid() Point {
	var cx, cy float64
	for _, p := range c {
		cx += p.X
		cy += p.Y
	}
	return Point{X: cx / 4.0, Y: cy / 4.0}
}

// BoundingRect returns the axis-aligned rectangle enclosing the corners
func (c Corners) BoundingRect() Rectangle {
	minX, minY := c[0].X, c[0].Y
	maxX, maxY := c[0].X, c[0].Y
	for _, p := range c[1:] {
		minX = minFloat64(minX, p.X)
		minY = minFloat64(minY, p.Y)
		maxX = maxFloat64(maxX, p.X)
		maxY = maxFloat64(maxY, p.Y)
	}
	return Rectangle{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Translate returns corners shifted by (dx, dy)
func (c Corners) Translate(dx, dy float64) Corners {
	out := c
	for i := range out {
		out[i].X += dx
		out[i].Y += dy
	}
	return out
}

// Distance returns the Frobenius norm of the difference between two corner sets
func (c Corners) Distance(other Corners) float64 {
	sum := 0.0
	for i := range c {
		dx := c[i].X - other[i].X
		dy := c[i].Y - other[i].Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum)
}

// MaxDeviation returns the largest per-corner euclidean distance
func (c Corners) MaxDeviation(other Corners) float64 {
	maxDist := 0.0
	for i := range c {
		maxDist = maxFloat64(maxDist, euclideanDistance(c[i], other[i]))
	}
	return maxDist
}

// IsFinite reports whether every coordinate is a finite number
func (c Corners) IsFinite() bool {
	for _, p := range c {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}

// ToDense returns corners as 2x4 matrix (first row X, second row Y)
func (c Corners) ToDense() *mat.Dense {
	m := mat.NewDense(2, 4, nil)
	for i, p := range c {
		m.Set(0, i, p.X)
		m.Set(1, i, p.Y)
	}
	return m
}

// NewCornersFromDense is the inverse of ToDense
func NewCornersFromDense(m mat.Matrix) Corners {
	var c Corners
	for i := range c {
		c[i] = Point{X: m.At(0, i), Y: m.At(1, i)}
	}
	return c
}

// MeanCorners returns weighted mean of corner sets. Weights are expected to sum to 1.
func MeanCorners(corners []Corners, weights []float64) Corners {
	var mean Corners
	for i, c := range corners {
		w := weights[i]
		for j := range mean {
			mean[j].X += w * c[j].X
			mean[j].Y += w * c[j].Y
		}
	}
	return mean
}

// PointsInCorners spreads resx*resy points over the quadrilateral by bilinear interpolation, row by row.
func PointsInCorners(c Corners, resx, resy int) []Point {
	pts := make([]Point, 0, resx*resy)
	for row := 0; row < resy; row++ {
		v := 0.0
		if resy > 1 {
			v = float64(row) / float64(resy-1)
		}
		for col := 0; col < resx; col++ {
			u := 0.0
			if resx > 1 {
				u = float64(col) / float64(resx-1)
			}
			w0 := (1 - u) * (1 - v)
			w1 := u * (1 - v)
			w2 := u * v
			w3 := (1 - u) * v
			pts = append(pts, Point{
				X: w0*c[0].X + w1*c[1].X + w2*c[2].X + w3*c[3].X,
				Y: w0*c[0].Y + w1*c[1].Y + w2*c[2].Y + w3*c[3].Y,
			})
		}
	}
	return pts
}

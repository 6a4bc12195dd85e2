package ssm

import (
	"math"

	"github.com/LdDl/mtf-go/mtf"
	"gonum.org/v1/gonum/mat"
)

// rigid is x' = R(theta) x + t
type rigid struct {
	theta  float64
	tx, ty float64
}

func (r rigid) apply(p mtf.Point) mtf.Point {
	c, s := math.Cos(r.theta), math.Sin(r.theta)
	return mtf.Point{
		X: c*p.X - s*p.Y + r.tx,
		Y: s*p.X + c*p.Y + r.ty,
	}
}

func (r rigid) matrix() *mat.Dense {
	c, s := math.Cos(r.theta), math.Sin(r.theta)
	return mat.NewDense(3, 3, []float64{
		c, -s, r.tx,
		s, c, r.ty,
		0, 0, 1,
	})
}

// rigidFromMatrix projects the upper 2x2 block onto the closest rotation
func rigidFromMatrix(m mat.Matrix) (rigid, bool) {
	w := m.At(2, 2)
	if w == 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return rigid{}, false
	}
	sinSum := (m.At(1, 0) - m.At(0, 1)) / w
	cosSum := (m.At(0, 0) + m.At(1, 1)) / w
	if sinSum == 0 && cosSum == 0 {
		return rigid{}, false
	}
	r := rigid{
		theta: normalizeAngle(math.Atan2(sinSum, cosSum)),
		tx:    m.At(0, 2) / w,
		ty:    m.At(1, 2) / w,
	}
	if math.IsNaN(r.theta) || math.IsNaN(r.tx) || math.IsNaN(r.ty) || math.IsInf(r.tx, 0) || math.IsInf(r.ty, 0) {
		return rigid{}, false
	}
	return r, true
}

// fitRigid solves 2D Procrustes problem: least squares rotation and translation mapping src onto dst.
// Returns false when the rotation is undetermined (all points coincide).
func fitRigid(src, dst []mtf.Point) (rigid, bool) {
	n := float64(len(src))
	if len(src) == 0 || len(src) != len(dst) {
		return rigid{}, false
	}
	var sx, sy, dx, dy float64
	for i := range src {
		sx += src[i].X
		sy += src[i].Y
		dx += dst[i].X
		dy += dst[i].Y
	}
	sx, sy, dx, dy = sx/n, sy/n, dx/n, dy/n

	var sinSum, cosSum float64
	for i := range src {
		px, py := src[i].X-sx, src[i].Y-sy
		qx, qy := dst[i].X-dx, dst[i].Y-dy
		sinSum += px*qy - py*qx
		cosSum += px*qx + py*qy
	}
	if math.Abs(sinSum)+math.Abs(cosSum) < 1e-12 || math.IsNaN(sinSum) || math.IsNaN(cosSum) {
		return rigid{}, false
	}
	theta := math.Atan2(sinSum, cosSum)
	c, s := math.Cos(theta), math.Sin(theta)
	return rigid{
		theta: theta,
		tx:    dx - (c*sx - s*sy),
		ty:    dy - (s*sx + c*sy),
	}, true
}

// normalizeAngle maps angle into (-pi, pi]
func normalizeAngle(theta float64) float64 {
	theta = math.Remainder(theta, 2*math.Pi)
	if theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}

package mtf

import (
	"image"
	"math"
	"testing"
)

const (
	eps = 0.00001
)

func TestEuclideanDistance(t *testing.T) {
	p1 := NewPoint(341, 264)
	p2 := NewPointFrom(image.Pt(421, 427))
	correctAnswer := 181.57367
	answer := euclideanDistance(p1, p2)
	if math.Abs(answer-correctAnswer) > eps {
		t.Errorf("Wrong answer: %v, correct answer: %v", answer, correctAnswer)
	}
}

func TestIoU(t *testing.T) {
	r1 := NewRect(0, 0, 10, 10)
	r2 := NewRectFrom(image.Rect(5, 5, 15, 15))
	correctAnswer := 25.0 / 175.0
	if answer := IoU(r1, r2); math.Abs(answer-correctAnswer) > eps {
		t.Errorf("Wrong IoU: %v, correct answer: %v", answer, correctAnswer)
	}
	if answer := IoU(r1, r1); math.Abs(answer-1) > eps {
		t.Errorf("IoU of rectangle with itself should be 1, got %v", answer)
	}
	if answer := IoU(r1, NewRect(20, 20, 5, 5)); answer != 0 {
		t.Errorf("IoU of disjoint rectangles should be 0, got %v", answer)
	}
}

func TestCornersGeometry(t *testing.T) {
	corners := NewCornersFromRect(NewRect(10, 20, 30, 40))
	if center := corners.Centroid(); center != NewPoint(25, 40) {
		t.Errorf("Wrong centroid: %v, correct answer: %v", center, NewPoint(25, 40))
	}
	rotated := Corners{{X: 0, Y: 5}, {X: 5, Y: 0}, {X: 10, Y: 5}, {X: 5, Y: 10}}
	if rect := rotated.BoundingRect(); rect != NewRect(0, 0, 10, 10) {
		t.Errorf("Wrong bounding rectangle: %v", rect)
	}

	shifted := corners.Translate(3, 4)
	if d := corners.MaxDeviation(shifted); math.Abs(d-5) > eps {
		t.Errorf("Wrong max deviation: %v, correct answer: %v", d, 5.0)
	}
	if d := corners.Distance(shifted); math.Abs(d-10) > eps {
		t.Errorf("Wrong distance: %v, correct answer: %v", d, 10.0)
	}

	if back := NewCornersFromDense(corners.ToDense()); back != corners {
		t.Errorf("Dense round trip changed corners: %v", back)
	}

	mean := MeanCorners([]Corners{corners, shifted}, []float64{0.5, 0.5})
	if d := mean.MaxDeviation(corners.Translate(1.5, 2)); d > eps {
		t.Errorf("Wrong weighted mean: %v", mean)
	}

	if !corners.IsFinite() {
		t.Errorf("Corners should be finite")
	}
	corners[2].Y = math.Inf(1)
	if corners.IsFinite() {
		t.Errorf("Corners with infinite coordinate should not be finite")
	}
}

func TestPointsInCorners(t *testing.T) {
	corners := NewCornersFromRect(NewRect(0, 0, 4, 2))
	pts := PointsInCorners(corners, 3, 2)
	correct := []Point{{0, 0}, {2, 0}, {4, 0}, {0, 2}, {2, 2}, {4, 2}}
	if len(pts) != len(correct) {
		t.Errorf("Wrong number of points: %d, correct answer: %d", len(pts), len(correct))
		return
	}
	for i := range correct {
		if euclideanDistance(pts[i], correct[i]) > eps {
			t.Errorf("Point %d: %v, correct answer: %v", i, pts[i], correct[i])
		}
	}
}

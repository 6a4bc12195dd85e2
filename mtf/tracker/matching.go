package tracker

import (
	"math"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/arthurkushman/go-hungarian"
)

// assignMax solves maximum score assignment on a rows x cols matrix.
// Rectangular matrices are padded with zeros and pairs touching padding are dropped.
func assignMax(scores [][]float64, rows, cols int) [][2]int {
	if rows == 0 || cols == 0 {
		return [][2]int{}
	}
	paddedMatrix := scores
	if rows != cols {
		paddedSize := max(rows, cols)
		paddedMatrix = make([][]float64, paddedSize)
		for i := range paddedMatrix {
			paddedMatrix[i] = make([]float64, paddedSize)
			if i < rows {
				copy(paddedMatrix[i], scores[i])
			}
		}
	}
	assignmentsMap := hungarian.SolveMax(paddedMatrix)
	matches := make([][2]int, 0, min(rows, cols))
	for row, rowMap := range assignmentsMap {
		for col := range rowMap {
			if row < rows && col < cols {
				matches = append(matches, [2]int{row, col})
			}
			break
		}
	}
	return matches
}

// reorderCorners permutes detected corners to follow the winding of reference.
// Reference is moved onto the detection centroid first so only the shape decides.
func reorderCorners(reference, detected mtf.Corners) mtf.Corners {
	rc, dc := reference.Centroid(), detected.Centroid()
	aligned := reference.Translate(dc.X-rc.X, dc.Y-rc.Y)

	var dist [4][4]float64
	worst := 0.0
	for i := range aligned {
		for j := range detected {
			dist[i][j] = math.Hypot(aligned[i].X-detected[j].X, aligned[i].Y-detected[j].Y)
			worst = math.Max(worst, dist[i][j])
		}
	}
	scores := make([][]float64, 4)
	for i := range scores {
		scores[i] = make([]float64, 4)
		for j := range scores[i] {
			scores[i][j] = worst - dist[i][j] + 1
		}
	}
	out := detected
	for _, m := range assignMax(scores, 4, 4) {
		out[m[0]] = detected[m[1]]
	}
	return out
}

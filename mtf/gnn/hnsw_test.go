package gnn

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squaredL2(a, b []float64, worst float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
		if worst >= 0 && sum > worst {
			return sum
		}
	}
	return sum
}

func randomVectors(num, dim int, seed uint64) [][]float64 {
	r := rand.New(rand.NewPCG(seed, seed))
	vectors := make([][]float64, num)
	for i := range vectors {
		vectors[i] = make([]float64, dim)
		for j := range vectors[i] {
			vectors[i][j] = r.Float64()
		}
	}
	return vectors
}

func buildIndex(t *testing.T, vectors [][]float64, optFns ...func(o *Options)) *HNSW {
	t.Helper()
	h := New(len(vectors[0]), squaredL2, optFns...)
	for i, v := range vectors {
		id, err := h.Insert(v)
		require.NoError(t, err)
		require.Equal(t, uint32(i), id)
	}
	return h
}

// bruteSearch is the exhaustive k-nearest neighbour reference for recall checks
func bruteSearch(h *HNSW, q []float64, k int) ([]Result, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if len(h.nodes) == 0 {
		return nil, ErrEmptyIndex
	}

	topCandidates := newDistanceHeap(true, k+1)
	for _, node := range h.nodes {
		worst := -1.0
		if topCandidates.Len() >= k {
			worst = topCandidates.Top().distance
		}
		d := h.dist(q, node.Vector, worst)
		if topCandidates.Len() < k {
			topCandidates.Push(newCandidate(node.ID, d))
			continue
		}
		if d < worst {
			topCandidates.Pop()
			topCandidates.Push(newCandidate(node.ID, d))
		}
	}
	return toResults(drainSorted(topCandidates)), nil
}

func TestDistanceHeapOrder(t *testing.T) {
	items := []float64{0.4, 9, 0.001, 0.0534, 0.234, 2.03, 0.001, 10.03}

	maxHeap := newDistanceHeap(true, len(items))
	minHeap := newDistanceHeap(false, len(items))
	for i, d := range items {
		maxHeap.Push(candidate{id: uint32(i), distance: d})
		minHeap.Push(candidate{id: uint32(i), distance: d})
	}

	assert.Equal(t, uint32(7), maxHeap.Top().id)
	assert.Equal(t, 10.03, maxHeap.Top().distance)

	// equal distances are ordered by id
	assert.Equal(t, uint32(2), minHeap.Pop().id)
	assert.Equal(t, uint32(6), minHeap.Pop().id)
	assert.Equal(t, 0.0534, minHeap.Pop().distance)

	sorted := drainSorted(maxHeap)
	require.Len(t, sorted, len(items))
	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, sorted[i-1].distance, sorted[i].distance)
	}
	assert.Equal(t, 0, maxHeap.Len())
}

func TestSearchRecall(t *testing.T) {
	vectors := randomVectors(500, 8, 1)
	h := buildIndex(t, vectors)
	queries := randomVectors(100, 8, 2)

	hits := 0
	for _, q := range queries {
		approx, err := h.Search(q, 1, 64)
		require.NoError(t, err)
		exact, err := bruteSearch(h, q, 1)
		require.NoError(t, err)
		if approx[0].ID == exact[0].ID {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, 95)
}

func TestSearchReflexive(t *testing.T) {
	vectors := randomVectors(300, 8, 3)
	h := buildIndex(t, vectors)
	for i, v := range vectors {
		res, err := h.Search(v, 1, 64)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, uint32(i), res[0].ID)
		assert.Equal(t, 0.0, res[0].Distance)
	}
}

func TestSearchSortedResults(t *testing.T) {
	vectors := randomVectors(200, 4, 4)
	h := buildIndex(t, vectors)
	res, err := h.Search(vectors[10], 10, 0)
	require.NoError(t, err)
	require.Len(t, res, 10)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
	}

	brute, err := bruteSearch(h, vectors[10], 10)
	require.NoError(t, err)
	require.Len(t, brute, 10)
	assert.Equal(t, uint32(10), brute[0].ID)
	for i := 1; i < len(brute); i++ {
		assert.LessOrEqual(t, brute[i-1].Distance, brute[i].Distance)
	}
}

func TestDeterministicConstruction(t *testing.T) {
	vectors := randomVectors(250, 6, 5)
	opts := func(o *Options) { o.Seed = 77 }
	a := buildIndex(t, vectors, opts)
	b := buildIndex(t, vectors, opts)

	encA, err := a.GobEncode()
	require.NoError(t, err)
	encB, err := b.GobEncode()
	require.NoError(t, err)
	assert.Equal(t, encA, encB)

	for _, q := range randomVectors(20, 6, 6) {
		ra, err := a.Search(q, 3, 16)
		require.NoError(t, err)
		rb, err := b.Search(q, 3, 16)
		require.NoError(t, err)
		assert.Equal(t, ra, rb)
	}
}

func TestGobRoundTrip(t *testing.T) {
	vectors := randomVectors(200, 5, 7)
	full := buildIndex(t, vectors)

	half := buildIndex(t, vectors[:100])
	data, err := half.GobEncode()
	require.NoError(t, err)
	restored, err := Decode(data, squaredL2)
	require.NoError(t, err)
	assert.Equal(t, 100, restored.Len())
	assert.Equal(t, half.Options(), restored.Options())

	// insertion continues exactly where the encoded index stopped
	for _, v := range vectors[100:] {
		_, err := restored.Insert(v)
		require.NoError(t, err)
	}
	encFull, err := full.GobEncode()
	require.NoError(t, err)
	encRestored, err := restored.GobEncode()
	require.NoError(t, err)
	assert.Equal(t, encFull, encRestored)

	st := restored.Stats()
	assert.Equal(t, 200, st.Nodes)
	sum := 0
	for _, n := range st.LevelNodes {
		sum += n
	}
	assert.Equal(t, 200, sum)
	assert.Greater(t, st.AvgConnections[0], 0.0)
}

func TestErrors(t *testing.T) {
	h := New(3, squaredL2)
	_, err := h.Search([]float64{1, 2, 3}, 1, 0)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	_, err = h.Insert([]float64{1, 2})
	var dimErr *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)

	_, err = h.Insert([]float64{1, 2, 3})
	require.NoError(t, err)
	_, err = h.Search([]float64{1, 2, 3}, 0, 0)
	assert.Error(t, err)

	_, err = Decode([]byte("garbage"), squaredL2)
	assert.Error(t, err)
}

func TestDecodeRejectsBrokenLinks(t *testing.T) {
	vectors := randomVectors(200, 4, 8)
	data, err := buildIndex(t, vectors).GobEncode()
	require.NoError(t, err)

	clean, err := Decode(data, squaredL2)
	require.NoError(t, err)
	// a linked node on layer 1 and any node living on the bottom layer only
	upper, lower := -1, -1
	for i, node := range clean.nodes {
		if upper < 0 && node.Layer >= 1 && len(node.Connections[1]) > 0 {
			upper = i
		}
		if lower < 0 && node.Layer == 0 {
			lower = i
		}
	}
	require.GreaterOrEqual(t, upper, 0)
	require.GreaterOrEqual(t, lower, 0)

	cases := map[string]func(h *HNSW){
		"link out of range": func(h *HNSW) { h.nodes[3].Connections[0][0] = 9999 },
		"entry point":       func(h *HNSW) { h.ep = 9999 },
		"max level":         func(h *HNSW) { h.maxLevel = 40 },
		"link below layer":  func(h *HNSW) { h.nodes[upper].Connections[1][0] = uint32(lower) },
		"node above top":    func(h *HNSW) { h.nodes[lower].Layer = h.maxLevel + 1 },
	}
	for name, tamper := range cases {
		h, err := Decode(data, squaredL2)
		require.NoError(t, err)
		tamper(h)
		broken, err := h.GobEncode()
		require.NoError(t, err, name)
		_, err = Decode(broken, squaredL2)
		assert.Error(t, err, name)
	}
}

package gnn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

// ErrEmptyIndex is returned when searching an index without nodes
var ErrEmptyIndex = errors.New("index is empty")

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DistanceFunc calculates distance between two vectors.
// worst < 0 requests the exact distance; otherwise the function may stop early
// and return any value greater than worst once it knows the distance exceeds it.
type DistanceFunc func(a, b []float64, worst float64) float64

// Node represents a node in the HNSW graph
type Node struct {
	Connections [][]uint32 // Links to other nodes, one list per layer
	Vector      []float64
	Layer       int // Top layer the node exists in
	ID          uint32
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M is the number of connections established for every new element (2*M on the bottom layer).
	M int

	// EF is the size of the dynamic candidate list during construction.
	EF int

	// EFSearch is the default size of the dynamic candidate list during queries.
	EFSearch int

	// Heuristic selects neighbours with the diversity heuristic instead of plain k-NN.
	Heuristic bool

	// Seed drives level generation. Equal seeds and insertion order give identical graphs.
	Seed uint64
}

var DefaultOptions = Options{
	M:         8,
	EF:        200,
	EFSearch:  64,
	Heuristic: true,
	Seed:      1,
}

// Result is a single neighbour found by a query
type Result struct {
	ID       uint32
	Distance float64
}

// HNSW represents the Hierarchical Navigable Small World graph
type HNSW struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point, lives on the top layer
	maxLevel  int

	nodes []*Node

	opts Options
	dist DistanceFunc
	rng  *rand.Rand

	mutex sync.RWMutex
}

// New creates a new HNSW instance with the given dimension, distance and options
func New(dimension int, dist DistanceFunc, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero in 1 / log(M)
		opts.M = 2
	}
	if opts.EF < 1 {
		opts.EF = 1
	}
	if opts.EFSearch < 1 {
		opts.EFSearch = 1
	}

	return &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		opts:      opts,
		dist:      dist,
		rng:       newLevelRand(opts.Seed, 0),
	}
}

// newLevelRand returns generator positioned after skip draws
func newLevelRand(seed uint64, skip int) *rand.Rand {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := 0; i < skip; i++ {
		rng.Float64()
	}
	return rng
}

func (h *HNSW) randomLevel() int {
	return int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
}

func (h *HNSW) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.nodes)
}

func (h *HNSW) Dimension() int   { return h.dimension }
func (h *HNSW) Options() Options { return h.opts }

// Vector returns stored vector. Callers must not modify it.
func (h *HNSW) Vector(id uint32) []float64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.nodes[id].Vector
}

// SetDistanceFunc replaces distance function, needed after decoding
func (h *HNSW) SetDistanceFunc(dist DistanceFunc) {
	h.dist = dist
}

// Insert inserts a new element into the HNSW graph. Ids are assigned sequentially from zero.
func (h *HNSW) Insert(v []float64) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	// Make a copy of the vector to ensure changes outside this function don't affect the node
	vectorCopy := make([]float64, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	id := uint32(len(h.nodes))
	layer := h.randomLevel()
	node := &Node{
		ID:          id,
		Vector:      vectorCopy,
		Layer:       layer,
		Connections: make([][]uint32, layer+1),
	}

	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, node)
		h.ep = id
		h.maxLevel = layer
		return id, nil
	}

	// Find single shortest path from top layers above our current node, which will be our new starting-point
	ep := h.greedyClosest(vectorCopy, layer)

	topCandidates := newDistanceHeap(true, h.opts.EF+1)
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		h.searchLayer(vectorCopy, ep, topCandidates, h.opts.EF, level)
		sorted := drainSorted(topCandidates)
		ep = sorted[0]
		node.Connections[level] = h.selectNeighbours(sorted, h.opts.M)
	}

	h.nodes = append(h.nodes, node)

	// Next link the neighbour nodes to our new node, making it visible
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.Connections[level] {
			h.link(neighbour, id, level)
		}
	}

	if layer > h.maxLevel {
		h.ep = id
		h.maxLevel = layer
	}

	return id, nil
}

// greedyClosest descends from the entry point through layers above stopLayer keeping the single closest node
func (h *HNSW) greedyClosest(q []float64, stopLayer int) candidate {
	curr := candidate{id: h.ep, distance: h.dist(q, h.nodes[h.ep].Vector, -1)}
	for level := h.maxLevel; level > stopLayer; level-- {
		changed := true
		for changed {
			changed = false
			for _, nodeID := range h.nodes[curr.id].Connections[level] {
				d := h.dist(q, h.nodes[nodeID].Vector, curr.distance)
				if d < curr.distance {
					curr = candidate{id: nodeID, distance: d}
					changed = true
				}
			}
		}
	}
	return curr
}

// searchLayer performs a best-first search in a specified layer. topCandidates ends up holding at most ef nearest nodes.
func (h *HNSW) searchLayer(q []float64, ep candidate, topCandidates *distanceHeap, ef int, level int) {
	var visited bitset.BitSet
	visited.Set(uint(ep.id))

	candidates := newDistanceHeap(false, ef)
	candidates.Push(ep)

	topCandidates.Reset(true)
	topCandidates.Push(ep)

	for candidates.Len() > 0 {
		curr := candidates.Pop()
		if curr.distance > topCandidates.Top().distance {
			break
		}

		node := h.nodes[curr.id]
		if level >= len(node.Connections) {
			continue
		}
		for _, n := range node.Connections[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			worst := -1.0
			if topCandidates.Len() >= ef {
				worst = topCandidates.Top().distance
			}
			d := h.dist(q, h.nodes[n].Vector, worst)
			item := newCandidate(n, d)

			// Add the element to topCandidates if size < EF
			if topCandidates.Len() < ef {
				topCandidates.Push(item)
				candidates.Push(item)
			} else if d < worst {
				topCandidates.Pop()
				topCandidates.Push(item)
				candidates.Push(item)
			}
		}
	}
}

func newCandidate(id uint32, distance float64) candidate {
	return candidate{id: id, distance: distance}
}

// drainSorted empties max-heap and returns its items nearest first
func drainSorted(h *distanceHeap) []candidate {
	out := make([]candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = h.Pop()
	}
	return out
}

// selectNeighbours picks at most m ids out of candidates sorted nearest first
func (h *HNSW) selectNeighbours(sorted []candidate, m int) []uint32 {
	if !h.opts.Heuristic || len(sorted) <= m {
		n := min(m, len(sorted))
		ids := make([]uint32, n)
		for i := 0; i < n; i++ {
			ids[i] = sorted[i].id
		}
		return ids
	}

	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, item := range sorted {
		if len(selected) >= m {
			break
		}
		// Keep the candidate only if it is closer to the query than to every selected neighbour
		hit := true
		for _, s := range selected {
			if h.dist(h.nodes[s.id].Vector, h.nodes[item.id].Vector, item.distance) < item.distance {
				hit = false
				break
			}
		}
		if hit {
			selected = append(selected, item)
		} else {
			pruned = append(pruned, item)
		}
	}
	// Add any additional items from pruned if current items < M
	for i := 0; len(selected) < m && i < len(pruned); i++ {
		selected = append(selected, pruned[i])
	}

	ids := make([]uint32, len(selected))
	for i, s := range selected {
		ids[i] = s.id
	}
	return ids
}

// link adds edge first -> second, shrinking the neighbour list of first when it overflows
func (h *HNSW) link(first uint32, second uint32, level int) {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	node.Connections[level] = append(node.Connections[level], second)
	if len(node.Connections[level]) <= maxConnections {
		return
	}

	topCandidates := newDistanceHeap(true, len(node.Connections[level]))
	for _, id := range node.Connections[level] {
		topCandidates.Push(newCandidate(id, h.dist(node.Vector, h.nodes[id].Vector, -1)))
	}
	node.Connections[level] = h.selectNeighbours(drainSorted(topCandidates), maxConnections)
}

// Search performs approximate k-nearest neighbour search with candidate list of size ef (EFSearch when ef <= 0).
// Results are sorted by distance, ties by id.
func (h *HNSW) Search(q []float64, k int, ef int) ([]Result, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}
	if k <= 0 {
		return nil, errors.Errorf("k must be positive, got %d", k)
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if len(h.nodes) == 0 {
		return nil, ErrEmptyIndex
	}
	if ef <= 0 {
		ef = h.opts.EFSearch
	}
	ef = max(ef, k)

	ep := h.greedyClosest(q, 0)
	topCandidates := newDistanceHeap(true, ef+1)
	h.searchLayer(q, ep, topCandidates, ef, 0)

	sorted := drainSorted(topCandidates)
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return toResults(sorted), nil
}

func toResults(sorted []candidate) []Result {
	out := make([]Result, len(sorted))
	for i, c := range sorted {
		out[i] = Result{ID: c.id, Distance: c.distance}
	}
	return out
}

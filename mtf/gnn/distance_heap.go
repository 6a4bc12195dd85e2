package gnn

type candidate struct {
	id       uint32
	distance float64
}

// distanceHeap is a binary heap of candidates.
// With max set the farthest candidate is on top, otherwise the nearest one.
// Ties are broken by node id so traversal order never depends on insertion history.
type distanceHeap struct {
	items []candidate
	max   bool
}

func newDistanceHeap(max bool, capacity int) *distanceHeap {
	return &distanceHeap{
		items: make([]candidate, 0, capacity),
		max:   max,
	}
}

func (h *distanceHeap) Len() int { return len(h.items) }

func (h *distanceHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.distance != b.distance {
		if h.max {
			return a.distance > b.distance
		}
		return a.distance < b.distance
	}
	if h.max {
		return a.id > b.id
	}
	return a.id < b.id
}

func (h *distanceHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

// Top returns the root without removing it. Heap must not be empty.
func (h *distanceHeap) Top() candidate { return h.items[0] }

// Push pushes the element x onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *distanceHeap) Push(x candidate) {
	h.items = append(h.items, x)
	h.up(h.Len() - 1)
}

// Pop removes and returns the root element.
// The complexity is O(log n) where n = h.Len().
func (h *distanceHeap) Pop() candidate {
	n := h.Len() - 1
	h.Swap(0, n)
	h.down(0, n)
	last := h.items[n]
	h.items = h.items[:n]
	return last
}

// Reset empties the heap keeping allocated storage
func (h *distanceHeap) Reset(max bool) {
	h.items = h.items[:0]
	h.max = max
}

func (h *distanceHeap) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		j = i
	}
}

func (h *distanceHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.Less(j2, j1) {
			j = j2
		}
		if !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		i = j
	}
	return i > i0
}

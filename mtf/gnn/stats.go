package gnn

// Stats summarizes graph structure
type Stats struct {
	Nodes    int
	MaxLevel int
	// LevelNodes[l] is number of nodes whose top layer is l
	LevelNodes []int
	// AvgConnections[l] is mean out-degree of nodes present on layer l
	AvgConnections []float64
}

// Stats returns statistics about the HNSW graph
func (h *HNSW) Stats() Stats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	st := Stats{
		Nodes:          len(h.nodes),
		MaxLevel:       h.maxLevel,
		LevelNodes:     make([]int, h.maxLevel+1),
		AvgConnections: make([]float64, h.maxLevel+1),
	}
	if len(h.nodes) == 0 {
		return st
	}
	present := make([]int, h.maxLevel+1)
	for _, node := range h.nodes {
		st.LevelNodes[node.Layer]++
		for level := node.Layer; level >= 0; level-- {
			st.AvgConnections[level] += float64(len(node.Connections[level]))
			present[level]++
		}
	}
	for level := range st.AvgConnections {
		st.AvgConnections[level] /= float64(max(1, present[level]))
	}
	return st
}

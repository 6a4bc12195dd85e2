package gnn

import (
	"bytes"
	"encoding/gob"
	"math"

	"github.com/pkg/errors"
)

// Compile time checks to ensure HNSW satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*HNSW)(nil)
	_ gob.GobDecoder = (*HNSW)(nil)
)

// GobEncode method for HNSW. The distance function is not encoded.
func (h *HNSW) GobEncode() ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(h.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.opts); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode method for HNSW. Call SetDistanceFunc before using decoded index.
func (h *HNSW) GobDecode(data []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&h.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&h.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodes); err != nil {
		return err
	}

	if err := decoder.Decode(&h.opts); err != nil {
		return err
	}

	if h.opts.M < 2 {
		return errors.Errorf("decoded M must be at least 2, got %d", h.opts.M)
	}
	for i, node := range h.nodes {
		if node == nil || int(node.ID) != i || len(node.Vector) != h.dimension || node.Layer < 0 || node.Layer > h.maxLevel || len(node.Connections) != node.Layer+1 {
			return errors.Errorf("decoded node %d is malformed", i)
		}
	}
	if len(h.nodes) > 0 {
		if int(h.ep) >= len(h.nodes) {
			return errors.Errorf("decoded entry point %d is out of range [0, %d)", h.ep, len(h.nodes))
		}
		if h.maxLevel != h.nodes[h.ep].Layer {
			return errors.Errorf("decoded max level %d differs from entry point layer %d", h.maxLevel, h.nodes[h.ep].Layer)
		}
	}
	// links must stay inside the graph and on layers their targets exist in
	for i, node := range h.nodes {
		for layer, conns := range node.Connections {
			for _, id := range conns {
				if int(id) >= len(h.nodes) || h.nodes[id].Layer < layer {
					return errors.Errorf("decoded node %d has invalid link to %d on layer %d", i, id, layer)
				}
			}
		}
	}

	h.mmax = h.opts.M
	h.mmax0 = 2 * h.opts.M
	h.ml = 1 / math.Log(float64(h.opts.M))
	// every insertion consumed exactly one draw
	h.rng = newLevelRand(h.opts.Seed, len(h.nodes))
	return nil
}

// Decode restores index encoded with GobEncode and attaches dist to it
func Decode(data []byte, dist DistanceFunc) (*HNSW, error) {
	h := &HNSW{}
	if err := h.GobDecode(data); err != nil {
		return nil, err
	}
	h.dist = dist
	return h, nil
}

package dataset

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/gnn"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	dbMagic       = "MTFDB"
	indexMagic    = "MTFIX"
	formatVersion = 1
	// upper bound of one decoded block, 16 GiB
	maxBlockBytes = 1 << 34
)

type dbHeader struct {
	Magic    [5]byte
	Version  uint16
	Rows     uint32
	FeatDim  uint32
	StateDim uint32
	ID       [16]byte
}

type indexHeader struct {
	Magic     [5]byte
	Version   uint16
	DatasetID [16]byte
	Nodes     uint32
}

func putFloats(dst []byte, src []float64) []byte {
	for _, v := range src {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
	}
	return dst
}

func readFloats(dst []float64, src []byte) {
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
	}
}

// WriteDB encodes dataset: fixed header, reference state, then one zstd block with
// the feature slab followed by the perturbation slab.
func WriteDB(w io.Writer, d *Dataset) error {
	hdr := dbHeader{
		Version:  formatVersion,
		Rows:     uint32(d.rows),
		FeatDim:  uint32(d.FeatDim),
		StateDim: uint32(d.StateDim),
		ID:       d.ID,
	}
	copy(hdr.Magic[:], dbMagic)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return mtf.NewIOError(component, err, "writing database header")
	}
	if err := binary.Write(w, binary.LittleEndian, d.RefState); err != nil {
		return mtf.NewIOError(component, err, "writing reference state")
	}

	raw := make([]byte, 0, 8*(len(d.features)+len(d.perturbations)))
	raw = putFloats(raw, d.features)
	raw = putFloats(raw, d.perturbations)
	block, err := compressBlock(raw, CompressionZSTD)
	if err != nil {
		return mtf.NewIOError(component, err, "compressing database block")
	}
	if _, err := w.Write(block); err != nil {
		return mtf.NewIOError(component, err, "writing database block")
	}
	return nil
}

// ReadDB decodes dataset written by WriteDB
func ReadDB(r io.Reader) (*Dataset, error) {
	var hdr dbHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, mtf.NewIOError(component, err, "reading database header")
	}
	if string(hdr.Magic[:]) != dbMagic {
		return nil, mtf.NewIOError(component, nil, "bad database magic %q", hdr.Magic[:])
	}
	if hdr.Version != formatVersion {
		return nil, mtf.NewIOError(component, nil, "unsupported database version %d", hdr.Version)
	}
	if hdr.Rows == 0 || hdr.FeatDim == 0 || hdr.StateDim == 0 {
		return nil, mtf.NewIOError(component, nil, "empty database shape %dx(%d+%d)", hdr.Rows, hdr.FeatDim, hdr.StateDim)
	}
	expected := 8 * uint64(hdr.Rows) * (uint64(hdr.FeatDim) + uint64(hdr.StateDim))
	if expected > maxBlockBytes {
		return nil, mtf.NewIOError(component, nil, "database shape %dx(%d+%d) is too large", hdr.Rows, hdr.FeatDim, hdr.StateDim)
	}

	refState := make([]float64, hdr.StateDim)
	if err := binary.Read(r, binary.LittleEndian, refState); err != nil {
		return nil, mtf.NewIOError(component, err, "reading reference state")
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, mtf.NewIOError(component, err, "reading database block")
	}
	raw, consumed, err := decompressBlock(rest, expected)
	if err != nil {
		return nil, mtf.NewIOError(component, err, "decoding database block")
	}
	if uint64(len(raw)) != expected {
		return nil, mtf.NewIOError(component, nil, "database block holds %d bytes, expected %d", len(raw), expected)
	}
	if consumed != len(rest) {
		return nil, mtf.NewIOError(component, nil, "%d trailing bytes after database block", len(rest)-consumed)
	}

	d, err := New(int(hdr.Rows), int(hdr.FeatDim), int(hdr.StateDim), refState)
	if err != nil {
		return nil, mtf.NewIOError(component, err, "rebuilding dataset")
	}
	d.ID = hdr.ID
	readFloats(d.features, raw)
	readFloats(d.perturbations, raw[8*len(d.features):])
	return d, nil
}

// WriteIndex encodes graph index built over the dataset with the given id
func WriteIndex(w io.Writer, datasetID uuid.UUID, idx *gnn.HNSW) error {
	payload, err := idx.GobEncode()
	if err != nil {
		return mtf.NewIOError(component, err, "encoding index")
	}
	hdr := indexHeader{
		Version:   formatVersion,
		DatasetID: datasetID,
		Nodes:     uint32(idx.Len()),
	}
	copy(hdr.Magic[:], indexMagic)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return mtf.NewIOError(component, err, "writing index header")
	}
	block, err := compressBlock(payload, CompressionLZ4)
	if err != nil {
		return mtf.NewIOError(component, err, "compressing index block")
	}
	if _, err := w.Write(block); err != nil {
		return mtf.NewIOError(component, err, "writing index block")
	}
	return nil
}

// ReadIndex decodes graph index and the id of the dataset it belongs to
func ReadIndex(r io.Reader, dist gnn.DistanceFunc) (*gnn.HNSW, uuid.UUID, error) {
	var hdr indexHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, uuid.Nil, mtf.NewIOError(component, err, "reading index header")
	}
	if string(hdr.Magic[:]) != indexMagic {
		return nil, uuid.Nil, mtf.NewIOError(component, nil, "bad index magic %q", hdr.Magic[:])
	}
	if hdr.Version != formatVersion {
		return nil, uuid.Nil, mtf.NewIOError(component, nil, "unsupported index version %d", hdr.Version)
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, uuid.Nil, mtf.NewIOError(component, err, "reading index block")
	}
	payload, consumed, err := decompressBlock(rest, maxBlockBytes)
	if err != nil {
		return nil, uuid.Nil, mtf.NewIOError(component, err, "decoding index block")
	}
	if consumed != len(rest) {
		return nil, uuid.Nil, mtf.NewIOError(component, nil, "%d trailing bytes after index block", len(rest)-consumed)
	}
	idx, err := gnn.Decode(payload, dist)
	if err != nil {
		return nil, uuid.Nil, mtf.NewIOError(component, err, "decoding index graph")
	}
	if idx.Len() != int(hdr.Nodes) {
		return nil, uuid.Nil, mtf.NewIOError(component, nil, "index header declares %d nodes, graph has %d", hdr.Nodes, idx.Len())
	}
	return idx, hdr.DatasetID, nil
}

func writeFile(path string, write func(w io.Writer) error) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return mtf.NewIOError(component, errors.Wrapf(err, "Can't create file '%s'", path), "opening output")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = mtf.NewIOError(component, errors.Wrapf(cerr, "Can't close file '%s'", path), "closing output")
		}
	}()
	bw := bufio.NewWriter(file)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return mtf.NewIOError(component, errors.Wrapf(err, "Can't flush file '%s'", path), "writing output")
	}
	return nil
}

func readFile(path string) (*bytes.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mtf.NewIOError(component, errors.Wrapf(err, "Can't read file '%s'", path), "opening input")
	}
	return bytes.NewReader(data), nil
}

// Save writes dataset to dbPath and, when idx is not nil, the index to idxPath
func Save(d *Dataset, idx *gnn.HNSW, dbPath, idxPath string) error {
	if err := writeFile(dbPath, func(w io.Writer) error { return WriteDB(w, d) }); err != nil {
		return err
	}
	if idx == nil {
		return nil
	}
	if idx.Len() != d.Rows() {
		return mtf.NewLogicError(component, "index has %d nodes, dataset has %d rows", idx.Len(), d.Rows())
	}
	return writeFile(idxPath, func(w io.Writer) error { return WriteIndex(w, d.ID, idx) })
}

// LoadDB reads dataset file and validates it against the model sizes
func LoadDB(dbPath string, featDim, stateDim int) (*Dataset, error) {
	r, err := readFile(dbPath)
	if err != nil {
		return nil, err
	}
	d, err := ReadDB(r)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(featDim, stateDim); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadIndex reads index file and validates it against the dataset it was built from
func LoadIndex(idxPath string, d *Dataset, dist gnn.DistanceFunc) (*gnn.HNSW, error) {
	r, err := readFile(idxPath)
	if err != nil {
		return nil, err
	}
	idx, datasetID, err := ReadIndex(r, dist)
	if err != nil {
		return nil, err
	}
	if datasetID != d.ID {
		return nil, mtf.NewIOError(component, nil, "index was built for dataset %s, loaded dataset is %s", datasetID, d.ID)
	}
	if idx.Len() != d.Rows() {
		return nil, mtf.NewIOError(component, nil, "index has %d nodes, dataset has %d rows", idx.Len(), d.Rows())
	}
	if idx.Dimension() != d.FeatDim {
		return nil, mtf.NewIOError(component, nil, "index dimension %d does not match feature size %d", idx.Dimension(), d.FeatDim)
	}
	return idx, nil
}

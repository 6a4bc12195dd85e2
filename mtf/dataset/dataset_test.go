package dataset

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/gnn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squaredL2(a, b []float64, worst float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func randomDataset(t *testing.T, rows, featDim, stateDim int, seed uint64) *Dataset {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed))
	d, err := New(rows, featDim, stateDim, make([]float64, stateDim))
	require.NoError(t, err)
	feat := make([]float64, featDim)
	pert := make([]float64, stateDim)
	for i := 0; i < rows; i++ {
		for j := range feat {
			feat[j] = r.NormFloat64() * 10
		}
		for j := range pert {
			pert[j] = r.NormFloat64()
		}
		require.NoError(t, d.SetRow(i, feat, pert))
	}
	return d
}

func buildIndex(t *testing.T, d *Dataset) *gnn.HNSW {
	t.Helper()
	idx := gnn.New(d.FeatDim, squaredL2)
	for i := 0; i < d.Rows(); i++ {
		_, err := idx.Insert(d.Feature(i))
		require.NoError(t, err)
	}
	return idx
}

func TestNewValidation(t *testing.T) {
	_, err := New(0, 4, 3, make([]float64, 3))
	assert.ErrorIs(t, err, mtf.ErrConfiguration)
	_, err = New(10, 4, 3, make([]float64, 2))
	assert.ErrorIs(t, err, mtf.ErrConfiguration)

	d, err := New(2, 4, 3, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.ErrorIs(t, d.SetRow(2, make([]float64, 4), make([]float64, 3)), mtf.ErrLogic)
	assert.ErrorIs(t, d.SetRow(0, make([]float64, 5), make([]float64, 3)), mtf.ErrLogic)

	require.NoError(t, d.SetRow(1, []float64{1, 2, 3, 4}, []float64{5, 6, 7}))
	rec := d.Record(1)
	assert.Equal(t, []float64{1, 2, 3, 4}, rec.Feature)
	assert.Equal(t, []float64{5, 6, 7}, rec.Perturbation)
	assert.Equal(t, []float64{0, 0, 0, 0}, d.Feature(0))
}

func TestDBRoundTrip(t *testing.T) {
	d := randomDataset(t, 50, 12, 3, 1)
	d.RefState = []float64{10, -4, 0.25}

	var buf bytes.Buffer
	require.NoError(t, WriteDB(&buf, d))
	restored, err := ReadDB(&buf)
	require.NoError(t, err)

	assert.Equal(t, d.ID, restored.ID)
	assert.Equal(t, d.Rows(), restored.Rows())
	assert.Equal(t, d.RefState, restored.RefState)
	for i := 0; i < d.Rows(); i++ {
		assert.Equal(t, d.Record(i), restored.Record(i))
	}
}

func TestDBCorruption(t *testing.T) {
	d := randomDataset(t, 20, 6, 3, 2)
	var buf bytes.Buffer
	require.NoError(t, WriteDB(&buf, d))
	data := buf.Bytes()

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	_, err := ReadDB(bytes.NewReader(badMagic))
	assert.ErrorIs(t, err, mtf.ErrIO)

	_, err = ReadDB(bytes.NewReader(data[:len(data)-5]))
	assert.ErrorIs(t, err, mtf.ErrIO)

	trailing := append(append([]byte(nil), data...), 1, 2, 3)
	_, err = ReadDB(bytes.NewReader(trailing))
	assert.ErrorIs(t, err, mtf.ErrIO)

	_, err = ReadDB(bytes.NewReader(nil))
	assert.ErrorIs(t, err, mtf.ErrIO)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "samples.db")
	idxPath := filepath.Join(dir, "samples.idx")

	d := randomDataset(t, 120, 8, 3, 3)
	idx := buildIndex(t, d)
	require.NoError(t, Save(d, idx, dbPath, idxPath))

	loaded, err := LoadDB(dbPath, 8, 3)
	require.NoError(t, err)
	loadedIdx, err := LoadIndex(idxPath, loaded, squaredL2)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loadedIdx.Len())

	for i := 0; i < d.Rows(); i += 7 {
		want, err := idx.Search(d.Feature(i), 1, 32)
		require.NoError(t, err)
		got, err := loadedIdx.Search(loaded.Feature(i), 1, 32)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoadMismatch(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "a.db")
	idxPath := filepath.Join(dir, "a.idx")
	d := randomDataset(t, 30, 5, 3, 4)
	require.NoError(t, Save(d, buildIndex(t, d), dbPath, idxPath))

	_, err := LoadDB(dbPath, 6, 3)
	assert.ErrorIs(t, err, mtf.ErrIO)
	_, err = LoadDB(dbPath, 5, 4)
	assert.ErrorIs(t, err, mtf.ErrIO)
	_, err = LoadDB(filepath.Join(dir, "missing.db"), 5, 3)
	assert.ErrorIs(t, err, mtf.ErrIO)

	// index of another dataset with the same shape
	other := randomDataset(t, 30, 5, 3, 5)
	_, err = LoadIndex(idxPath, other, squaredL2)
	assert.ErrorIs(t, err, mtf.ErrIO)

	raw, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(idxPath, raw[:len(raw)-10], 0o644))
	_, err = LoadIndex(idxPath, d, squaredL2)
	assert.ErrorIs(t, err, mtf.ErrIO)
}

func TestCompressBlock(t *testing.T) {
	repetitive := bytes.Repeat([]byte("template"), 512)
	noise := make([]byte, 256)
	r := rand.New(rand.NewPCG(6, 6))
	for i := range noise {
		noise[i] = byte(r.IntN(256))
	}

	for _, ct := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, data := range [][]byte{repetitive, noise} {
			block, err := compressBlock(data, ct)
			require.NoError(t, err)
			if ct != CompressionNone && len(data) == len(repetitive) {
				assert.Less(t, len(block), len(data))
			}
			decoded, consumed, err := decompressBlock(block, uint64(len(data)))
			require.NoError(t, err)
			assert.Equal(t, len(block), consumed)
			assert.Equal(t, data, decoded)
		}
	}

	block, err := compressBlock(repetitive, CompressionZSTD)
	require.NoError(t, err)
	_, _, err = decompressBlock(block, 16)
	assert.Error(t, err)
	_, err = compressBlock(repetitive, CompressionType(9))
	assert.Error(t, err)
}

package dataset

import (
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// CompressionType defines the compression algorithm of a stored block.
type CompressionType uint8

const (
	// CompressionNone stores raw bytes.
	CompressionNone CompressionType = 0
	// CompressionLZ4 is used for the index artifact (fast to load).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD is used for the feature slab (better ratio on float data).
	CompressionZSTD CompressionType = 2
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Block layout: [type uint8][uncompressed size uint64][stored size uint64][data...].
// Incompressible data is stored with CompressionNone.
const blockHeaderSize = 17

func compressBlock(data []byte, compressionType CompressionType) ([]byte, error) {
	var compressed []byte
	switch compressionType {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, errors.Wrap(err, "Can't compress block with lz4")
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, errors.Wrap(err, "Can't create zstd encoder")
		}
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionNone:
	default:
		return nil, errors.Errorf("unknown compression type %d", compressionType)
	}

	// lz4 reports incompressible input with zero length
	if len(compressed) == 0 || len(compressed) >= len(data) {
		compressionType = CompressionNone
		compressed = data
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	out[0] = byte(compressionType)
	binary.LittleEndian.PutUint64(out[1:], uint64(len(data)))
	binary.LittleEndian.PutUint64(out[9:], uint64(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// decompressBlock returns decoded data and number of consumed bytes.
// Blocks declaring more than limit uncompressed bytes are rejected before allocation.
func decompressBlock(data []byte, limit uint64) ([]byte, int, error) {
	if len(data) < blockHeaderSize {
		return nil, 0, errors.New("block too small for header")
	}
	compressionType := CompressionType(data[0])
	uncompressedSize := binary.LittleEndian.Uint64(data[1:])
	storedSize := binary.LittleEndian.Uint64(data[9:])
	if uncompressedSize > limit {
		return nil, 0, errors.Errorf("block declares %d bytes, limit is %d", uncompressedSize, limit)
	}
	if uint64(len(data)-blockHeaderSize) < storedSize {
		return nil, 0, errors.Errorf("block truncated: need %d bytes, have %d", storedSize, len(data)-blockHeaderSize)
	}
	stored := data[blockHeaderSize : blockHeaderSize+int(storedSize)]
	consumed := blockHeaderSize + int(storedSize)

	switch compressionType {
	case CompressionNone:
		if storedSize != uncompressedSize {
			return nil, 0, errors.New("raw block size mismatch")
		}
		return stored, consumed, nil
	case CompressionLZ4:
		result := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(stored, result)
		if err != nil {
			return nil, 0, errors.Wrap(err, "Can't decompress lz4 block")
		}
		if uint64(n) != uncompressedSize {
			return nil, 0, errors.New("decompressed size mismatch")
		}
		return result, consumed, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, 0, errors.Wrap(err, "Can't create zstd decoder")
		}
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(stored, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, 0, errors.Wrap(err, "Can't decompress zstd block")
		}
		if uint64(len(decoded)) != uncompressedSize {
			return nil, 0, errors.New("decompressed size mismatch")
		}
		return decoded, consumed, nil
	default:
		return nil, 0, errors.Errorf("unknown compression type %d", compressionType)
	}
}

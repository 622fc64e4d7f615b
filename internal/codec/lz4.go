package codec

import (
	"encoding/binary"
	"errors"

	"github.com/pierrec/lz4/v4"
)

// errLZ4Header is returned when a block is too short to carry its length prefix.
var errLZ4Header = errors.New("codec: lz4 block missing length header")

// LZ4Compressor implements LZ4 block compression. Each block is prefixed
// with the uncompressed length as a little-endian uint32.
type LZ4Compressor struct{}

// NewLZ4Compressor creates a new LZ4 compressor
func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

// Algorithm returns the algorithm name
func (c *LZ4Compressor) Algorithm() Algorithm {
	return AlgorithmLZ4
}

// Compress compresses data using LZ4
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(dst, uint32(len(data)))

	n, err := lz4.CompressBlock(data, dst[4:], nil)
	if err != nil {
		return nil, err
	}

	// Incompressible input: CompressBlock reports 0 and we store it raw.
	if n == 0 {
		dst = append(dst[:4], data...)
		dst[3] |= 0x80
		return dst, nil
	}

	return dst[:4+n], nil
}

// Decompress decompresses LZ4 data
func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errLZ4Header
	}

	raw := data[3]&0x80 != 0
	hdr := binary.LittleEndian.Uint32(data) &^ (0x80 << 24)
	if raw {
		out := make([]byte, len(data)-4)
		copy(out, data[4:])
		return out, nil
	}

	out := make([]byte, hdr)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, err
	}

	return out[:n], nil
}

var _ Compressor = (*LZ4Compressor)(nil)

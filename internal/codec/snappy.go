package codec

import (
	"github.com/golang/snappy"
)

// SnappyCompressor implements Snappy block compression
type SnappyCompressor struct{}

// Algorithm returns the algorithm name
func (SnappyCompressor) Algorithm() Algorithm {
	return AlgorithmSnappy
}

// Compress compresses data using Snappy
func (SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Decompress decompresses Snappy data
func (SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

var _ Compressor = SnappyCompressor{}

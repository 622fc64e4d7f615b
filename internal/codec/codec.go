// Package codec provides the value codecs used by the emulated device when a
// store requests compression.
//
// Supported algorithms:
//
//   - Zstandard (zstd): best ratio, fast decompression
//   - LZ4: fastest, moderate ratio
//   - Snappy: fast, low CPU, moderate ratio
//
// All compressors are safe for concurrent use.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// AlgorithmNone stores values as-is
	AlgorithmNone Algorithm = "none"
	// AlgorithmZstd uses Zstandard compression
	AlgorithmZstd Algorithm = "zstd"
	// AlgorithmLZ4 uses LZ4 block compression
	AlgorithmLZ4 Algorithm = "lz4"
	// AlgorithmSnappy uses Snappy block compression
	AlgorithmSnappy Algorithm = "snappy"
)

// ErrUnknownAlgorithm is returned by New for unsupported algorithms.
var ErrUnknownAlgorithm = errors.New("codec: unknown algorithm")

// Compressor handles compression/decompression
type Compressor interface {
	// Compress compresses data and returns compressed bytes
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses data and returns original bytes
	Decompress(data []byte) ([]byte, error)
	// Algorithm returns the algorithm name
	Algorithm() Algorithm
}

// Parse converts a configuration string into an Algorithm.
func Parse(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "", AlgorithmNone:
		return AlgorithmNone, nil
	case AlgorithmZstd, AlgorithmLZ4, AlgorithmSnappy:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// New returns a compressor for alg.
func New(alg Algorithm) (Compressor, error) {
	switch alg {
	case "", AlgorithmNone:
		return noneCompressor{}, nil
	case AlgorithmZstd:
		return NewZstdCompressor()
	case AlgorithmLZ4:
		return NewLZ4Compressor(), nil
	case AlgorithmSnappy:
		return SnappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return AlgorithmNone }

package pool

import "unsafe"

// PageAlignment is the alignment devices expect for DMA buffers.
const PageAlignment = 4096

// Aligned allocates a zeroed buffer of size bytes whose first byte sits on
// an alignment boundary. alignment must be a power of two.
func Aligned(size, alignment int) []byte {
	if size <= 0 {
		return []byte{}
	}
	if alignment <= 1 {
		return make([]byte, size)
	}

	buf := make([]byte, size+alignment)

	//nolint:gosec // G103: unsafe.Pointer required for buffer alignment
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (ptr + uintptr(alignment-1)) &^ uintptr(alignment-1)
	off := int(aligned - ptr)

	return buf[off : off+size : off+size]
}

// IsAligned reports whether buf starts on an alignment boundary.
func IsAligned(buf []byte, alignment int) bool {
	if len(buf) == 0 {
		return true
	}

	//nolint:gosec // G103: unsafe.Pointer required for alignment check
	ptr := uintptr(unsafe.Pointer(&buf[0]))

	return ptr%uintptr(alignment) == 0
}

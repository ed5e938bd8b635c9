package gpu

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// AlignUp rounds v up to the next multiple of alignment, which must be a
// power of two. A zero alignment returns v unchanged.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// AsBytes reinterprets a slice of plain values as its backing bytes without copying.
// T must not contain pointers.
func AsBytes[T any](items []T) []byte {
	if len(items) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&items[0])), len(items)*int(unsafe.Sizeof(zero)))
}

// ValueBytes returns the bytes of a single plain value.
func ValueBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(unsafe.Sizeof(*v)))
}

// SizeOf returns the size in bytes of T.
func SizeOf[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

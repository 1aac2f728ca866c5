package vkr

import (
	"unsafe"
)

var end = "\x00"
var endChar byte = '\x00'

// ToBytes converts an unsafe.Pointer plus a length in bytes into a byte
// slice aliasing the same storage.
func ToBytes(ptr unsafe.Pointer, lenInBytes int) []byte {
	const m = 0x7fffffff
	return (*[m]byte)(ptr)[:lenInBytes]
}

func safeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

func sliceUint32(data []byte) []uint32 {
	const m = 0x7fffffff
	return (*[m / 4]uint32)(unsafe.Pointer((*sliceHeader)(unsafe.Pointer(&data)).Data))[:len(data)/4]
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

func unsafePtr[T any](v *T) unsafe.Pointer {
	return unsafe.Pointer(v)
}

func structBytes[T any](v *T) []byte {
	return ToBytes(unsafe.Pointer(v), int(unsafe.Sizeof(*v)))
}

func sliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return ToBytes(unsafe.Pointer(&s[0]), len(s)*int(unsafe.Sizeof(s[0])))
}

func alignUp(a, align uint64) uint64 {
	m := a % align
	if m == 0 {
		return a
	}
	return a - m + align
}

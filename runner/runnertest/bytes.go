package runnertest

import (
	"encoding/binary"
	"math"
)

// Float32s decodes little-endian float32 elements
func Float32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// PutFloat32s encodes v into b
func PutFloat32s(b []byte, v []float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

// Int32s decodes little-endian int32 elements
func Int32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// PutInt32s encodes v into b
func PutInt32s(b []byte, v []int32) {
	for i, n := range v {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(n))
	}
}

// ScalarInt32 decodes the first component of a by-value argument
func (a Arg) ScalarInt32() int32 {
	return int32(binary.LittleEndian.Uint32(a.Value.Data))
}

// ScalarFloat32 decodes the first component of a by-value argument
func (a Arg) ScalarFloat32() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(a.Value.Data))
}

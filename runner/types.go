// runner/types.go
package runner

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
	"gonum.org/v1/gonum/floats"
)

// Array is a host buffer of packed little-endian elements of one DataType
type Array struct {
	Type signature.DataType
	Data []byte
}

// NewArray copies a Go slice into an Array, inferring the element type
func NewArray(values interface{}) (Array, error) {
	switch v := values.(type) {
	case Array:
		return v.Clone(), nil
	case []float64:
		return FromFloat64s(v), nil
	case []float32:
		return fill(signature.Float, len(v), func(i int) scalar { return floatScalar(float64(v[i])) }), nil
	case []int:
		return fill(signature.Long, len(v), func(i int) scalar { return intScalar(int64(v[i])) }), nil
	case []int8:
		return fill(signature.Char, len(v), func(i int) scalar { return intScalar(int64(v[i])) }), nil
	case []int16:
		return fill(signature.Short, len(v), func(i int) scalar { return intScalar(int64(v[i])) }), nil
	case []int32:
		return fill(signature.Int, len(v), func(i int) scalar { return intScalar(int64(v[i])) }), nil
	case []int64:
		return FromInt64s(v), nil
	case []uint:
		return fill(signature.ULong, len(v), func(i int) scalar { return uintScalar(uint64(v[i])) }), nil
	case []uint8:
		return fill(signature.UChar, len(v), func(i int) scalar { return uintScalar(uint64(v[i])) }), nil
	case []uint16:
		return fill(signature.UShort, len(v), func(i int) scalar { return uintScalar(uint64(v[i])) }), nil
	case []uint32:
		return fill(signature.UInt, len(v), func(i int) scalar { return uintScalar(uint64(v[i])) }), nil
	case []uint64:
		return fill(signature.ULong, len(v), func(i int) scalar { return uintScalar(v[i]) }), nil
	case []bool:
		return fill(signature.Bool, len(v), func(i int) scalar {
			if v[i] {
				return uintScalar(1)
			}
			return uintScalar(0)
		}), nil
	default:
		return Array{}, failure.New(failure.KindValueConstraint, "unsupported host array type %T", values)
	}
}

// FromFloat64s builds a double Array
func FromFloat64s(values []float64) Array {
	return fill(signature.Double, len(values), func(i int) scalar { return floatScalar(values[i]) })
}

// FromInt64s builds a long Array
func FromInt64s(values []int64) Array {
	return fill(signature.Long, len(values), func(i int) scalar { return intScalar(values[i]) })
}

func fill(dt signature.DataType, n int, at func(i int) scalar) Array {
	a := Array{Type: dt, Data: make([]byte, int64(n)*dt.Size())}
	for i := 0; i < n; i++ {
		a.store(i, at(i))
	}
	return a
}

// Len returns the number of elements
func (a Array) Len() int {
	size := a.Type.Size()
	if size == 0 {
		return 0
	}
	return int(int64(len(a.Data)) / size)
}

// Clone returns a deep copy
func (a Array) Clone() Array {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Array{Type: a.Type, Data: data}
}

// Convert returns a copy of a coerced element-wise to dt. Narrowing
// conversions follow Go conversion rules and may lose information.
func (a Array) Convert(dt signature.DataType) (Array, error) {
	if !dt.Valid() {
		return Array{}, failure.New(failure.KindValueConstraint, "cannot convert array to %v", dt)
	}
	if !a.Type.Valid() {
		return Array{}, failure.New(failure.KindValueConstraint, "array has invalid element type %v", a.Type)
	}
	if dt == a.Type {
		return a.Clone(), nil
	}
	return fill(dt, a.Len(), a.load), nil
}

// Float64s decodes the elements as float64
func (a Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.load(i).float()
	}
	return out
}

// Int64s decodes the elements as int64
func (a Array) Int64s() []int64 {
	out := make([]int64, a.Len())
	for i := range out {
		out[i] = a.load(i).int()
	}
	return out
}

func (a Array) String() string {
	return fmt.Sprintf("%v%v", a.Type, a.Float64s())
}

// AlmostEqual compares two array lists element-wise within tol
func AlmostEqual(lhs, rhs []Array, tol float64) bool {
	if len(lhs) != len(rhs) {
		return false
	}
	for i := range lhs {
		l, r := lhs[i].Float64s(), rhs[i].Float64s()
		if len(l) != len(r) || !floats.EqualApprox(l, r, tol) {
			return false
		}
	}
	return true
}

type wireArray struct {
	Type signature.DataType `json:"type"`
	Data []byte             `json:"data"`
}

func (a Array) MarshalJSON() ([]byte, error) {
	data := a.Data
	if data == nil {
		data = []byte{}
	}
	return json.Marshal(wireArray{Type: a.Type, Data: data})
}

func (a *Array) UnmarshalJSON(b []byte) error {
	var w wireArray
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("array has no valid element type")
	}
	if int64(len(w.Data))%w.Type.Size() != 0 {
		return fmt.Errorf("array of %v has %d bytes, not a whole number of elements", w.Type, len(w.Data))
	}
	a.Type, a.Data = w.Type, w.Data
	return nil
}

// scalar holds one element in its widest representation
type scalar struct {
	kind byte // 'f', 'i' or 'u'
	f    float64
	i    int64
	u    uint64
}

func floatScalar(f float64) scalar { return scalar{kind: 'f', f: f} }
func intScalar(i int64) scalar     { return scalar{kind: 'i', i: i} }
func uintScalar(u uint64) scalar   { return scalar{kind: 'u', u: u} }

func (s scalar) float() float64 {
	switch s.kind {
	case 'i':
		return float64(s.i)
	case 'u':
		return float64(s.u)
	}
	return s.f
}

func (s scalar) int() int64 {
	switch s.kind {
	case 'f':
		return int64(s.f)
	case 'u':
		return int64(s.u)
	}
	return s.i
}

func (s scalar) uint() uint64 {
	switch s.kind {
	case 'f':
		if s.f < 0 {
			return uint64(int64(s.f))
		}
		return uint64(s.f)
	case 'i':
		return uint64(s.i)
	}
	return s.u
}

func (a Array) load(i int) scalar {
	size := a.Type.Size()
	b := a.Data[int64(i)*size : int64(i+1)*size]
	switch a.Type {
	case signature.Bool, signature.UChar:
		return uintScalar(uint64(b[0]))
	case signature.Char:
		return intScalar(int64(int8(b[0])))
	case signature.Short:
		return intScalar(int64(int16(binary.LittleEndian.Uint16(b))))
	case signature.UShort:
		return uintScalar(uint64(binary.LittleEndian.Uint16(b)))
	case signature.Int:
		return intScalar(int64(int32(binary.LittleEndian.Uint32(b))))
	case signature.UInt:
		return uintScalar(uint64(binary.LittleEndian.Uint32(b)))
	case signature.Long:
		return intScalar(int64(binary.LittleEndian.Uint64(b)))
	case signature.ULong:
		return uintScalar(binary.LittleEndian.Uint64(b))
	case signature.Float:
		return floatScalar(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case signature.Double:
		return floatScalar(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return scalar{}
}

func (a Array) store(i int, s scalar) {
	size := a.Type.Size()
	b := a.Data[int64(i)*size : int64(i+1)*size]
	switch a.Type {
	case signature.Bool:
		if s.float() != 0 {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case signature.Char, signature.UChar:
		if s.kind == 'u' {
			b[0] = byte(s.u)
		} else {
			b[0] = byte(s.int())
		}
	case signature.Short, signature.UShort:
		binary.LittleEndian.PutUint16(b, uint16(s.uint()))
	case signature.Int, signature.UInt:
		binary.LittleEndian.PutUint32(b, uint32(s.uint()))
	case signature.Long, signature.ULong:
		binary.LittleEndian.PutUint64(b, s.uint())
	case signature.Float:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(s.float())))
	case signature.Double:
		binary.LittleEndian.PutUint64(b, math.Float64bits(s.float()))
	}
}

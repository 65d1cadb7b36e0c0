package runner

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewArray(t *testing.T) {
	tests := []struct {
		values interface{}
		typ    signature.DataType
		want   []float64
	}{
		{[]float64{0, 1.5, -2}, signature.Double, []float64{0, 1.5, -2}},
		{[]float32{0.5, 2}, signature.Float, []float64{0.5, 2}},
		{[]int{1, -2, 3}, signature.Long, []float64{1, -2, 3}},
		{[]int8{-1, 7}, signature.Char, []float64{-1, 7}},
		{[]int16{-300}, signature.Short, []float64{-300}},
		{[]int32{2, 4}, signature.Int, []float64{2, 4}},
		{[]int64{1 << 40}, signature.Long, []float64{1 << 40}},
		{[]uint8{255}, signature.UChar, []float64{255}},
		{[]uint16{65535}, signature.UShort, []float64{65535}},
		{[]uint32{7}, signature.UInt, []float64{7}},
		{[]uint64{9}, signature.ULong, []float64{9}},
		{[]bool{true, false}, signature.Bool, []float64{1, 0}},
	}
	for _, tt := range tests {
		a, err := NewArray(tt.values)
		require.NoError(t, err)
		assert.Equal(t, tt.typ, a.Type)
		assert.Equal(t, len(tt.want), a.Len())
		assert.Equal(t, tt.want, a.Float64s())
	}

	_, err := NewArray([]string{"x"})
	assert.True(t, errors.Is(err, failure.ErrValueConstraint))
}

func TestArray_Convert(t *testing.T) {
	src := FromFloat64s([]float64{0, 1.75, -2.5, 3})

	asInt, err := src.Convert(signature.Int)
	require.NoError(t, err)
	assert.Equal(t, signature.Int, asInt.Type)
	assert.Equal(t, int64(16), int64(len(asInt.Data)))
	assert.Equal(t, []int64{0, 1, -2, 3}, asInt.Int64s())

	asFloat, err := asInt.Convert(signature.Float)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, -2, 3}, asFloat.Float64s())

	// narrowing wraps the way a C cast does
	asUChar, err := FromInt64s([]int64{-1, 256, 257}).Convert(signature.UChar)
	require.NoError(t, err)
	assert.Equal(t, []int64{255, 0, 1}, asUChar.Int64s())

	asChar, err := FromInt64s([]int64{-3, 130}).Convert(signature.Char)
	require.NoError(t, err)
	assert.Equal(t, []int64{-3, -126}, asChar.Int64s())

	// the source is left untouched
	assert.Equal(t, []float64{0, 1.75, -2.5, 3}, src.Float64s())

	_, err = src.Convert(signature.DataType(0))
	assert.Error(t, err)
}

func TestArray_Clone(t *testing.T) {
	a := FromInt64s([]int64{1, 2})
	b := a.Clone()
	b.Data[0] = 9
	assert.Equal(t, []int64{1, 2}, a.Int64s())
}

func TestArray_JSON(t *testing.T) {
	a, err := NewArray([]int32{1, 2})
	require.NoError(t, err)
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"int","data":"AQAAAAIAAAA="}`, string(data))

	var back Array
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)

	empty, err := json.Marshal(Array{Type: signature.Float})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"float","data":""}`, string(empty))

	assert.Error(t, json.Unmarshal([]byte(`{"type":"int","data":"AQA="}`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"type":"half","data":""}`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"data":""}`), &back))
}

func TestAlmostEqual(t *testing.T) {
	a := []Array{FromFloat64s([]float64{0, 2, 4}), FromInt64s([]int64{2, 4})}
	b := []Array{FromFloat64s([]float64{0, 2, 4.0000001}), FromInt64s([]int64{2, 4})}
	assert.True(t, AlmostEqual(a, b, 1e-6))
	assert.False(t, AlmostEqual(a, b, 1e-9))
	assert.False(t, AlmostEqual(a, a[:1], 1e-6))
	assert.False(t, AlmostEqual(a, []Array{FromFloat64s([]float64{0, 2}), a[1]}, 1e-6))
}

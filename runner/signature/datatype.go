package signature

import (
	"fmt"
)

// DataType is an OpenCL scalar element type
type DataType int

const (
	Bool DataType = iota + 1
	Char
	UChar
	Short
	UShort
	Int
	UInt
	Long
	ULong
	Float
	Double
)

var typeNames = map[DataType]string{
	Bool:   "bool",
	Char:   "char",
	UChar:  "uchar",
	Short:  "short",
	UShort: "ushort",
	Int:    "int",
	UInt:   "uint",
	Long:   "long",
	ULong:  "ulong",
	Float:  "float",
	Double: "double",
}

// Size returns the size in bytes of one element
func (dt DataType) Size() int64 {
	switch dt {
	case Bool, Char, UChar:
		return 1
	case Short, UShort:
		return 2
	case Int, UInt, Float:
		return 4
	case Long, ULong, Double:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether dt is a floating point type
func (dt DataType) IsFloat() bool {
	return dt == Float || dt == Double
}

// IsSigned reports whether dt is a signed integer type
func (dt DataType) IsSigned() bool {
	switch dt {
	case Char, Short, Int, Long:
		return true
	}
	return false
}

// Valid reports whether dt is a known type
func (dt DataType) Valid() bool {
	_, ok := typeNames[dt]
	return ok
}

// String returns the OpenCL C name
func (dt DataType) String() string {
	if name, ok := typeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

// ParseDataType maps an OpenCL C scalar type name to a DataType
func ParseDataType(name string) (DataType, error) {
	for dt, n := range typeNames {
		if n == name {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}

func (dt DataType) MarshalText() ([]byte, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid data type %d", int(dt))
	}
	return []byte(dt.String()), nil
}

func (dt *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

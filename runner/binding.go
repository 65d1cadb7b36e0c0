// File: runner/binding.go
// ArgumentBinder - map host inputs and argument descriptors to device resources

package runner

import (
	"fmt"

	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
)

// ActionFlags represents the memory operations to perform for an argument
type ActionFlags int

const (
	// No action
	NoAction ActionFlags = 0
	// Copy from host to device before kernel execution
	CopyTo ActionFlags = 1 << iota
	// Copy from device to host after kernel execution
	CopyBack
	// Bidirectional copy (CopyTo | CopyBack)
	Copy = CopyTo | CopyBack
)

// Variant is the kind of device resource backing an argument
type Variant int

const (
	// Global arguments mirror a host array in a device buffer
	Global Variant = iota + 1
	// Local arguments get device-only scratch memory
	Local
	// Scalar arguments are passed by value
	Scalar
)

func (v Variant) String() string {
	switch v {
	case Global:
		return "global"
	case Local:
		return "local"
	case Scalar:
		return "scalar"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// BoundArgument is one kernel parameter bound to its device resource
type BoundArgument struct {
	Descriptor signature.ArgDescriptor
	Variant    Variant
	Actions    ActionFlags

	// Input is the index of the host input consumed, or -1 for local memory
	Input int
	// Host is the host mirror of a Global argument
	Host *Array

	Memory Memory
	Value  *ScalarValue
}

// HasAction checks if a specific action is set
func (ba *BoundArgument) HasAction(action ActionFlags) bool {
	return ba.Actions&action != 0
}

// NeedsCopyTo returns true if this argument requires host→device copy
func (ba *BoundArgument) NeedsCopyTo() bool {
	return ba.HasAction(CopyTo)
}

// NeedsCopyBack returns true if this argument requires device→host copy
func (ba *BoundArgument) NeedsCopyBack() bool {
	return ba.HasAction(CopyBack)
}

// KernelArg returns the value handed to Kernel.Run
func (ba *BoundArgument) KernelArg() interface{} {
	if ba.Variant == Scalar {
		return *ba.Value
	}
	return ba.Memory
}

// CheckInputs verifies that inputs can satisfy args: one input per
// non-local argument, and exactly one value per vector component for
// by-value arguments.
func CheckInputs(args []signature.ArgDescriptor, inputs []Array) error {
	expected := 0
	for _, arg := range args {
		if !arg.IsLocal() {
			expected++
		}
	}
	if expected != len(inputs) {
		return failure.New(failure.KindValueConstraint,
			"Kernel expects %d inputs, but %d were provided", expected, len(inputs))
	}

	i := 0
	for _, arg := range args {
		if arg.IsLocal() {
			continue
		}
		if !arg.IsPointer && inputs[i].Len() != arg.VectorWidth {
			return failure.New(failure.KindValueConstraint,
				"argument %q expects %d value(s), but input %d has %d elements",
				arg.Name, arg.VectorWidth, i, inputs[i].Len())
		}
		i++
	}
	return nil
}

// LocalMemorySize returns the scratch bytes for a local argument: the larger
// of the global size and the longest input, times the vector width and
// element size. This deliberately over-provisions, matching the sizing rule
// of CLSmith's cl_launcher.
func LocalMemorySize(arg signature.ArgDescriptor, gsize NDRange, inputs []Array) int64 {
	elements := gsize.Product()
	for _, in := range inputs {
		if n := in.Len(); n > elements {
			elements = n
		}
	}
	return int64(elements) * int64(arg.VectorWidth) * arg.Type.Size()
}

// BindArguments creates one BoundArgument per descriptor. inputs are
// coerced in place to each argument's element type; Global arguments keep a
// pointer to their slot so copy-back lands in inputs. On error every
// resource allocated so far is freed.
func BindArguments(dev Device, args []signature.ArgDescriptor, inputs []Array,
	gsize NDRange) (bound []*BoundArgument, err error) {

	if err := CheckInputs(args, inputs); err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			FreeArguments(bound)
			bound = nil
		}
	}()

	dataIdx := 0
	for i, arg := range args {
		ba := &BoundArgument{Descriptor: arg, Input: -1}

		switch {
		case arg.IsGlobal():
			converted, err := inputs[dataIdx].Convert(arg.Type)
			if err != nil {
				return bound, fmt.Errorf("argument %d (%s): %w", i, arg.Name, err)
			}
			inputs[dataIdx] = converted
			ba.Variant = Global
			ba.Input = dataIdx
			ba.Host = &inputs[dataIdx]
			ba.Actions = CopyTo
			if !arg.IsReadOnly() {
				ba.Actions |= CopyBack
			}
			ba.Memory, err = dev.Malloc(ba.Host.Data, arg.IsReadOnly())
			if err != nil {
				return bound, bindError(i, arg, err)
			}
			dataIdx++

		case arg.IsLocal():
			ba.Variant = Local
			ba.Memory, err = dev.Scratch(LocalMemorySize(arg, gsize, inputs))
			if err != nil {
				return bound, bindError(i, arg, err)
			}

		case !arg.IsPointer:
			converted, err := inputs[dataIdx].Convert(arg.Type)
			if err != nil {
				return bound, fmt.Errorf("argument %d (%s): %w", i, arg.Name, err)
			}
			inputs[dataIdx] = converted
			ba.Variant = Scalar
			ba.Input = dataIdx
			ba.Value = scalarValue(arg, converted)
			dataIdx++

		default:
			// argument is neither global nor local, but is a pointer
			return bound, failure.New(failure.KindArgumentKind,
				"unknown argument type '%s'", arg)
		}

		bound = append(bound, ba)
	}

	if dataIdx != len(inputs) {
		return bound, failure.New(failure.KindValueConstraint,
			"failed to set input arguments: consumed %d of %d inputs", dataIdx, len(inputs))
	}
	return bound, nil
}

// FreeArguments releases the device resources of bound arguments
func FreeArguments(bound []*BoundArgument) {
	for _, ba := range bound {
		if ba != nil && ba.Memory != nil {
			ba.Memory.Free()
			ba.Memory = nil
		}
	}
}

func scalarValue(arg signature.ArgDescriptor, value Array) *ScalarValue {
	data := make([]byte, int64(arg.StorageWidth())*arg.Type.Size())
	copy(data, value.Data)
	return &ScalarValue{Type: arg.Type, Width: arg.VectorWidth, Data: data}
}

func bindError(i int, arg signature.ArgDescriptor, err error) error {
	if failure.KindOf(err) != "" {
		return fmt.Errorf("argument %d (%s): %w", i, arg.Name, err)
	}
	return failure.WithDiagnostic(failure.KindArgumentBind, err.Error(),
		"failed to allocate device memory for argument %d (%s)", i, arg)
}

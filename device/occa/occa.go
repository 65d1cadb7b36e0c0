// Package occa runs kernels through OCCA. Importing it registers the "occa"
// device backend with the runner.
//
// Kernel source is built as native OpenCL C (OKL translation disabled), so
// the device must be in OpenCL mode for real kernels; other modes are only
// useful for sources written against their native dialect.
package occa

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/notargets/gocca"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
	"github.com/notargets/cldrive/utils"
)

// Backend is the registered backend name
const Backend = "occa"

func init() {
	runner.RegisterBackend(Backend, func(properties string) (runner.Device, error) {
		return Open(properties)
	})
}

// Device wraps an OCCA device
type Device struct {
	device *gocca.OCCADevice
}

// Open creates a device from OCCA JSON device properties. Empty properties
// try utils.DefaultDeviceProperties in order.
func Open(properties string) (*Device, error) {
	dev, err := utils.CreateDevice(properties)
	if err != nil {
		return nil, err
	}
	return &Device{device: dev}, nil
}

// Mode is the OCCA backend mode, e.g. "OpenCL"
func (d *Device) Mode() string { return d.device.Mode() }

func (d *Device) Platform() string { return "OCCA " + d.device.Mode() }

func (d *Device) Name() string { return d.device.Mode() }

// KernelProperties returns the OCCA build properties for flags
func KernelProperties(flags []string) (string, error) {
	props := map[string]interface{}{
		"okl": map[string]bool{"enabled": false},
	}
	if len(flags) > 0 {
		props["compiler_flags"] = strings.Join(flags, " ")
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Device) Build(source, entry string, flags []string) (runner.Kernel, error) {
	propStr, err := KernelProperties(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode kernel properties: %w", err)
	}
	props := gocca.JsonParse(propStr)
	defer props.Free()

	kernel, err := d.device.BuildKernelFromString(source, entry, props)
	if err != nil {
		return nil, failure.WithDiagnostic(failure.KindBuild, err.Error(),
			"failed to build kernel %s", entry)
	}
	if kernel == nil {
		return nil, failure.New(failure.KindBuild, "failed to build kernel %s", entry)
	}
	return &Kernel{kernel: kernel, name: entry}, nil
}

// Malloc allocates a device buffer initialised from host. OCCA has no
// read-only allocation, so readOnly is not enforced.
func (d *Device) Malloc(host []byte, readOnly bool) (runner.Memory, error) {
	mem := d.device.Malloc(int64(len(host)), bytePointer(host), nil)
	if mem == nil {
		return nil, fmt.Errorf("OCCA malloc of %d bytes failed", len(host))
	}
	return &Memory{mem: mem, size: int64(len(host))}, nil
}

// Scratch fails: gocca cannot pass a local memory argument to a kernel.
func (d *Device) Scratch(nbytes int64) (runner.Memory, error) {
	return nil, failure.New(failure.KindArgumentBind,
		"local memory arguments are not supported by the OCCA backend")
}

func (d *Device) Finish() error {
	d.device.Finish()
	return nil
}

func (d *Device) Free() {
	d.device.Free()
}

// Memory wraps an OCCA allocation
type Memory struct {
	mem  *gocca.OCCAMemory
	size int64
}

func (m *Memory) Size() int64 { return m.size }

func (m *Memory) CopyFrom(host []byte) error {
	if int64(len(host)) > m.size {
		return fmt.Errorf("copy of %d bytes into %d byte buffer", len(host), m.size)
	}
	if len(host) > 0 {
		m.mem.CopyFrom(unsafe.Pointer(&host[0]), int64(len(host)))
	}
	return nil
}

func (m *Memory) CopyTo(host []byte) error {
	n := int64(len(host))
	if n > m.size {
		n = m.size
	}
	if n > 0 {
		m.mem.CopyTo(unsafe.Pointer(&host[0]), n)
	}
	return nil
}

func (m *Memory) Free() {
	m.mem.Free()
}

// Kernel wraps a built OCCA kernel
type Kernel struct {
	kernel *gocca.OCCAKernel
	name   string
}

func (k *Kernel) Name() string { return k.name }

// Run sets the launch geometry and runs the kernel. The OCCA outer
// dimensions are the number of work groups.
func (k *Kernel) Run(global, local runner.NDRange, args []interface{}) error {
	occaArgs := make([]interface{}, len(args))
	for i, arg := range args {
		converted, err := kernelArg(arg)
		if err != nil {
			return failure.New(failure.KindArgumentBind, "kernel %s: argument %d: %v", k.name, i, err)
		}
		occaArgs[i] = converted
	}

	outer, inner := RunDims(global, local)
	k.kernel.SetRunDims(outer, inner)
	if err := k.kernel.RunWithArgs(occaArgs...); err != nil {
		return failure.WithDiagnostic(failure.KindArgumentBind, err.Error(),
			"kernel %s rejected its arguments", k.name)
	}
	return nil
}

func (k *Kernel) Free() {
	k.kernel.Free()
}

// RunDims maps an NDRange launch onto OCCA outer (work group count) and
// inner (work group size) dimensions
func RunDims(global, local runner.NDRange) (outer, inner gocca.OCCADim) {
	groups := func(g, l int) uint64 {
		if l < 1 {
			l = 1
		}
		return uint64((g + l - 1) / l)
	}
	outer = gocca.OCCADim{
		X: groups(global.X, local.X),
		Y: groups(global.Y, local.Y),
		Z: groups(global.Z, local.Z),
	}
	inner = gocca.OCCADim{X: uint64(local.X), Y: uint64(local.Y), Z: uint64(local.Z)}
	return outer, inner
}

func kernelArg(arg interface{}) (interface{}, error) {
	switch v := arg.(type) {
	case *Memory:
		return v.mem, nil
	case runner.ScalarValue:
		return scalarArg(v)
	default:
		return nil, fmt.Errorf("unsupported argument of type %T", arg)
	}
}

// scalarArg decodes a by-value argument into the Go scalar gocca expects
func scalarArg(v runner.ScalarValue) (interface{}, error) {
	if v.Width != 1 {
		return nil, fmt.Errorf("vector %s%d by-value arguments are not supported by the OCCA backend",
			v.Type, v.Width)
	}
	if int64(len(v.Data)) < v.Type.Size() {
		return nil, fmt.Errorf("%s argument has %d bytes", v.Type, len(v.Data))
	}
	le := binary.LittleEndian
	switch v.Type {
	case signature.Bool:
		return v.Data[0] != 0, nil
	case signature.Char:
		return int8(v.Data[0]), nil
	case signature.UChar:
		return v.Data[0], nil
	case signature.Short:
		return int16(le.Uint16(v.Data)), nil
	case signature.UShort:
		return le.Uint16(v.Data), nil
	case signature.Int:
		return int32(le.Uint32(v.Data)), nil
	case signature.UInt:
		return le.Uint32(v.Data), nil
	case signature.Long:
		return int64(le.Uint64(v.Data)), nil
	case signature.ULong:
		return le.Uint64(v.Data), nil
	case signature.Float:
		return math.Float32frombits(le.Uint32(v.Data)), nil
	case signature.Double:
		return math.Float64frombits(le.Uint64(v.Data)), nil
	}
	return nil, fmt.Errorf("unsupported scalar type %v", v.Type)
}

func bytePointer(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

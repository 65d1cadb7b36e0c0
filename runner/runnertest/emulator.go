// Package runnertest provides an in-process device backend for tests.
//
// Kernels are Go functions registered by entry-point name with DefineKernel.
// Building a source selects the function named by the entry point; the
// source text itself is only inspected for a "#error" directive, which
// models a compiler failure. A kernel function that never returns models a
// non-terminating kernel.
package runnertest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/failure"
)

// Backend is the name the emulator registers under
const Backend = "emulator"

// Launch is what a kernel function receives
type Launch struct {
	Global runner.NDRange
	Local  runner.NDRange
	Args   []Arg
}

// Arg is one kernel argument: a device buffer or a by-value scalar
type Arg struct {
	Buffer *Buffer
	Value  *runner.ScalarValue
}

// KernelFunc emulates a kernel body over all work items
type KernelFunc func(l *Launch) error

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]KernelFunc)

	registerOnce sync.Once
)

// DefineKernel makes fn buildable under name, replacing any previous definition
func DefineKernel(name string, fn KernelFunc) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[name] = fn
}

func lookupKernel(name string) (KernelFunc, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	fn, ok := kernels[name]
	return fn, ok
}

// Register adds the emulator to the runner backends. It is safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		runner.RegisterBackend(Backend, func(properties string) (runner.Device, error) {
			return NewDevice(properties), nil
		})
	})
}

// Device records every operation it performs so tests can check ordering
type Device struct {
	// MallocErr, when set, is returned by Malloc and Scratch
	MallocErr error

	name string

	mu        sync.Mutex
	ops       []string
	lastFlags []string
	live      int
}

// NewDevice creates an emulated device. name is reported as the device name.
func NewDevice(name string) *Device {
	if name == "" {
		name = "emulated device"
	}
	return &Device{name: name}
}

func (d *Device) record(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, fmt.Sprintf(format, args...))
}

// Ops returns the operations performed so far
func (d *Device) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// LastFlags returns the compiler flags of the last Build
func (d *Device) LastFlags() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lastFlags...)
}

// Live returns the number of allocations not yet freed
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Device) Platform() string { return "Go emulator" }

func (d *Device) Name() string { return d.name }

func (d *Device) Build(source, entry string, flags []string) (runner.Kernel, error) {
	d.mu.Lock()
	d.lastFlags = append([]string(nil), flags...)
	d.mu.Unlock()
	d.record("build %s", entry)

	if idx := strings.Index(source, "#error"); idx >= 0 {
		line := source[idx:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		return nil, failure.WithDiagnostic(failure.KindBuild,
			"<kernel>: error: "+strings.TrimSpace(strings.TrimPrefix(line, "#error")),
			"clBuildProgram failed for kernel %s", entry)
	}
	fn, ok := lookupKernel(entry)
	if !ok {
		return nil, failure.WithDiagnostic(failure.KindBuild,
			fmt.Sprintf("no emulated kernel named %q", entry),
			"clBuildProgram failed for kernel %s", entry)
	}
	return &Kernel{dev: d, name: entry, fn: fn}, nil
}

func (d *Device) Malloc(host []byte, readOnly bool) (runner.Memory, error) {
	if d.MallocErr != nil {
		return nil, d.MallocErr
	}
	d.record("malloc %d ro=%t", len(host), readOnly)
	return d.alloc(append([]byte(nil), host...), readOnly), nil
}

func (d *Device) Scratch(nbytes int64) (runner.Memory, error) {
	if d.MallocErr != nil {
		return nil, d.MallocErr
	}
	d.record("scratch %d", nbytes)
	return d.alloc(make([]byte, nbytes), false), nil
}

func (d *Device) alloc(data []byte, readOnly bool) *Buffer {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
	return &Buffer{dev: d, data: data, ReadOnly: readOnly}
}

func (d *Device) Finish() error {
	d.record("finish")
	return nil
}

func (d *Device) Free() {
	d.record("free device")
}

// Buffer is an emulated device allocation
type Buffer struct {
	ReadOnly bool

	dev   *Device
	data  []byte
	freed bool
}

// Bytes exposes the device contents to kernel functions
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Size() int64 { return int64(len(b.data)) }

func (b *Buffer) CopyFrom(host []byte) error {
	if b.freed {
		return fmt.Errorf("copy into freed buffer")
	}
	if len(host) > len(b.data) {
		return fmt.Errorf("copy of %d bytes into %d byte buffer", len(host), len(b.data))
	}
	b.dev.record("copy_in %d", len(host))
	copy(b.data, host)
	return nil
}

func (b *Buffer) CopyTo(host []byte) error {
	if b.freed {
		return fmt.Errorf("copy from freed buffer")
	}
	b.dev.record("copy_out %d", len(host))
	copy(host, b.data)
	return nil
}

func (b *Buffer) Free() {
	if b.freed {
		return
	}
	b.freed = true
	b.dev.mu.Lock()
	b.dev.live--
	b.dev.mu.Unlock()
}

// Kernel is a built emulated kernel
type Kernel struct {
	dev  *Device
	name string
	fn   KernelFunc
}

func (k *Kernel) Name() string { return k.name }

func (k *Kernel) Run(global, local runner.NDRange, args []interface{}) error {
	launch := &Launch{Global: global, Local: local, Args: make([]Arg, len(args))}
	for i, a := range args {
		switch v := a.(type) {
		case *Buffer:
			if v.freed {
				return failure.New(failure.KindExecution, "argument %d is a freed buffer", i)
			}
			launch.Args[i] = Arg{Buffer: v}
		case runner.ScalarValue:
			val := v
			launch.Args[i] = Arg{Value: &val}
		default:
			return failure.New(failure.KindArgumentBind,
				"kernel %s: unsupported argument %d of type %T", k.name, i, a)
		}
	}
	k.dev.record("run %s %v %v", k.name, global, local)
	return k.fn(launch)
}

func (k *Kernel) Free() {
	k.dev.record("free kernel %s", k.name)
}

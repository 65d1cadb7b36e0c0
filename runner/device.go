package runner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
)

// DeviceSpec names a device in a form that can cross a process boundary.
// Properties are passed to the backend unchanged.
type DeviceSpec struct {
	Backend    string `json:"backend"`
	Properties string `json:"properties,omitempty"`
}

func (ds DeviceSpec) String() string {
	if ds.Properties == "" {
		return ds.Backend
	}
	return ds.Backend + " " + ds.Properties
}

// Device is the compile/queue context a kernel runs in
type Device interface {
	Platform() string
	Name() string
	// Build compiles source and returns its entry kernel. A compiler
	// failure is reported as a failure.KindBuild error with the compiler
	// log as diagnostic.
	Build(source, entry string, flags []string) (Kernel, error)
	// Malloc allocates a buffer initialised from host
	Malloc(host []byte, readOnly bool) (Memory, error)
	// Scratch allocates device-only working memory of nbytes
	Scratch(nbytes int64) (Memory, error)
	// Finish blocks until all queued work has completed
	Finish() error
	Free()
}

// Kernel is a compiled entry point. Each element of args is either a Memory
// or a ScalarValue, in kernel parameter order.
type Kernel interface {
	Name() string
	Run(global, local NDRange, args []interface{}) error
	Free()
}

// Memory is a device allocation
type Memory interface {
	Size() int64
	// CopyFrom copies host into the device allocation
	CopyFrom(host []byte) error
	// CopyTo copies the device allocation back into host
	CopyTo(host []byte) error
	Free()
}

// ScalarValue is a by-value kernel argument. Data holds Width elements
// (padded to the storage width for 3-component vectors).
type ScalarValue struct {
	Type  signature.DataType
	Width int
	Data  []byte
}

// Opener creates a device from backend-specific properties
type Opener func(properties string) (Device, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// RegisterBackend makes a device backend available to OpenDevice. It panics
// if name is registered twice.
func RegisterBackend(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("runner: RegisterBackend opener is nil")
	}
	if _, dup := backends[name]; dup {
		panic("runner: RegisterBackend called twice for backend " + name)
	}
	backends[name] = open
}

// Backends returns the sorted names of registered backends
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDevice opens the device described by spec
func OpenDevice(spec DeviceSpec) (Device, error) {
	backendsMu.RLock()
	open, ok := backends[spec.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, failure.New(failure.KindValueConstraint,
			"unknown device backend %q (registered: %v)", spec.Backend, Backends())
	}
	dev, err := open(spec.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device: %w", spec.Backend, err)
	}
	return dev, nil
}

package runner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/notargets/cldrive/runner/signature"
)

// State is a step of a kernel launch
type State int

const (
	StatePending State = iota
	StateBuilt
	StateBound
	StateDispatched
	StateSynced
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBuilt:
		return "built"
	case StateBound:
		return "bound"
	case StateDispatched:
		return "dispatched"
	case StateSynced:
		return "synced"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Job is everything needed to launch one kernel
type Job struct {
	Source string
	// Kernel and Args are parsed from Source when either is unset
	Kernel        string
	Args          []signature.ArgDescriptor
	Inputs        []Array
	GlobalSize    NDRange
	LocalSize     NDRange
	Optimizations bool
	Profiling     bool
}

// Profile holds wall-clock durations of each launch step
type Profile struct {
	Build    time.Duration `json:"build_ns"`
	CopyIn   time.Duration `json:"copy_in_ns"`
	Dispatch time.Duration `json:"dispatch_ns"`
	CopyOut  time.Duration `json:"copy_out_ns"`
}

// Total is the sum of all steps
func (p Profile) Total() time.Duration {
	return p.Build + p.CopyIn + p.Dispatch + p.CopyOut
}

// Executor runs a Job on a Device: build, bind, dispatch, sync. An Executor
// runs one job at a time.
type Executor struct {
	Device Device
	Logger *slog.Logger

	state   State
	profile Profile
}

// NewExecutor creates an Executor. A nil logger uses slog.Default().
func NewExecutor(device Device, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Device: device,
		Logger: logger,
		state:  StatePending,
	}
}

// State returns the step the last run reached
func (ex *Executor) State() State {
	return ex.state
}

// BuildFlags returns the compiler flags for the optimization setting
func BuildFlags(optimizations bool) []string {
	if optimizations {
		return nil
	}
	return []string{"-cl-opt-disable"}
}

// timed runs fn, accumulating its duration into d
func timed(d *time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	*d += time.Since(start)
	return err
}

// File: runner/kernel_execution.go
// KernelExecutor - Built → Bound → Dispatched → Synced → Done

package runner

import (
	"fmt"

	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
)

// Run executes job and returns the host arrays after the kernel has run, in
// input order. job.Inputs are not modified. The profile is nil unless
// job.Profiling is set.
func (ex *Executor) Run(job *Job) (outputs []Array, profile *Profile, err error) {
	ex.state = StatePending
	ex.profile = Profile{}

	defer func() {
		if r := recover(); r != nil {
			err = failure.New(failure.KindExecution, "device runtime panic: %v", r)
		}
		if err != nil {
			ex.state = StateFailed
			outputs, profile = nil, nil
		}
	}()

	if err := ex.prepare(job); err != nil {
		return nil, nil, err
	}
	ex.logJob(job)

	// the executor works on copies so the caller's arrays stay untouched
	data := make([]Array, len(job.Inputs))
	for i, in := range job.Inputs {
		data[i] = in.Clone()
	}

	// Built
	var kernel Kernel
	err = timed(&ex.profile.Build, func() error {
		var err error
		kernel, err = ex.build(job)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	defer kernel.Free()
	ex.state = StateBuilt

	// Bound
	bound, err := BindArguments(ex.Device, job.Args, data, job.GlobalSize)
	if err != nil {
		return nil, nil, err
	}
	defer FreeArguments(bound)

	err = timed(&ex.profile.CopyIn, func() error {
		// clear any existing tasks in the command queue
		if err := ex.Device.Finish(); err != nil {
			return failure.WithDiagnostic(failure.KindExecution, err.Error(), "device queue flush failed")
		}
		if err := executeCopyActions(bound, CopyTo); err != nil {
			return failure.WithDiagnostic(failure.KindArgumentBind, err.Error(), "host to device copy failed")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	ex.state = StateBound

	// Dispatched
	err = timed(&ex.profile.Dispatch, func() error {
		return ex.dispatch(kernel, job, bound)
	})
	if err != nil {
		return nil, nil, err
	}
	ex.state = StateDispatched

	// Synced
	err = timed(&ex.profile.CopyOut, func() error {
		if err := executeCopyActions(bound, CopyBack); err != nil {
			return failure.WithDiagnostic(failure.KindExecution, err.Error(), "device to host copy failed")
		}
		// wait for device commands to complete
		if err := ex.Device.Finish(); err != nil {
			return failure.WithDiagnostic(failure.KindExecution, err.Error(), "device synchronization failed")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	ex.state = StateSynced

	// Done
	ex.state = StateDone
	if job.Profiling {
		p := ex.profile
		ex.Logger.Debug("kernel profile",
			"build", p.Build, "copy_in", p.CopyIn, "dispatch", p.Dispatch, "copy_out", p.CopyOut)
		return data, &p, nil
	}
	return data, nil, nil
}

// prepare validates the job and fills in the signature if it is missing
func (ex *Executor) prepare(job *Job) error {
	if ex.Device == nil {
		return failure.New(failure.KindValueConstraint, "executor has no device")
	}
	// exactly one entry point; a multi-kernel source is a user error
	if n := signature.CountKernels(job.Source); n != 1 {
		return failure.New(failure.KindValueConstraint,
			"kernel source must declare exactly one kernel, found %d", n)
	}
	if job.Kernel == "" || job.Args == nil {
		sig, err := signature.Parse(job.Source)
		if err != nil {
			return err
		}
		job.Kernel, job.Args = sig.Name, sig.Args
	}
	if job.GlobalSize.Product() < 1 || job.LocalSize.Product() < 1 {
		return failure.New(failure.KindValueConstraint,
			"global size %v and local size %v must both have a product >= 1", job.GlobalSize, job.LocalSize)
	}
	if !job.GlobalSize.GreaterEqual(job.LocalSize) {
		return failure.New(failure.KindValueConstraint,
			"Global size %v must be larger than local size %v", job.GlobalSize, job.LocalSize)
	}
	return nil
}

func (ex *Executor) build(job *Job) (Kernel, error) {
	if job.Optimizations {
		ex.Logger.Debug("OpenCL optimizations: on")
	} else {
		ex.Logger.Debug("OpenCL optimizations: off")
	}

	kernel, err := ex.Device.Build(job.Source, job.Kernel, BuildFlags(job.Optimizations))
	if err != nil {
		if failure.KindOf(err) == failure.KindBuild {
			return nil, err
		}
		return nil, failure.WithDiagnostic(failure.KindBuild, err.Error(),
			"failed to build kernel %s", job.Kernel)
	}
	if kernel == nil {
		return nil, failure.New(failure.KindBuild, "kernel build returned nil for %s", job.Kernel)
	}
	return kernel, nil
}

func (ex *Executor) dispatch(kernel Kernel, job *Job, bound []*BoundArgument) error {
	err := kernel.Run(job.GlobalSize, job.LocalSize, kernelArguments(bound))
	if err == nil {
		return nil
	}
	if kind := failure.KindOf(err); kind != "" {
		return err
	}
	return failure.WithDiagnostic(failure.KindExecution, err.Error(),
		"kernel %s execution failed", job.Kernel)
}

// logJob emits CLSmith cl_launcher compatible diagnostics
func (ex *Executor) logJob(job *Job) {
	log := ex.Logger
	log.Debug(fmt.Sprintf("Platform: %s", ex.Device.Platform()))
	log.Debug(fmt.Sprintf("Device: %s", ex.Device.Name()))
	log.Debug(fmt.Sprintf("3-D global size %d = %v", job.GlobalSize.Product(), job.GlobalSize))
	log.Debug(fmt.Sprintf("3-D local size %d = %v", job.LocalSize.Product(), job.LocalSize))
	logArguments(log, job.Args, job.Inputs)
}

// Package driver runs a single kernel in a separate worker process bounded
// by a wall-clock timeout, so a kernel that never terminates cannot hang the
// caller.
//
// The driver validates and packages the request, writes it to a temporary
// job file and spawns a worker on it. The worker (see RunPorcelain) opens the
// device, runs the kernel and rewrites the job file with the outputs or the
// error it hit. Any binary can serve as the worker by calling PorcelainMain
// when IsPorcelain reports true.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
)

// maxDiagnostic bounds the worker output attached to a harness error
const maxDiagnostic = 4096

var defaultExtractor = func() signature.Extractor {
	c, err := signature.NewCachedExtractor(128, signature.Parser{})
	if err != nil {
		panic(err)
	}
	return c
}()

// Request is one kernel invocation
type Request struct {
	Device runner.DeviceSpec
	Source string
	Inputs []runner.Array
	// GlobalSize and LocalSize must have exactly three components
	GlobalSize []int
	LocalSize  []int
	// Timeout bounds the worker's wall-clock time. Zero or less waits forever.
	Timeout              time.Duration
	DisableOptimizations bool
	Profiling            bool
	// Verbose forwards the worker's diagnostics to Driver.Stderr
	Verbose bool
}

// Result is what a successful invocation returns
type Result struct {
	// Outputs holds one array per non-local kernel argument, in input order
	Outputs []runner.Array
	// Profile is set when the request asked for profiling
	Profile *runner.Profile
}

// Driver spawns workers. The zero value is ready to use: it re-executes the
// current binary as the worker.
type Driver struct {
	Extractor signature.Extractor
	// Command is the worker argv; the job file path is appended
	Command []string
	// TempDir holds job files; empty means os.TempDir()
	TempDir string
	Logger  *slog.Logger
	Stderr  io.Writer
	// Env is added to the worker's inherited environment
	Env []string
}

// Default is the Driver used by the package-level Drive
var Default = &Driver{}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Driver) extractor() signature.Extractor {
	if d.Extractor != nil {
		return d.Extractor
	}
	return defaultExtractor
}

// Package validates req and builds the job envelope for it. The caller's
// input arrays are copied, never modified.
func (d *Driver) Package(req *Request) (*Envelope, error) {
	if strings.TrimSpace(req.Device.Backend) == "" {
		return nil, failure.New(failure.KindValueConstraint, "no device backend given")
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, failure.New(failure.KindValueConstraint, "kernel source is empty")
	}
	gsize, err := runner.NewNDRange(req.GlobalSize...)
	if err != nil {
		return nil, fmt.Errorf("global size: %w", err)
	}
	lsize, err := runner.NewNDRange(req.LocalSize...)
	if err != nil {
		return nil, fmt.Errorf("local size: %w", err)
	}
	if gsize.Product() < 1 {
		return nil, failure.New(failure.KindValueConstraint, "global size %v must have a product >= 1", gsize)
	}
	if lsize.Product() < 1 {
		return nil, failure.New(failure.KindValueConstraint, "local size %v must have a product >= 1", lsize)
	}
	if !gsize.GreaterEqual(lsize) {
		return nil, failure.New(failure.KindValueConstraint,
			"Global size %v must be larger than local size %v", gsize, lsize)
	}

	sig, err := d.extractor().Extract(req.Source)
	if err != nil {
		return nil, err
	}
	if err := runner.CheckInputs(sig.Args, req.Inputs); err != nil {
		return nil, err
	}

	inputs := make([]runner.Array, 0, len(req.Inputs))
	idx := 0
	for _, arg := range sig.Args {
		if arg.IsLocal() {
			continue
		}
		converted, err := req.Inputs[idx].Convert(arg.Type)
		if err != nil {
			return nil, fmt.Errorf("input %d (%s): %w", idx, arg.Name, err)
		}
		inputs = append(inputs, converted)
		idx++
	}

	return &Envelope{
		Version:       WireVersion,
		ID:            uuid.NewString(),
		Device:        req.Device,
		Source:        req.Source,
		Kernel:        sig.Name,
		Args:          sig.Args,
		Inputs:        inputs,
		GlobalSize:    gsize,
		LocalSize:     lsize,
		Optimizations: !req.DisableOptimizations,
		Profiling:     req.Profiling,
	}, nil
}

// Run drives req in a worker process
func (d *Driver) Run(ctx context.Context, req *Request) (*Result, error) {
	log := d.logger()

	env, err := d.Package(req)
	if err != nil {
		return nil, err
	}
	log.Debug("packaged kernel job", "id", env.ID, "kernel", env.Kernel,
		"gsize", env.GlobalSize.String(), "lsize", env.LocalSize.String())

	f, err := os.CreateTemp(d.TempDir, "cldrive-"+env.ID+"-*.job")
	if err != nil {
		return nil, failure.New(failure.KindHarness, "failed to create job file: %v", err)
	}
	path := f.Name()
	defer os.Remove(path)

	err = Encode(f, env)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, failure.New(failure.KindHarness, "failed to write job file: %v", err)
	}

	if err := d.spawn(ctx, path, req); err != nil {
		return nil, err
	}

	out, err := ReadEnvelope(path)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if !out.Complete {
		return nil, failure.New(failure.KindHarness, "worker exited without completing job %s", env.ID)
	}
	outputs := out.Outputs
	if outputs == nil {
		outputs = []runner.Array{}
	}
	return &Result{Outputs: outputs, Profile: out.Profile}, nil
}

// Drive drives req and returns its outputs
func (d *Driver) Drive(ctx context.Context, req *Request) ([]runner.Array, error) {
	res, err := d.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Outputs, nil
}

func (d *Driver) command(path string) (*exec.Cmd, error) {
	argv := d.Command
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, failure.New(failure.KindHarness, "cannot locate worker executable: %v", err)
		}
		argv = []string{self}
	}
	args := append(append([]string(nil), argv[1:]...), path)
	cmd := exec.Command(argv[0], args...)
	cmd.Env = append(append(os.Environ(), d.Env...), PorcelainEnv+"=1")
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)
	return cmd, nil
}

// spawn runs the worker on path and maps its exit status to an error
func (d *Driver) spawn(ctx context.Context, path string, req *Request) error {
	log := d.logger()

	cmd, err := d.command(path)
	if err != nil {
		return err
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return failure.New(failure.KindHarness, "failed to start worker %s: %v", cmd.Path, err)
	}
	log.Debug("started worker", "pid", cmd.Process.Pid, "timeout", req.Timeout)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	timedOut, cancelled, err := awaitExit(waitErr, deadline, ctx.Done(), func() { killProcessGroup(cmd) })

	if req.Verbose && d.Stderr != nil {
		if _, werr := d.Stderr.Write(output.Bytes()); werr != nil {
			log.Warn("failed to forward worker output", "error", werr)
		}
	}
	if cancelled {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return failure.New(failure.KindHarness, "waiting for worker: %v", err)
	}
	status := exitStatus(cmd.ProcessState)
	log.Debug("worker exited", "status", status, "timed_out", timedOut)

	switch {
	case status == 0:
		return nil
	case timedOut:
		return failure.New(failure.KindNonTerminating,
			"kernel failed to complete within the %v timeout", req.Timeout)
	default:
		return failure.WithDiagnostic(failure.KindHarness, tail(output.String(), maxDiagnostic),
			"worker exited with status %d", status)
	}
}

// awaitExit waits for the worker, calling kill once when the deadline
// passes or done closes. An exit that is already pending wins over both.
func awaitExit(waitErr <-chan error, deadline <-chan time.Time, done <-chan struct{},
	kill func()) (timedOut, cancelled bool, err error) {

	for {
		select {
		case err = <-waitErr:
			return timedOut, cancelled, err
		case <-deadline:
			select {
			case err = <-waitErr:
				return timedOut, cancelled, err
			default:
			}
			timedOut = true
			deadline = nil
			kill()
		case <-done:
			select {
			case err = <-waitErr:
				return timedOut, cancelled, err
			default:
			}
			cancelled = true
			done = nil
			kill()
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Option adjusts a Request built by the package-level Drive
type Option func(*Request)

// WithTimeout bounds the kernel's wall-clock time
func WithTimeout(timeout time.Duration) Option {
	return func(r *Request) { r.Timeout = timeout }
}

// WithOptimizations toggles compiler optimizations (on by default)
func WithOptimizations(enabled bool) Option {
	return func(r *Request) { r.DisableOptimizations = !enabled }
}

// WithProfiling records per-step timings in the worker
func WithProfiling(enabled bool) Option {
	return func(r *Request) { r.Profiling = enabled }
}

// WithVerbose forwards worker diagnostics to Default.Stderr
func WithVerbose(enabled bool) Option {
	return func(r *Request) { r.Verbose = enabled }
}

// Drive runs source once on device with Default and returns the host arrays
// after the kernel has run, one per non-local argument.
func Drive(ctx context.Context, device runner.DeviceSpec, source string, inputs []runner.Array,
	gsize, lsize []int, opts ...Option) ([]runner.Array, error) {

	req := &Request{
		Device:     device,
		Source:     source,
		Inputs:     inputs,
		GlobalSize: gsize,
		LocalSize:  lsize,
	}
	for _, opt := range opts {
		opt(req)
	}
	return Default.Drive(ctx, req)
}

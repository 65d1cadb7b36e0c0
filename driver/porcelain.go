package driver

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/failure"
)

// PorcelainEnv marks a process as a driver worker
const PorcelainEnv = "CLDRIVE_PORCELAIN"

// IsPorcelain reports whether this process was spawned as a worker
func IsPorcelain() bool {
	return os.Getenv(PorcelainEnv) == "1"
}

// PorcelainMain is the worker entry point. args is the full argv; the job
// file path is its only argument. It returns the process exit code.
func PorcelainMain(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <job-file>\n", args[0])
		return 2
	}
	if err := RunPorcelain(args[1], logger); err != nil {
		logger.Error("worker failed", "error", err)
		return 1
	}
	return 0
}

// RunPorcelain executes the job at path and rewrites the file with its
// outputs or the error it raised. Kernel failures are recorded in the
// envelope; the returned error is non-nil only when the job file itself
// cannot be read or written.
func RunPorcelain(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := ReadEnvelope(path)
	if err != nil {
		return err
	}
	logger.Debug("running kernel job", "id", env.ID, "device", env.Device.String())

	env.Outputs, env.Profile, env.Error = execute(env, logger)
	env.Complete = true
	if env.Error != nil {
		logger.Debug("kernel job failed", "kind", env.Error.Kind, "error", env.Error.Message)
	}
	return WriteEnvelope(path, env)
}

func execute(env *Envelope, logger *slog.Logger) (outputs []runner.Array, profile *runner.Profile, ferr *failure.Error) {
	defer func() {
		if r := recover(); r != nil {
			outputs, profile = nil, nil
			ferr = failure.New(failure.KindExecution, "device runtime panic: %v", r)
		}
	}()

	dev, err := runner.OpenDevice(env.Device)
	if err != nil {
		return nil, nil, failure.From(err)
	}
	defer dev.Free()

	outputs, profile, err = runner.NewExecutor(dev, logger).Run(env.Job())
	if err != nil {
		return nil, nil, failure.From(err)
	}
	return outputs, profile, nil
}

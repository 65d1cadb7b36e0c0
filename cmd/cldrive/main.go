// Command cldrive runs a single OpenCL kernel with a wall-clock timeout.
package main

import (
	"errors"
	"fmt"
	"os"

	_ "github.com/notargets/cldrive/device/occa"
	"github.com/notargets/cldrive/driver"
	"github.com/notargets/cldrive/runner/failure"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitFailure        = 1   // kernel failed or outputs did not match
	ExitCommandError   = 2   // invalid invocation
	ExitNonTerminating = 124 // same as timeout(1)
)

func main() {
	// the driver re-executes this binary as its worker
	if driver.IsPorcelain() {
		os.Exit(driver.PorcelainMain(os.Args))
	}

	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cldrive:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, failure.ErrNonTerminating):
		return ExitNonTerminating
	case errors.Is(err, failure.ErrShape), errors.Is(err, failure.ErrValueConstraint),
		errors.Is(err, failure.ErrArgumentKind):
		return ExitCommandError
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return ExitCommandError
	}
	return ExitFailure
}

// usageError marks a malformed command line
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

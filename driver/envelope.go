package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/signature"
)

// WireVersion is the envelope format both sides of the process boundary
// must agree on
const WireVersion = 1

// Envelope is the job file exchanged between the driver and its worker. The
// driver writes the request fields; the worker rewrites the file with
// Complete set and either Outputs or Error populated.
type Envelope struct {
	Version       int                       `json:"version"`
	ID            string                    `json:"id"`
	Device        runner.DeviceSpec         `json:"device"`
	Source        string                    `json:"source"`
	Kernel        string                    `json:"kernel"`
	Args          []signature.ArgDescriptor `json:"args"`
	Inputs        []runner.Array            `json:"inputs"`
	GlobalSize    runner.NDRange            `json:"gsize"`
	LocalSize     runner.NDRange            `json:"lsize"`
	Optimizations bool                      `json:"optimizations"`
	Profiling     bool                      `json:"profiling"`

	Complete bool            `json:"complete,omitempty"`
	Outputs  []runner.Array  `json:"outputs,omitempty"`
	Error    *failure.Error  `json:"error,omitempty"`
	Profile  *runner.Profile `json:"profile,omitempty"`
}

// Job converts the request half of the envelope into an executor job
func (e *Envelope) Job() *runner.Job {
	return &runner.Job{
		Source:        e.Source,
		Kernel:        e.Kernel,
		Args:          e.Args,
		Inputs:        e.Inputs,
		GlobalSize:    e.GlobalSize,
		LocalSize:     e.LocalSize,
		Optimizations: e.Optimizations,
		Profiling:     e.Profiling,
	}
}

// Encode writes env as a single line of JSON
func Encode(w io.Writer, env *Envelope) error {
	return json.NewEncoder(w).Encode(env)
}

// Decode reads an envelope, checking its version. Error kinds this build
// does not know decode as harness errors.
func Decode(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, failure.New(failure.KindHarness, "malformed job envelope: %v", err)
	}
	if env.Version != WireVersion {
		return nil, failure.New(failure.KindHarness,
			"job envelope version %d, expected %d", env.Version, WireVersion)
	}
	if env.Error != nil && !env.Error.Kind.Valid() {
		env.Error.Diagnostic = joinLines(fmt.Sprintf("unknown error kind %q", env.Error.Kind), env.Error.Diagnostic)
		env.Error.Kind = failure.KindHarness
	}
	return &env, nil
}

// ReadEnvelope decodes the job file at path
func ReadEnvelope(path string) (*Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.New(failure.KindHarness, "failed to open job file: %v", err)
	}
	defer f.Close()
	return Decode(f)
}

// WriteEnvelope replaces the job file at path with env
func WriteEnvelope(path string, env *Envelope) error {
	f, err := os.Create(path)
	if err != nil {
		return failure.New(failure.KindHarness, "failed to create job file: %v", err)
	}
	if err := Encode(f, env); err != nil {
		f.Close()
		return failure.New(failure.KindHarness, "failed to write job file: %v", err)
	}
	if err := f.Close(); err != nil {
		return failure.New(failure.KindHarness, "failed to write job file: %v", err)
	}
	return nil
}

func joinLines(a, b string) string {
	if b == "" {
		return a
	}
	return a + "\n" + b
}

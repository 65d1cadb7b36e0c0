package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/notargets/cldrive/driver"
	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/signature"
)

// DefaultTolerance is used to compare outputs when a job sets none
const DefaultTolerance = 1e-6

// Job is a kernel invocation described in YAML:
//
//	kernel: vadd.cl
//	inputs:
//	  - {type: float, values: [1, 2, 3]}
//	  - {type: float, values: [4, 5, 6]}
//	gsize: [3, 1, 1]
//	lsize: [1, 1, 1]
//	timeout: 5
//	expected:
//	  - {type: float, values: [5, 7, 9]}
type Job struct {
	// Kernel is a path to the kernel source, relative to the job file
	Kernel string `yaml:"kernel"`
	// Source is inline kernel source, used when Kernel is empty
	Source     string  `yaml:"source"`
	Inputs     []Input `yaml:"inputs"`
	GlobalSize []int   `yaml:"gsize"`
	LocalSize  []int   `yaml:"lsize"`
	// Timeout in seconds; zero keeps the configured timeout
	Timeout       float64 `yaml:"timeout"`
	Optimizations *bool   `yaml:"optimizations"`
	Profiling     bool    `yaml:"profiling"`
	Expected      []Input `yaml:"expected"`
	Tolerance     float64 `yaml:"tolerance"`
}

// Input is one host array. Type defaults to double.
type Input struct {
	Type   string    `yaml:"type"`
	Values []float64 `yaml:"values"`
}

// Array converts the input to a host array of its type
func (in Input) Array() (runner.Array, error) {
	dt := signature.Double
	if in.Type != "" {
		var err error
		if dt, err = signature.ParseDataType(in.Type); err != nil {
			return runner.Array{}, err
		}
	}
	return runner.FromFloat64s(in.Values).Convert(dt)
}

func arrays(inputs []Input) ([]runner.Array, error) {
	out := make([]runner.Array, len(inputs))
	for i, in := range inputs {
		a, err := in.Array()
		if err != nil {
			return nil, fmt.Errorf("array %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// LoadJob reads a YAML job file and resolves its kernel source
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}

	switch {
	case job.Kernel != "" && job.Source != "":
		return nil, fmt.Errorf("job file %s sets both kernel and source", path)
	case job.Kernel != "":
		src := job.Kernel
		if !filepath.IsAbs(src) {
			src = filepath.Join(filepath.Dir(path), src)
		}
		b, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read kernel source: %w", err)
		}
		job.Source = string(b)
	case strings.TrimSpace(job.Source) == "":
		return nil, fmt.Errorf("job file %s has no kernel source", path)
	}
	if job.LocalSize == nil {
		job.LocalSize = []int{1, 1, 1}
	}
	return &job, nil
}

// Request builds the driver request for the job, taking device and
// defaults from cfg
func (j *Job) Request(cfg *Config) (*driver.Request, error) {
	inputs, err := arrays(j.Inputs)
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	req := &driver.Request{
		Device:               cfg.DeviceSpec(),
		Source:               j.Source,
		Inputs:               inputs,
		GlobalSize:           j.GlobalSize,
		LocalSize:            j.LocalSize,
		Timeout:              cfg.Timeout,
		DisableOptimizations: !cfg.Optimizations,
		Profiling:            cfg.Profiling || j.Profiling,
		Verbose:              cfg.Verbose,
	}
	if j.Timeout != 0 {
		req.Timeout = Seconds(j.Timeout)
	}
	if j.Optimizations != nil {
		req.DisableOptimizations = !*j.Optimizations
	}
	return req, nil
}

// ExpectedArrays returns the expected outputs, or nil if the job has none
func (j *Job) ExpectedArrays() ([]runner.Array, error) {
	if j.Expected == nil {
		return nil, nil
	}
	out, err := arrays(j.Expected)
	if err != nil {
		return nil, fmt.Errorf("expected: %w", err)
	}
	return out, nil
}

// Check compares outputs against the expected arrays within the job's
// tolerance
func (j *Job) Check(outputs []runner.Array) error {
	expected, err := j.ExpectedArrays()
	if err != nil || expected == nil {
		return err
	}
	tol := j.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if !runner.AlmostEqual(outputs, expected, tol) {
		return fmt.Errorf("outputs %v do not match expected %v (tolerance %g)", outputs, expected, tol)
	}
	return nil
}

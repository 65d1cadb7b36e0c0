package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notargets/cldrive/config"
	"github.com/notargets/cldrive/driver"
	"github.com/notargets/cldrive/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	GlobalSize string
	LocalSize  string
	Inputs     []string
	Timeout    float64
	NoOpt      bool
	Profile    bool
	Job        string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [kernel.cl]",
		Short: "Run a kernel and print its outputs",
		Long: `Run a kernel once and print one array per non-local kernel argument.

Inputs are given in kernel argument order, skipping local memory arguments.
Each --input is a comma separated list of values, optionally prefixed with
an element type ("float:1,2,3"). Values are converted to the kernel argument
types.

With --job the invocation is read from a YAML job file instead. If the job
lists expected outputs, they are compared and a mismatch fails the command.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.GlobalSize, "gsize", "g", "1,1,1", "global size x,y,z")
	cmd.Flags().StringVarP(&opts.LocalSize, "lsize", "l", "1,1,1", "local size x,y,z")
	cmd.Flags().StringArrayVarP(&opts.Inputs, "input", "i", nil, "input array [type:]v,v,... (repeatable)")
	cmd.Flags().Float64VarP(&opts.Timeout, "timeout", "t", 0, "timeout in seconds (overrides CLDRIVE_TIMEOUT)")
	cmd.Flags().BoolVar(&opts.NoOpt, "no-opt", false, "disable compiler optimizations")
	cmd.Flags().BoolVar(&opts.Profile, "profile", false, "report per-step timings")
	cmd.Flags().StringVar(&opts.Job, "job", "", "YAML job file")

	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, args []string) error {
	cfg := rootOpts.Config
	job, err := buildJob(cmd, opts, args)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		job.Timeout = opts.Timeout
	}
	if opts.NoOpt {
		off := false
		job.Optimizations = &off
	}
	if opts.Profile {
		job.Profiling = true
	}

	req, err := job.Request(cfg)
	if err != nil {
		return usagef("%v", err)
	}
	d := &driver.Driver{Logger: rootOpts.Logger, Stderr: cmd.ErrOrStderr()}
	res, err := d.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	if err := writeResult(cmd, rootOpts.Format, res); err != nil {
		return err
	}
	return job.Check(res.Outputs)
}

func buildJob(cmd *cobra.Command, opts *RunOptions, args []string) (*config.Job, error) {
	if opts.Job != "" {
		if len(args) > 0 {
			return nil, usagef("give either a kernel file or --job, not both")
		}
		job, err := config.LoadJob(opts.Job)
		if err != nil {
			return nil, usagef("%v", err)
		}
		return job, nil
	}
	if len(args) == 0 {
		return nil, usagef("a kernel file or --job is required")
	}

	src, err := os.ReadFile(args[0])
	if err != nil {
		return nil, usagef("failed to read kernel: %v", err)
	}
	gsize, err := parseSize(opts.GlobalSize)
	if err != nil {
		return nil, usagef("--gsize: %v", err)
	}
	lsize, err := parseSize(opts.LocalSize)
	if err != nil {
		return nil, usagef("--lsize: %v", err)
	}
	job := &config.Job{
		Source:     string(src),
		GlobalSize: gsize,
		LocalSize:  lsize,
	}
	for i, raw := range opts.Inputs {
		in, err := parseInput(raw)
		if err != nil {
			return nil, usagef("--input %d: %v", i, err)
		}
		job.Inputs = append(job.Inputs, in)
	}
	return job, nil
}

// parseSize parses "x,y,z". The component count is checked by the driver.
func parseSize(raw string) ([]int, error) {
	var dims []int
	for _, f := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid size %q", raw)
		}
		dims = append(dims, n)
	}
	return dims, nil
}

// parseInput parses "[type:]v,v,...". An empty list is a zero-length array.
func parseInput(raw string) (config.Input, error) {
	var in config.Input
	if typ, values, ok := strings.Cut(raw, ":"); ok {
		in.Type, raw = strings.TrimSpace(typ), values
	}
	in.Values = []float64{}
	if strings.TrimSpace(raw) == "" {
		return in, nil
	}
	for _, f := range strings.Split(raw, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return config.Input{}, fmt.Errorf("invalid value %q", f)
		}
		in.Values = append(in.Values, v)
	}
	return in, nil
}

type jsonArray struct {
	Type   string    `json:"type"`
	Values []float64 `json:"values"`
}

type jsonResult struct {
	Outputs []jsonArray     `json:"outputs"`
	Profile *runner.Profile `json:"profile,omitempty"`
}

func writeResult(cmd *cobra.Command, format string, res *driver.Result) error {
	if format == "json" {
		out := jsonResult{Outputs: make([]jsonArray, len(res.Outputs)), Profile: res.Profile}
		for i, a := range res.Outputs {
			out.Outputs[i] = jsonArray{Type: a.Type.String(), Values: a.Float64s()}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for i, a := range res.Outputs {
		printf(cmd, "%d: %s %v\n", i, a.Type, a.Float64s())
	}
	if p := res.Profile; p != nil {
		printf(cmd, "build %v, copy in %v, dispatch %v, copy out %v (total %v)\n",
			p.Build, p.CopyIn, p.Dispatch, p.CopyOut, p.Total())
	}
	return nil
}

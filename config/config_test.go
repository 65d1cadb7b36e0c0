package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/signature"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, "occa", cfg.Backend)
	assert.Empty(t, cfg.Device)
	assert.Zero(t, cfg.Timeout)
	assert.True(t, cfg.Optimizations)
	assert.False(t, cfg.Profiling)
	assert.False(t, cfg.Verbose)
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"CLDRIVE_BACKEND":       "emulator",
		"CLDRIVE_DEVICE":        `{"mode": "OpenCL"}`,
		"CLDRIVE_TIMEOUT":       "2.5",
		"CLDRIVE_OPTIMIZATIONS": "false",
		"CLDRIVE_PROFILING":     "1",
		"CLDRIVE_VERBOSE":       "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, runner.DeviceSpec{Backend: "emulator", Properties: `{"mode": "OpenCL"}`}, cfg.DeviceSpec())
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.False(t, cfg.Optimizations)
	assert.True(t, cfg.Profiling)
	assert.True(t, cfg.Verbose)

	cfg, err = FromEnv(env(map[string]string{"CLDRIVE_TIMEOUT": "-1"}))
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)

	_, err = FromEnv(env(map[string]string{"CLDRIVE_TIMEOUT": "soon"}))
	assert.ErrorContains(t, err, "CLDRIVE_TIMEOUT")
	_, err = FromEnv(env(map[string]string{"CLDRIVE_VERBOSE": "loud"}))
	assert.ErrorContains(t, err, "CLDRIVE_VERBOSE")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CLDRIVE_BACKEND=emulator\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("CLDRIVE_BACKEND", "")
	os.Unsetenv("CLDRIVE_BACKEND")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "emulator", cfg.Backend)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vadd.cl", "kernel void vadd(global float* a, global const float* b) {}")
	path := writeFile(t, dir, "job.yaml", `
kernel: vadd.cl
inputs:
  - {type: float, values: [1, 2, 3]}
  - {type: float, values: [4, 5, 6]}
gsize: [3, 1, 1]
timeout: 5
optimizations: false
expected:
  - {type: float, values: [5, 7, 9]}
  - {type: float, values: [4, 5, 6]}
tolerance: 0.01
`)

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Contains(t, job.Source, "kernel void vadd")
	assert.Equal(t, []int{3, 1, 1}, job.GlobalSize)
	assert.Equal(t, []int{1, 1, 1}, job.LocalSize)

	cfg, err := FromEnv(env(map[string]string{"CLDRIVE_BACKEND": "emulator", "CLDRIVE_TIMEOUT": "60"}))
	require.NoError(t, err)
	req, err := job.Request(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, req.Timeout)
	assert.True(t, req.DisableOptimizations)
	assert.Equal(t, "emulator", req.Device.Backend)
	require.Len(t, req.Inputs, 2)
	assert.Equal(t, signature.Float, req.Inputs[0].Type)
	assert.Equal(t, []float64{1, 2, 3}, req.Inputs[0].Float64s())

	good := []runner.Array{
		runner.FromFloat64s([]float64{5, 7, 9.001}),
		runner.FromFloat64s([]float64{4, 5, 6}),
	}
	assert.NoError(t, job.Check(good))
	bad := []runner.Array{
		runner.FromFloat64s([]float64{5, 7, 10}),
		runner.FromFloat64s([]float64{4, 5, 6}),
	}
	assert.Error(t, job.Check(bad))
}

func TestLoadJob_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"both":      "kernel: a.cl\nsource: kernel void A() {}\n",
		"neither":   "gsize: [1, 1, 1]\n",
		"missing":   "kernel: nope.cl\n",
		"malformed": "inputs: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadJob(writeFile(t, dir, name+".yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestInput_Array(t *testing.T) {
	a, err := Input{Values: []float64{1.5}}.Array()
	require.NoError(t, err)
	assert.Equal(t, signature.Double, a.Type)

	a, err = Input{Type: "int", Values: []float64{-3}}.Array()
	require.NoError(t, err)
	assert.Equal(t, []int64{-3}, a.Int64s())

	_, err = Input{Type: "half"}.Array()
	assert.Error(t, err)
}

func TestJob_CheckWithoutExpected(t *testing.T) {
	job := &Job{}
	assert.NoError(t, job.Check(nil))
}

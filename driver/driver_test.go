package driver_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notargets/cldrive/driver"
	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/runner/failure"
	"github.com/notargets/cldrive/runner/runnertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets the test binary double as the worker process
func TestMain(m *testing.M) {
	runnertest.Register()
	defineKernels()
	if driver.IsPorcelain() {
		os.Exit(driver.PorcelainMain(os.Args))
	}
	os.Exit(m.Run())
}

func defineKernels() {
	runnertest.DefineKernel("A", func(l *runnertest.Launch) error {
		a := l.Args[0].Buffer.Bytes()
		f := runnertest.Float32s(a)
		for i := range f {
			f[i] *= 2
		}
		runnertest.PutFloat32s(a, f)
		return nil
	})
	runnertest.DefineKernel("B", func(l *runnertest.Launch) error {
		a := l.Args[0].Buffer.Bytes()
		x, y := runnertest.Int32s(a), runnertest.Int32s(l.Args[1].Buffer.Bytes())
		for i := range x {
			x[i] += y[i]
		}
		runnertest.PutInt32s(a, x)
		return nil
	})
	runnertest.DefineKernel("C", func(l *runnertest.Launch) error {
		a := l.Args[0].Buffer.Bytes()
		x, b := runnertest.Int32s(a), runnertest.Int32s(l.Args[1].Value.Data)
		for gy := 0; gy < l.Global.Y; gy++ {
			for gx := 0; gx < l.Global.X; gx++ {
				x[gy*l.Global.X+gx] *= b[gy%2]
			}
		}
		runnertest.PutInt32s(a, x)
		return nil
	})
	runnertest.DefineKernel("spin", func(l *runnertest.Launch) error {
		for {
			time.Sleep(time.Second)
		}
	})
	runnertest.DefineKernel("nop", func(l *runnertest.Launch) error {
		return nil
	})
}

var emulator = runner.DeviceSpec{Backend: runnertest.Backend}

const (
	doubleSource = "kernel void A(global float* a) { a[get_global_id(0)] *= 2; }"
	addSource    = `kernel void B(global int* a, global const int* b) {
	const int x = get_global_id(0);
	a[x] += b[x];
}`
	vectorSource = `kernel void C(global int* a, const int2 b) {
	const int x = get_global_id(0) + get_global_id(1) * get_global_size(0);
	a[x] *= get_global_id(1) ? b.y : b.x;
}`
	spinSource = "kernel void spin(global int* a) { while (true) {} }"
)

func floats(t *testing.T, values ...float64) runner.Array {
	t.Helper()
	return runner.FromFloat64s(values)
}

func TestDrive_Double(t *testing.T) {
	in := floats(t, 0, 1, 2, 3, 4, 5, 6, 7)
	outputs, err := driver.Drive(context.Background(), emulator, doubleSource,
		[]runner.Array{in}, []int{8, 1, 1}, []int{1, 1, 1})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10, 12, 14}, outputs[0].Float64s())
	assert.Equal(t, "float", outputs[0].Type.String(), "inputs are coerced to the argument type")
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7}, in.Float64s())
}

func TestDrive_TwoArguments(t *testing.T) {
	a := runner.FromInt64s([]int64{1, 2, 3, 4})
	b := runner.FromInt64s([]int64{10, 20, 30, 40})

	outputs, err := driver.Drive(context.Background(), emulator, addSource,
		[]runner.Array{a, b}, []int{4, 1, 1}, []int{1, 1, 1})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, []int64{11, 22, 33, 44}, outputs[0].Int64s())
	assert.Equal(t, []int64{10, 20, 30, 40}, outputs[1].Int64s())

	// outputs feed straight back in
	outputs, err = driver.Drive(context.Background(), emulator, addSource,
		outputs, []int{4, 1, 1}, []int{1, 1, 1}, driver.WithOptimizations(false))
	require.NoError(t, err)
	assert.Equal(t, []int64{21, 42, 63, 84}, outputs[0].Int64s())
}

func TestDrive_VectorByValue(t *testing.T) {
	a := runner.FromInt64s([]int64{0, 1, 2, 3, 0, 1, 2, 3})
	b := runner.FromInt64s([]int64{2, 4})

	outputs, err := driver.Drive(context.Background(), emulator, vectorSource,
		[]runner.Array{a, b}, []int{4, 2, 1}, []int{1, 1, 1})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, []int64{0, 2, 4, 6, 0, 4, 8, 12}, outputs[0].Int64s())
	assert.Equal(t, []int64{2, 4}, outputs[1].Int64s())
	assert.Equal(t, "int", outputs[1].Type.String())

	outputs, err = driver.Drive(context.Background(), emulator, vectorSource,
		outputs, []int{4, 2, 1}, []int{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4, 8, 12, 0, 16, 32, 48}, outputs[0].Int64s())
	assert.Equal(t, []int64{2, 4}, outputs[1].Int64s())
}

func TestDriver_Profile(t *testing.T) {
	d := &driver.Driver{}
	res, err := d.Run(context.Background(), &driver.Request{
		Device:     emulator,
		Source:     doubleSource,
		Inputs:     []runner.Array{floats(t, 1)},
		GlobalSize: []int{1, 1, 1},
		LocalSize:  []int{1, 1, 1},
		Profiling:  true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Profile)
	assert.Equal(t, []float64{2}, res.Outputs[0].Float64s())
}

func TestDriver_NoArguments(t *testing.T) {
	outputs, err := driver.Drive(context.Background(), emulator, "kernel void nop() {}",
		nil, []int{1, 1, 1}, []int{1, 1, 1})
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestDrive_ValidationErrors(t *testing.T) {
	one := []runner.Array{floats(t, 1)}
	tests := []struct {
		name   string
		device runner.DeviceSpec
		source string
		inputs []runner.Array
		gsize  []int
		lsize  []int
		want   error
		substr string
	}{
		{"too few inputs", emulator, addSource, one, []int{1, 1, 1}, []int{1, 1, 1},
			failure.ErrValueConstraint, "Kernel expects 2 inputs, but 1 were provided"},
		{"too many inputs", emulator, doubleSource, append(one, floats(t, 2)), []int{1, 1, 1}, []int{1, 1, 1},
			failure.ErrValueConstraint, "Kernel expects 1 inputs, but 2 were provided"},
		{"two dimensional global", emulator, doubleSource, one, []int{1, 1}, []int{1, 1, 1},
			failure.ErrShape, "global size"},
		{"four dimensional local", emulator, doubleSource, one, []int{1, 1, 1}, []int{1, 1, 1, 1},
			failure.ErrShape, "local size"},
		{"local larger than global", emulator, doubleSource, one, []int{1, 1, 1}, []int{2, 1, 1},
			failure.ErrValueConstraint, "must be larger than local size"},
		{"zero product", emulator, doubleSource, one, []int{0, 1, 1}, []int{1, 1, 1},
			failure.ErrValueConstraint, "product"},
		{"empty source", emulator, "  ", one, []int{1, 1, 1}, []int{1, 1, 1},
			failure.ErrValueConstraint, "empty"},
		{"no backend", runner.DeviceSpec{}, doubleSource, one, []int{1, 1, 1}, []int{1, 1, 1},
			failure.ErrValueConstraint, "backend"},
		{"malformed source", emulator, "kernel void A(global float* a", one, []int{1, 1, 1}, []int{1, 1, 1},
			failure.ErrArgumentKind, ""},
		{"no kernel", emulator, "int x;", one, []int{1, 1, 1}, []int{1, 1, 1},
			failure.ErrValueConstraint, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := driver.Drive(context.Background(), tt.device, tt.source, tt.inputs, tt.gsize, tt.lsize)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestDrive_BuildErrorCrossesBoundary(t *testing.T) {
	src := "#error use of undeclared identifier 'x'\n" + doubleSource
	_, err := driver.Drive(context.Background(), emulator, src,
		[]runner.Array{floats(t, 1)}, []int{1, 1, 1}, []int{1, 1, 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBuild), "got %v", err)
	assert.Contains(t, err.Error(), "undeclared identifier 'x'")
}

func TestDrive_UnknownBackend(t *testing.T) {
	_, err := driver.Drive(context.Background(), runner.DeviceSpec{Backend: "nope"}, doubleSource,
		[]runner.Array{floats(t, 1)}, []int{1, 1, 1}, []int{1, 1, 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrValueConstraint), "got %v", err)
}

func TestDrive_Timeout(t *testing.T) {
	start := time.Now()
	_, err := driver.Drive(context.Background(), emulator, spinSource,
		[]runner.Array{runner.FromInt64s([]int64{0})}, []int{1, 1, 1}, []int{1, 1, 1},
		driver.WithTimeout(time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrNonTerminating), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDriver_Cancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := driver.Drive(ctx, emulator, spinSource,
		[]runner.Array{runner.FromInt64s([]int64{0})}, []int{1, 1, 1}, []int{1, 1, 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDriver_HarnessCrash(t *testing.T) {
	d := &driver.Driver{Command: []string{"/bin/sh", "-c", "echo boom >&2; exit 3", "sh"}}
	_, err := d.Drive(context.Background(), &driver.Request{
		Device:     emulator,
		Source:     doubleSource,
		Inputs:     []runner.Array{floats(t, 1)},
		GlobalSize: []int{1, 1, 1},
		LocalSize:  []int{1, 1, 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrHarness), "got %v", err)
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), "boom")
}

func TestDriver_WorkerSkipsJob(t *testing.T) {
	d := &driver.Driver{Command: []string{"/bin/sh", "-c", "exit 0", "sh"}}
	_, err := d.Drive(context.Background(), &driver.Request{
		Device:     emulator,
		Source:     doubleSource,
		Inputs:     []runner.Array{floats(t, 1)},
		GlobalSize: []int{1, 1, 1},
		LocalSize:  []int{1, 1, 1},
	})
	assert.True(t, errors.Is(err, failure.ErrHarness), "got %v", err)
}

func TestDriver_VerboseAndCleanup(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	d := &driver.Driver{TempDir: dir, Stderr: &stderr}
	_, err := d.Drive(context.Background(), &driver.Request{
		Device:     emulator,
		Source:     doubleSource,
		Inputs:     []runner.Array{floats(t, 1, 2)},
		GlobalSize: []int{2, 1, 1},
		LocalSize:  []int{1, 1, 1},
		Verbose:    true,
	})
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "3-D global size 2 = [2, 1, 1]")
	assert.Contains(t, stderr.String(), "Kernel arguments: global float* a")

	left, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, left, "job file is removed")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestDriver_VerboseWriteFailure(t *testing.T) {
	d := &driver.Driver{Stderr: failingWriter{}}
	outputs, err := d.Drive(context.Background(), &driver.Request{
		Device:     emulator,
		Source:     doubleSource,
		Inputs:     []runner.Array{floats(t, 3)},
		GlobalSize: []int{1, 1, 1},
		LocalSize:  []int{1, 1, 1},
		Verbose:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{6}, outputs[0].Float64s())
}

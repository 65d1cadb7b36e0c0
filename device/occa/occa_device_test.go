package occa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/cldrive/runner"
	"github.com/notargets/cldrive/utils"
)

// openCLDevice opens the first OpenCL device, skipping the test without one
func openCLDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := Open(utils.DefaultDeviceProperties[0])
	if err != nil {
		t.Skipf("no OpenCL device: %v", err)
	}
	if dev.Mode() != "OpenCL" {
		dev.Free()
		t.Skip("This test is OpenCL-specific")
	}
	return dev
}

// TestOpenCLScalarParameter runs a kernel with a by-value scalar through the
// executor on a real device
func TestOpenCLScalarParameter(t *testing.T) {
	dev := openCLDevice(t)
	defer dev.Free()

	src := `kernel void scale(global double* output, const double alpha) {
	output[get_global_id(0)] *= alpha;
}`
	for _, opt := range []bool{true, false} {
		outputs, _, err := runner.NewExecutor(dev, nil).Run(&runner.Job{
			Source:        src,
			Inputs:        []runner.Array{runner.FromFloat64s([]float64{1, 2, 3, 4}), runner.FromFloat64s([]float64{2.5})},
			GlobalSize:    runner.NDRange{X: 4, Y: 1, Z: 1},
			LocalSize:     runner.NDRange{X: 2, Y: 1, Z: 1},
			Optimizations: opt,
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{2.5, 5, 7.5, 10}, outputs[0].Float64s())
		assert.Equal(t, []float64{2.5}, outputs[1].Float64s())
	}
}

func TestOpenCLBuildError(t *testing.T) {
	dev := openCLDevice(t)
	defer dev.Free()

	_, _, err := runner.NewExecutor(dev, nil).Run(&runner.Job{
		Source:     "kernel void broken(global int* a) { a[0] = undeclared; }",
		Inputs:     []runner.Array{runner.FromInt64s([]int64{0})},
		GlobalSize: runner.NDRange{X: 1, Y: 1, Z: 1},
		LocalSize:  runner.NDRange{X: 1, Y: 1, Z: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

package utils

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/notargets/gocca"
)

// DefaultDeviceProperties are the OCCA device properties tried, in order,
// when no device is configured. OpenCL first since kernels are OpenCL C.
var DefaultDeviceProperties = []string{
	`{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "OpenMP"}`,
	`{"mode": "Serial"}`,
}

// CreateDevice opens the OCCA device described by props. An empty props
// walks DefaultDeviceProperties and returns the first device that opens.
func CreateDevice(props string) (*gocca.OCCADevice, error) {
	if strings.TrimSpace(props) != "" {
		device, err := gocca.NewDevice(props)
		if err != nil {
			return nil, fmt.Errorf("failed to create device %s: %w", props, err)
		}
		return device, nil
	}

	var errs []error
	for _, p := range DefaultDeviceProperties {
		device, err := gocca.NewDevice(p)
		if err == nil {
			slog.Debug("created device", "mode", device.Mode())
			return device, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p, err))
	}
	return nil, fmt.Errorf("failed to create any device: %w", errors.Join(errs...))
}

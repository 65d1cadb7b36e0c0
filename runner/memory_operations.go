package runner

import (
	"fmt"
)

// executeCopyActions is the copy engine used for both directions. Only the
// requested action is performed for each argument that has it set.
func executeCopyActions(bound []*BoundArgument, action ActionFlags) error {
	for _, ba := range bound {
		if !ba.HasAction(action) {
			continue
		}
		if ba.Memory == nil || ba.Host == nil {
			return fmt.Errorf("argument %s has no host mirror to copy", ba.Descriptor.Name)
		}

		switch action {
		case CopyTo:
			if err := ba.Memory.CopyFrom(ba.Host.Data); err != nil {
				return fmt.Errorf("failed to copy %s to device: %w", ba.Descriptor.Name, err)
			}
		case CopyBack:
			if err := ba.Memory.CopyTo(ba.Host.Data); err != nil {
				return fmt.Errorf("failed to copy %s from device: %w", ba.Descriptor.Name, err)
			}
		default:
			return fmt.Errorf("unsupported copy action %d", action)
		}
	}
	return nil
}

// kernelArguments returns the device resources in descriptor order
func kernelArguments(bound []*BoundArgument) []interface{} {
	args := make([]interface{}, 0, len(bound))
	for _, ba := range bound {
		args = append(args, ba.KernelArg())
	}
	return args
}

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/notargets/cldrive/runner/signature"
)

// NewArgsCommand creates the args command.
func NewArgsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "args <kernel.cl>",
		Short: "Print the arguments of a kernel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return usagef("failed to read kernel: %v", err)
			}
			sig, err := signature.Parse(string(src))
			if err != nil {
				return err
			}
			return writeSignature(cmd, rootOpts.Format, sig)
		},
	}
}

func writeSignature(cmd *cobra.Command, format string, sig *signature.Signature) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sig)
	}
	printf(cmd, "kernel %s\n", sig.Name)
	for i, arg := range sig.Args {
		kind := "scalar"
		switch {
		case arg.IsGlobal():
			kind = "global"
		case arg.IsLocal():
			kind = "local"
		}
		printf(cmd, "%d: %s (%s", i, arg, kind)
		if arg.IsReadOnly() {
			printf(cmd, ", read-only")
		}
		printf(cmd, ")\n")
	}
	return nil
}

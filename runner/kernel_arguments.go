package runner

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/notargets/cldrive/runner/signature"
)

// ArgumentSummary renders the declarations of args as a comma separated list
func ArgumentSummary(args []signature.ArgDescriptor) string {
	decls := make([]string, len(args))
	for i, arg := range args {
		decls[i] = arg.String()
	}
	return strings.Join(decls, ", ")
}

// InputSummary renders the element count of each input
func InputSummary(inputs []Array) string {
	sizes := make([]string, len(inputs))
	for i, in := range inputs {
		sizes[i] = strconv.Itoa(in.Len())
	}
	return strings.Join(sizes, ", ")
}

func logArguments(log *slog.Logger, args []signature.ArgDescriptor, inputs []Array) {
	log.Debug("Number of kernel arguments: " + strconv.Itoa(len(args)))
	log.Debug("Kernel arguments: " + ArgumentSummary(args))
	log.Debug("Kernel input elements: " + InputSummary(inputs))
}

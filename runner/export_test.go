package runner

var (
	ExecuteCopyActions = executeCopyActions
	KernelArguments    = kernelArguments
)

// Package signature extracts kernel argument descriptors from OpenCL C
// kernel source. It is the only place the driver looks inside kernel text.
package signature

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notargets/cldrive/runner/failure"
)

// AddressSpace is the OpenCL address space qualifier of a pointer argument
type AddressSpace string

const (
	Private  AddressSpace = "private"
	Global   AddressSpace = "global"
	Local    AddressSpace = "local"
	Constant AddressSpace = "constant"
)

// ArgDescriptor describes one kernel parameter
type ArgDescriptor struct {
	Name         string       `json:"name"`
	TypeName     string       `json:"type_name"`
	Type         DataType     `json:"type"`
	VectorWidth  int          `json:"vector_width"`
	AddressSpace AddressSpace `json:"address_space"`
	IsPointer    bool         `json:"pointer"`
	IsConst      bool         `json:"const"`
}

// IsGlobal is true for pointers into global or constant memory, which are
// backed by a host-mirrored device buffer.
func (a ArgDescriptor) IsGlobal() bool {
	return a.IsPointer && (a.AddressSpace == Global || a.AddressSpace == Constant)
}

// IsLocal is true for pointers into workgroup-local memory
func (a ArgDescriptor) IsLocal() bool {
	return a.IsPointer && a.AddressSpace == Local
}

// IsReadOnly is true when the kernel cannot write through the argument
func (a ArgDescriptor) IsReadOnly() bool {
	return a.IsConst || a.AddressSpace == Constant
}

// StorageWidth is the number of elements one value occupies in memory.
// 3-component vectors are aligned as 4-component vectors.
func (a ArgDescriptor) StorageWidth() int {
	if a.VectorWidth == 3 {
		return 4
	}
	if a.VectorWidth < 1 {
		return 1
	}
	return a.VectorWidth
}

func (a ArgDescriptor) String() string {
	var sb strings.Builder
	if a.IsPointer && a.AddressSpace != Private {
		sb.WriteString(string(a.AddressSpace))
		sb.WriteString(" ")
	}
	if a.IsConst {
		sb.WriteString("const ")
	}
	sb.WriteString(a.TypeName)
	if a.IsPointer {
		sb.WriteString("*")
	}
	sb.WriteString(" ")
	sb.WriteString(a.Name)
	return sb.String()
}

// Signature is a parsed kernel entry point
type Signature struct {
	Name string          `json:"name"`
	Args []ArgDescriptor `json:"args"`
}

// Extractor produces the signature of the single kernel in a source string
type Extractor interface {
	Extract(source string) (*Signature, error)
}

// Parser is the default Extractor
type Parser struct{}

func (Parser) Extract(source string) (*Signature, error) {
	return Parse(source)
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	kernelDecl   = regexp.MustCompile(
		`\b(?:__kernel|kernel)\b(?:\s*__attribute__\s*\(\((?:[^()]|\([^()]*\))*\)\))*\s+void\s+([A-Za-z_]\w*)\s*\(`)
	identifier = regexp.MustCompile(`^[A-Za-z_]\w*$`)
	vectorType = regexp.MustCompile(`^([a-z]+?)(2|3|4|8|16)?$`)
)

func stripComments(src string) string {
	src = blockComment.ReplaceAllString(src, " ")
	return lineComment.ReplaceAllString(src, "")
}

// CountKernels returns the number of kernel entry points declared in source
func CountKernels(source string) int {
	return len(kernelDecl.FindAllStringIndex(stripComments(source), -1))
}

// ExtractArguments returns the ordered argument descriptors of the kernel
func ExtractArguments(source string) ([]ArgDescriptor, error) {
	sig, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return sig.Args, nil
}

// Parse parses the signature of the one kernel declared in source
func Parse(source string) (*Signature, error) {
	clean := stripComments(source)
	locs := kernelDecl.FindAllStringSubmatchIndex(clean, -1)
	switch {
	case len(locs) == 0:
		return nil, failure.New(failure.KindValueConstraint, "no kernel declaration found in source")
	case len(locs) > 1:
		return nil, failure.New(failure.KindValueConstraint,
			"source contains %d kernels, expected exactly one", len(locs))
	}

	loc := locs[0]
	name := clean[loc[2]:loc[3]]
	open := loc[1] - 1
	end := matchParen(clean, open)
	if end < 0 {
		return nil, failure.New(failure.KindArgumentKind,
			"unterminated parameter list for kernel %s", name)
	}

	args, err := parseParams(clean[open+1 : end])
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", name, err)
	}
	return &Signature{Name: name, Args: args}, nil
}

// matchParen returns the index of the parenthesis closing the one at open
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitParams(params string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(params); i++ {
		switch params[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, params[start:i])
				start = i + 1
			}
		}
	}
	return append(out, params[start:])
}

func parseParams(params string) ([]ArgDescriptor, error) {
	trimmed := strings.TrimSpace(params)
	if trimmed == "" || trimmed == "void" {
		return []ArgDescriptor{}, nil
	}

	decls := splitParams(trimmed)
	args := make([]ArgDescriptor, 0, len(decls))
	for i, decl := range decls {
		arg, err := parseParam(decl)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, arg)
	}
	return args, nil
}

func parseParam(decl string) (ArgDescriptor, error) {
	text := strings.TrimSpace(decl)
	if text == "" {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind, "empty kernel argument declaration")
	}
	tokens := strings.Fields(strings.ReplaceAll(text, "*", " * "))
	if len(tokens) < 2 {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"cannot parse kernel argument %q", text)
	}

	arg := ArgDescriptor{
		Name:         tokens[len(tokens)-1],
		AddressSpace: Private,
		VectorWidth:  1,
	}
	if !identifier.MatchString(arg.Name) {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"cannot parse kernel argument %q", text)
	}

	var (
		typeTokens []string
		depth      int
		spaceSet   bool
		unsigned   bool
	)
	setSpace := func(space AddressSpace) error {
		if spaceSet {
			return failure.New(failure.KindArgumentKind,
				"kernel argument %q has more than one address space qualifier", text)
		}
		arg.AddressSpace, spaceSet = space, true
		return nil
	}

	for _, tok := range tokens[:len(tokens)-1] {
		var err error
		switch tok {
		case "global", "__global":
			err = setSpace(Global)
		case "local", "__local":
			err = setSpace(Local)
		case "constant", "__constant":
			err = setSpace(Constant)
		case "private", "__private":
			err = setSpace(Private)
		case "const", "__const":
			// const after the '*' qualifies the pointer, not the data
			if depth == 0 {
				arg.IsConst = true
			}
		case "volatile", "restrict", "__restrict", "__restrict__":
		case "*":
			depth++
		case "unsigned":
			unsigned = true
		case "signed":
		default:
			typeTokens = append(typeTokens, tok)
		}
		if err != nil {
			return ArgDescriptor{}, err
		}
	}

	if depth > 1 {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"pointer-to-pointer kernel argument %q is not supported", text)
	}
	arg.IsPointer = depth == 1
	if !arg.IsPointer && spaceSet && arg.AddressSpace != Private {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"address space qualifier on non-pointer kernel argument %q", text)
	}

	typeName, err := resolveTypeName(typeTokens, unsigned, text)
	if err != nil {
		return ArgDescriptor{}, err
	}
	m := vectorType.FindStringSubmatch(typeName)
	if m == nil {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"unsupported type %q in kernel argument %q", typeName, text)
	}
	if m[1] == "half" {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"half precision kernel argument %q is not supported", text)
	}
	dt, err := ParseDataType(m[1])
	if err != nil {
		return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
			"unsupported type %q in kernel argument %q", typeName, text)
	}
	if m[2] != "" {
		arg.VectorWidth, _ = strconv.Atoi(m[2])
		if dt == Bool {
			return ArgDescriptor{}, failure.New(failure.KindArgumentKind,
				"unsupported type %q in kernel argument %q", typeName, text)
		}
	}
	arg.Type = dt
	arg.TypeName = typeName
	return arg, nil
}

func resolveTypeName(typeTokens []string, unsigned bool, text string) (string, error) {
	if unsigned {
		switch {
		case len(typeTokens) == 0:
			return "uint", nil
		case len(typeTokens) == 1:
			switch typeTokens[0] {
			case "char", "short", "int", "long":
				return "u" + typeTokens[0], nil
			}
		}
		return "", failure.New(failure.KindArgumentKind,
			"cannot parse kernel argument %q", text)
	}
	if len(typeTokens) != 1 {
		return "", failure.New(failure.KindArgumentKind,
			"cannot parse kernel argument %q", text)
	}
	return typeTokens[0], nil
}

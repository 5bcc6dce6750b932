package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"
)

// Phase indicates which bootstrap step produced the error
type Phase string

const (
	PhaseInit        Phase = "init"        // runtime creation
	PhaseEnvironment Phase = "environment" // locale and encoding setup
	PhaseVersion     Phase = "version"     // hosted version check
	PhaseArgs        Phase = "args"        // argv forwarding
	PhaseProfile     Phase = "profile"     // import profiling hook
	PhaseDispatch    Phase = "dispatch"    // entry point call
	PhaseLoad        Phase = "load"        // module lookup and instantiation
	PhaseContract    Phase = "contract"    // export signature checks
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindImport         Kind = "import"
	KindInstantiation  Kind = "instantiation"
	KindInvalidData    Kind = "invalid_data"
	KindContract       Kind = "contract"
	KindExit           Kind = "exit"
	KindTrap           Kind = "trap"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindRegistration   Kind = "registration"
)

// Error is the structured error type used throughout the launcher
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Module string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" {
		b.WriteString(" in ")
		b.WriteString(e.Module)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Module sets the dotted module name the error refers to
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Module: name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Import creates a module import error
func Import(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindImport,
		Module: module,
		Detail: "import module",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Module: module,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, module, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Module: module,
		Detail: detail,
	}
}

// Contract creates an export contract violation
func Contract(module, export, detail string) *Error {
	return &Error{
		Phase:  PhaseContract,
		Kind:   KindContract,
		Module: module,
		Detail: fmt.Sprintf("export %q: %s", export, detail),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a built-in module registration error
func Registration(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindRegistration,
		Module: module,
		Detail: "register built-in module",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Call classifies a failed guest call. A WASI exit becomes KindExit,
// anything else is a trap.
func Call(phase Phase, module, function string, cause error) *Error {
	kind := KindTrap
	if _, ok := ExitCode(cause); ok {
		kind = KindExit
	}
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Module: module,
		Detail: fmt.Sprintf("call %s", function),
		Cause:  cause,
	}
}

// ExitCode returns the status passed to WASI proc_exit, if err carries one.
func ExitCode(err error) (uint32, bool) {
	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

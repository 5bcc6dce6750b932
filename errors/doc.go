// Package errors provides structured error types for the launcher.
//
// Errors are categorized by Phase (which bootstrap step failed) and Kind
// (error category). The Error type carries the dotted module name and the
// cause chain, so a fatal diagnostic still shows what the runtime reported.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseVersion, errors.KindInvalidData).
//		Module("breezy").
//		Detail("version_info record at %#x is out of bounds", ptr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Import("breezy", cause)
//	err := errors.Call(errors.PhaseDispatch, "breezy.__main__", "main", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

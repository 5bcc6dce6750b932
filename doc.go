// Package wasmlauncher provides the native entry point for applications
// shipped as WebAssembly modules.
//
// The launcher embeds a wazero runtime, negotiates the process locale,
// checks that the hosted application matches the launcher's own version,
// forwards the process arguments and hands control to the application's
// entry point.
//
// # Architecture Overview
//
//	wasmlauncher/        Root package with the compiled-in version
//	├── bootstrap/       The startup sequence and its configuration
//	├── runtime/         Embedded runtime: execution lock, module loader, argv
//	├── locale/          Process locale resolution from the environment
//	├── profile/         Import profiling built-in (--profile-imports)
//	├── errors/          Structured error types
//	└── cmd/brz/         The brz executable
//
// # Startup Sequence
//
//	Start → RuntimeReady → EnvConfigured → VersionChecked → ArgsForwarded
//	      → [ProfilingInstalled] → Dispatched → Exit
//
// Version mismatches and locale failures only warn. Failing to create the
// runtime or to import the hosted application aborts with a non-zero status.
//
// # Hosted Modules
//
// Modules are addressed by dotted names and resolved against a search path:
//
//	breezy           → breezy.wasm, breezy/__init__.wasm
//	breezy.__main__  → breezy/__main__.wasm, breezy/__main__/__init__.wasm
//
// The top-level package exports an immutable i32 global version_info
// pointing at a {major, minor, patch, label_ptr, label_len, serial} record
// and a _format_version_tuple function returning a packed ptr<<32|len
// string. The entry module exports main.
package wasmlauncher

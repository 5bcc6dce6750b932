// Package runtime embeds the interpreter runtime that hosts brz.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.WithSearchPath("/usr/lib/brz"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	err = rt.With(ctx, func(s *runtime.Session) error {
//	    if err := s.SetArgv(os.Args); err != nil {
//	        return err
//	    }
//	    mod, err := s.Import(ctx, "breezy.__main__")
//	    if err != nil {
//	        return err
//	    }
//	    _, err = mod.Call(ctx, "main")
//	    return err
//	})
//
// # Hosted Modules
//
// Hosted modules are core WASM files found on the search path. A dotted
// name maps to a file the same way a package path maps to a directory:
//
//	breezy          breezy.wasm or breezy/__init__.wasm
//	breezy.__main__ breezy/__main__.wasm or breezy/__main__/__init__.wasm
//
// Importing "a.b" imports "a" first. Modules named in another module's
// import section are imported before it, except wasi_snapshot_preview1
// which is always present. Each module is imported once; later imports
// return the cached instance.
//
// WASI args always report the current argument vector, so SetArgv reaches
// modules imported before it. The filesystem encoding is passed in
// WASM_FS_ENCODING when a module is instantiated and only changes for
// modules imported afterwards.
//
// # Built-in Modules
//
// Go host modules are registered with RegisterBuiltin and shadow the search
// path. They are instantiated on first import:
//
//	rt.RegisterBuiltin("greeter", runtime.Builtin{
//	    "answer": {
//	        Fn:      func(ctx context.Context, stack []uint64) { stack[0] = 42 },
//	        Results: []api.ValueType{api.ValueTypeI32},
//	    },
//	})
//
// Guest modules call built-in exports through their import section. Go
// code calls them with Module.Call like any other export.
//
// # Execution Lock
//
// Guest code runs only while the execution lock is held. With acquires it,
// hands out a Session and releases it on every return path, including
// panics. Session methods fail once the function passed to With returns.
//
// # Contracts
//
// Exports can be checked against WIT signatures before they are called:
//
//	c := runtime.MustParseContract("_format_version_tuple: func(tuple: u32) -> u64;")
//	if err := mod.Check(c); err != nil {
//	    return err
//	}
//
// Strings are returned packed as ptr<<32 | len and read with ReadPacked.
package runtime

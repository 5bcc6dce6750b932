package runtime

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/wasm-launcher/internal/wasmbuild"
)

var (
	i32  = []api.ValueType{api.ValueTypeI32}
	i64  = []api.ValueType{api.ValueTypeI64}
	i32s = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
)

// constModule exports value() returning v.
func constModule(v int32) *wasmbuild.Module {
	m := wasmbuild.New()
	m.ExportFunc("value", m.Func(nil, i32, wasmbuild.I32Const(v)))
	return m
}

// argcModule exports argc() returning the number of WASI args it sees.
func argcModule() *wasmbuild.Module {
	m := wasmbuild.New().Memory(1)
	sizes := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "args_sizes_get", i32s, i32)
	m.ExportFunc("argc", m.Func(nil, i32,
		wasmbuild.I32Const(0),
		wasmbuild.I32Const(4),
		wasmbuild.Call(sizes),
		wasmbuild.Drop(),
		wasmbuild.I32Const(0),
		wasmbuild.I32Load(0),
	))
	m.ExportMemory("memory")
	return m
}

// argvModule exports run() writing its NUL-separated WASI args to stdout.
func argvModule() *wasmbuild.Module {
	const (
		bufSize  = 4
		iovec    = 8
		iovecLen = 12
		written  = 32
		argvPtrs = 64
		argvBuf  = 1024
	)
	m := wasmbuild.New().Memory(1)
	sizes := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "args_sizes_get", i32s, i32)
	get := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "args_get", i32s, i32)
	fdWrite := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "fd_write",
		[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, i32)
	m.Data(iovec, wasmbuild.LE32(argvBuf))
	m.ExportFunc("run", m.Func(nil, nil,
		wasmbuild.I32Const(0), wasmbuild.I32Const(bufSize), wasmbuild.Call(sizes), wasmbuild.Drop(),
		wasmbuild.I32Const(argvPtrs), wasmbuild.I32Const(argvBuf), wasmbuild.Call(get), wasmbuild.Drop(),
		wasmbuild.I32Const(iovecLen), wasmbuild.I32Const(bufSize), wasmbuild.I32Load(0), wasmbuild.I32Store(0),
		wasmbuild.I32Const(1), wasmbuild.I32Const(iovec), wasmbuild.I32Const(1), wasmbuild.I32Const(written),
		wasmbuild.Call(fdWrite), wasmbuild.Drop(),
	))
	m.ExportMemory("memory")
	return m
}

// exitModule exports main() calling proc_exit(code).
func exitModule(code int32) *wasmbuild.Module {
	m := wasmbuild.New()
	exit := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "proc_exit", i32, nil)
	m.ExportFunc("main", m.Func(nil, nil, wasmbuild.I32Const(code), wasmbuild.Call(exit)))
	return m
}

// proxyModule exports value() forwarding to dep.value().
func proxyModule(dep string) *wasmbuild.Module {
	m := wasmbuild.New()
	value := m.ImportFunc(dep, "value", nil, i32)
	m.ExportFunc("value", m.Func(nil, i32, wasmbuild.Call(value)))
	return m
}

func write(t *testing.T, dir, rel string, m *wasmbuild.Module) {
	t.Helper()
	if _, err := m.WriteFile(dir, rel); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := New(ctx, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return rt
}

func importIn(t *testing.T, rt *Runtime, name string) (*Module, error) {
	t.Helper()
	ctx := context.Background()
	var mod *Module
	err := rt.With(ctx, func(s *Session) error {
		var err error
		mod, err = s.Import(ctx, name)
		return err
	})
	return mod, err
}

func callU32(t *testing.T, mod *Module, fn string) uint32 {
	t.Helper()
	res, err := mod.Call(context.Background(), fn)
	if err != nil {
		t.Fatalf("call %s: %v", fn, err)
	}
	if len(res) != 1 {
		t.Fatalf("call %s: %d results", fn, len(res))
	}
	return api.DecodeU32(res[0])
}

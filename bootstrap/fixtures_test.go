package bootstrap

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	wasmlauncher "github.com/wippyai/wasm-launcher"
	"github.com/wippyai/wasm-launcher/internal/wasmbuild"
	"github.com/wippyai/wasm-launcher/locale"
	"github.com/wippyai/wasm-launcher/profile"
	"github.com/wippyai/wasm-launcher/runtime"
)

var (
	i32  = []api.ValueType{api.ValueTypeI32}
	i64  = []api.ValueType{api.ValueTypeI64}
	i32s = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	iov  = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
)

var native331 = wasmlauncher.VersionInfo{Major: 3, Minor: 3, Patch: 1, ReleaseLevel: wasmlauncher.ReleaseFinal}

// packageModule reports version v and formats it as formatted.
func packageModule(v wasmlauncher.VersionInfo, formatted string) *wasmbuild.Module {
	m := wasmbuild.New().Memory(1)
	addVersion(m, v, formatted)
	return m
}

// argcPackageModule is packageModule plus argc() returning the number of
// WASI args the package sees when it is called.
func argcPackageModule(v wasmlauncher.VersionInfo, formatted string) *wasmbuild.Module {
	m := wasmbuild.New().Memory(1)
	sizes := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "args_sizes_get", i32s, i32)
	addVersion(m, v, formatted)
	m.ExportFunc("argc", m.Func(nil, i32,
		wasmbuild.I32Const(0), wasmbuild.I32Const(4), wasmbuild.Call(sizes), wasmbuild.Drop(),
		wasmbuild.I32Const(0), wasmbuild.I32Load(0),
	))
	return m
}

// addVersion lays out the version record and formatter below offset 512.
func addVersion(m *wasmbuild.Module, v wasmlauncher.VersionInfo, formatted string) {
	const (
		labelAt  = 64
		recordAt = 128
		formatAt = 256
	)
	m.Data(labelAt, []byte(v.ReleaseLevel))
	m.Data(recordAt, wasmbuild.LE32(v.Major, v.Minor, v.Patch, labelAt, uint32(len(v.ReleaseLevel)), v.Serial))
	m.Data(formatAt, []byte(formatted))
	m.ExportGlobal("version_info", m.GlobalI32(recordAt))
	m.ExportFunc("_format_version_tuple", m.Func(i32, i64,
		wasmbuild.I64Const(int64(formatAt)<<32|int64(len(formatted)))))
	m.ExportMemory("memory")
}

// echoArgvModule exports main() writing its NUL-separated WASI args to
// stdout and returning status.
func echoArgvModule(status int32) *wasmbuild.Module {
	const (
		argc     = 0
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
	write := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "fd_write", iov, i32)
	m.Data(iovec, wasmbuild.LE32(argvBuf))
	m.ExportFunc("main", m.Func(nil, i32,
		wasmbuild.I32Const(argc), wasmbuild.I32Const(bufSize), wasmbuild.Call(sizes), wasmbuild.Drop(),
		wasmbuild.I32Const(argvPtrs), wasmbuild.I32Const(argvBuf), wasmbuild.Call(get), wasmbuild.Drop(),
		wasmbuild.I32Const(iovecLen), wasmbuild.I32Const(bufSize), wasmbuild.I32Load(0), wasmbuild.I32Store(0),
		wasmbuild.I32Const(1), wasmbuild.I32Const(iovec), wasmbuild.I32Const(1), wasmbuild.I32Const(written),
		wasmbuild.Call(write), wasmbuild.Drop(),
		wasmbuild.I32Const(status),
	))
	m.ExportMemory("memory")
	return m
}

// forwardMainModule exports main() returning pkg.fn().
func forwardMainModule(pkg, fn string) *wasmbuild.Module {
	m := wasmbuild.New()
	call := m.ImportFunc(pkg, fn, nil, i32)
	m.ExportFunc("main", m.Func(nil, i32, wasmbuild.Call(call)))
	return m
}

// memorylessPackageModule exports a version global but no memory.
func memorylessPackageModule() *wasmbuild.Module {
	m := wasmbuild.New()
	m.ExportGlobal("version_info", m.GlobalI32(128))
	return m
}

func voidMainModule() *wasmbuild.Module {
	m := wasmbuild.New()
	m.ExportFunc("main", m.Func(nil, nil))
	return m
}

func exitMainModule(code int32) *wasmbuild.Module {
	m := wasmbuild.New()
	exit := m.ImportFunc(wasi_snapshot_preview1.ModuleName, "proc_exit", i32, nil)
	m.ExportFunc("main", m.Func(nil, nil, wasmbuild.I32Const(code), wasmbuild.Call(exit)))
	return m
}

func trapMainModule() *wasmbuild.Module {
	m := wasmbuild.New()
	m.ExportFunc("main", m.Func(nil, nil, wasmbuild.Unreachable()))
	return m
}

// stepClock advances by step on every reading.
func stepClock(step time.Duration) func() time.Time {
	now := time.Unix(0, 0)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

// fakePlatform records locale calls.
type fakePlatform struct {
	err   error
	name  string
	calls []locale.Category
}

func (p *fakePlatform) Name() string {
	return p.name
}

func (p *fakePlatform) SetLocale(category locale.Category, name string) (string, error) {
	p.calls = append(p.calls, category)
	if p.err != nil {
		return "", p.err
	}
	return "C", nil
}

// harness lays out a hosted application and runs the launcher over it.
type harness struct {
	platform *fakePlatform
	profiler *profile.Profiler
	dir      string
	native   wasmlauncher.VersionInfo
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	report   bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		platform: &fakePlatform{name: PlatformPOSIX},
		dir:      t.TempDir(),
		native:   native331,
	}
	h.profiler = profile.New(profile.WithOutput(&h.report), profile.WithWidth(0))
	return h
}

func (h *harness) write(t *testing.T, rel string, m *wasmbuild.Module) {
	t.Helper()
	_, err := m.WriteFile(h.dir, rel)
	require.NoError(t, err)
}

func (h *harness) launcher() *Launcher {
	cfg := DefaultConfig()
	cfg.SearchPath = []string{h.dir}
	return New(cfg,
		WithPlatform(h.platform),
		WithStderr(&h.stderr),
		WithNativeVersion(h.native),
		WithProfiler(h.profiler),
		WithRuntimeOptions(runtime.WithStdio(bytes.NewReader(nil), &h.stdout, &h.stderr)),
	)
}

func (h *harness) run(t *testing.T, args ...string) (*Launcher, int, error) {
	t.Helper()
	l := h.launcher()
	status, err := l.Run(context.Background(), args)
	return l, status, err
}

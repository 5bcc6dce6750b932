package bootstrap

import (
	"context"
	"io"
	"os"
	"slices"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmlauncher "github.com/wippyai/wasm-launcher"
	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/locale"
	"github.com/wippyai/wasm-launcher/profile"
	"github.com/wippyai/wasm-launcher/runtime"
)

// Exit statuses set by the launcher itself.
const (
	ExitOK    = 0
	ExitFatal = 1
	ExitFault = 3
)

// FilesystemEncoding is forced on every hosted module.
const FilesystemEncoding = "utf-8"

// Stage is a step of the bootstrap sequence.
type Stage int

const (
	StageStart Stage = iota
	StageRuntimeReady
	StageEnvConfigured
	StageVersionChecked
	StageArgsForwarded
	StageProfilingInstalled
	StageDispatched
	StageExit
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageRuntimeReady:
		return "runtime_ready"
	case StageEnvConfigured:
		return "env_configured"
	case StageVersionChecked:
		return "version_checked"
	case StageArgsForwarded:
		return "args_forwarded"
	case StageProfilingInstalled:
		return "profiling_installed"
	case StageDispatched:
		return "dispatched"
	case StageExit:
		return "exit"
	}
	return "unknown"
}

var (
	formatterContract = runtime.MustParseContract("_format_version_tuple: func(tuple: u32) -> u64;")
	entryContracts    = []runtime.Contract{
		runtime.MustParseContract("main: func();"),
		runtime.MustParseContract("main: func() -> s32;"),
	}
)

// Launcher runs the bootstrap sequence once.
type Launcher struct {
	platform Platform
	stderr   io.Writer
	out      *printer
	profiler *profile.Profiler
	native   *wasmlauncher.VersionInfo
	rtOpts   []runtime.Option
	stages   []Stage
	cfg      Config
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithPlatform replaces the host platform.
func WithPlatform(p Platform) Option {
	return func(l *Launcher) {
		l.platform = p
	}
}

// WithStderr sets where diagnostics are written. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(l *Launcher) {
		l.stderr = w
	}
}

// WithNativeVersion overrides the launcher's compiled-in version.
func WithNativeVersion(v wasmlauncher.VersionInfo) Option {
	return func(l *Launcher) {
		l.native = &v
	}
}

// WithProfiler sets the profiler behind the profiling module.
func WithProfiler(p *profile.Profiler) Option {
	return func(l *Launcher) {
		l.profiler = p
	}
}

// WithRuntimeOptions passes extra options to runtime.New.
func WithRuntimeOptions(opts ...runtime.Option) Option {
	return func(l *Launcher) {
		l.rtOpts = append(l.rtOpts, opts...)
	}
}

// New creates a launcher for cfg.
func New(cfg Config, opts ...Option) *Launcher {
	l := &Launcher{
		cfg:    cfg,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.platform == nil {
		l.platform = HostPlatform()
	}
	if l.profiler == nil {
		l.profiler = profile.New(profile.WithOutput(l.stderr))
	}
	l.out = newPrinter(l.stderr, cfg.Program)
	return l
}

// Stages returns the stages entered so far.
func (l *Launcher) Stages() []Stage {
	return slices.Clone(l.stages)
}

// Run bootstraps the runtime and calls the entry point with args as its
// argument vector. It returns the process exit status. Diagnostics are
// already written when Run returns; the error is for logging.
func (l *Launcher) Run(ctx context.Context, args []string) (int, error) {
	l.enter(StageStart)
	defer l.enter(StageExit)

	native, err := l.nativeVersion()
	if err != nil {
		l.out.fatal("%v", err)
		return ExitFatal, errors.Wrap(errors.PhaseInit, errors.KindInvalidData, err, "native version")
	}

	rt, err := runtime.New(ctx, l.runtimeOptions()...)
	if err != nil {
		l.out.fatal("%v", err)
		return ExitFatal, err
	}
	defer func() {
		if cerr := rt.Close(ctx); cerr != nil {
			Logger().Warn("close runtime", zap.Error(cerr))
		}
	}()

	if err := profile.Register(rt, l.profiler); err != nil {
		l.out.fatal("%v", err)
		return ExitFatal, err
	}
	l.enter(StageRuntimeReady)

	status := ExitFatal
	err = rt.With(ctx, func(s *runtime.Session) error {
		l.configureEnvironment()
		s.ForceFilesystemEncoding(FilesystemEncoding)
		l.enter(StageEnvConfigured)

		if err := l.checkVersion(ctx, s, native); err != nil {
			return err
		}
		l.enter(StageVersionChecked)

		if err := s.SetArgv(args); err != nil {
			l.out.fatal("%v", err)
			return err
		}
		l.enter(StageArgsForwarded)

		if slices.Contains(args, l.cfg.ProfileFlag) {
			if err := l.installProfiler(ctx, s); err != nil {
				return err
			}
			l.enter(StageProfilingInstalled)
		}

		var err error
		status, err = l.dispatch(ctx, s)
		return err
	})
	return status, err
}

func (l *Launcher) enter(s Stage) {
	l.stages = append(l.stages, s)
	Logger().Debug("stage", zap.Stringer("stage", s))
}

func (l *Launcher) nativeVersion() (wasmlauncher.VersionInfo, error) {
	if l.native != nil {
		return *l.native, nil
	}
	return wasmlauncher.NativeVersion()
}

func (l *Launcher) runtimeOptions() []runtime.Option {
	opts := []runtime.Option{runtime.WithSearchPath(l.cfg.SearchPath...)}
	if l.cfg.CacheDir != "" {
		opts = append(opts, runtime.WithCacheDir(l.cfg.CacheDir))
	}
	return append(opts, l.rtOpts...)
}

// configureEnvironment sets the locale from the environment on POSIX.
// Failure is reported and ignored.
func (l *Launcher) configureEnvironment() {
	name := l.platform.Name()
	if name != PlatformPOSIX {
		Logger().Debug("locale setup skipped", zap.String("platform", name))
		return
	}
	got, err := l.platform.SetLocale(locale.All, "")
	if err != nil {
		l.out.localeFailure(err)
		return
	}
	Logger().Debug("locale set", zap.String("locale", got))
}

// checkVersion imports the hosted package and warns when its release
// differs from the launcher's.
func (l *Launcher) checkVersion(ctx context.Context, s *runtime.Session, native wasmlauncher.VersionInfo) error {
	pkg, err := s.Import(ctx, l.cfg.Package)
	if err != nil {
		l.out.importFailure(l.cfg.Package, EnvPath)
		return errors.New(errors.PhaseVersion, errors.KindImport).
			Module(l.cfg.Package).
			Cause(err).
			Build()
	}

	addr, hosted, err := l.hostedVersion(pkg)
	if err != nil {
		l.out.fatal("%v", err)
		return err
	}

	Logger().Debug("version check",
		zap.Stringer("native", native),
		zap.Stringer("hosted", hosted))

	if hosted.SameRelease(native) {
		return nil
	}

	formatted, err := l.formatVersion(ctx, pkg, addr)
	if err != nil {
		l.out.fatal("%v", err)
		return err
	}
	l.out.versionMismatch(l.cfg.Package, formatted, native)
	return nil
}

// hostedVersion reads the version record the package's version global
// points at.
func (l *Launcher) hostedVersion(pkg *runtime.Module) (uint32, wasmlauncher.VersionInfo, error) {
	addr, err := pkg.GlobalU32(l.cfg.VersionInfo)
	if err != nil {
		return 0, wasmlauncher.VersionInfo{}, errors.Wrap(errors.PhaseVersion, errors.KindInvalidData, err, "read "+l.cfg.VersionInfo)
	}

	var fields [6]uint32
	for i := range fields {
		v, err := pkg.ReadUint32(addr + uint32(4*i))
		if err != nil {
			return 0, wasmlauncher.VersionInfo{}, errors.Wrap(errors.PhaseVersion, errors.KindInvalidData, err, "read "+l.cfg.VersionInfo)
		}
		fields[i] = v
	}

	label, err := pkg.ReadString(fields[3], fields[4])
	if err != nil {
		return 0, wasmlauncher.VersionInfo{}, errors.Wrap(errors.PhaseVersion, errors.KindInvalidData, err, "read release label")
	}

	return addr, wasmlauncher.VersionInfo{
		Major:        fields[0],
		Minor:        fields[1],
		Patch:        fields[2],
		ReleaseLevel: label,
		Serial:       fields[5],
	}, nil
}

func (l *Launcher) formatVersion(ctx context.Context, pkg *runtime.Module, addr uint32) (string, error) {
	if err := pkg.Check(formatterContract); err != nil {
		return "", err
	}
	res, err := pkg.Call(ctx, l.cfg.VersionFormatter, api.EncodeU32(addr))
	if err != nil {
		return "", errors.Wrap(errors.PhaseVersion, errors.KindTrap, err, "format hosted version")
	}
	return pkg.ReadPacked(res[0])
}

// installProfiler imports the profiling module and calls its installer.
func (l *Launcher) installProfiler(ctx context.Context, s *runtime.Session) error {
	mod, err := s.Import(ctx, l.cfg.ProfileModule)
	if err == nil {
		_, err = mod.Call(ctx, profile.InstallFunc)
	}
	if err != nil {
		err = errors.Wrap(errors.PhaseProfile, errors.KindImport, err, "install "+l.cfg.ProfileModule)
		l.out.fatal("%v", err)
		return err
	}
	return nil
}

// dispatch calls the entry point and maps its outcome to an exit status.
// StageDispatched is only entered once the entry point has been called.
func (l *Launcher) dispatch(ctx context.Context, s *runtime.Session) (int, error) {
	entry, err := s.Import(ctx, l.cfg.Entry)
	if err != nil {
		l.out.fatal("%v", err)
		return ExitFatal, err
	}

	if err := checkEntry(entry); err != nil {
		l.out.fatal("%v", err)
		return ExitFatal, err
	}

	res, err := entry.Call(ctx, l.cfg.EntryFunc)
	l.enter(StageDispatched)
	if code, ok := errors.ExitCode(err); ok {
		Logger().Debug("entry point exited", zap.Uint32("code", code))
		return int(code), nil
	}
	if err != nil {
		l.out.fatal("%v", err)
		return ExitFault, err
	}
	if len(res) == 0 {
		return ExitOK, nil
	}
	return int(api.DecodeI32(res[0])), nil
}

func checkEntry(entry *runtime.Module) error {
	var err error
	for _, c := range entryContracts {
		if err = entry.Check(c); err == nil {
			return nil
		}
	}
	return err
}

package runtime

import (
	"context"
	"crypto/rand"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/locale"
)

// FilesystemEncodingEnv carries the filesystem encoding into guest modules.
const FilesystemEncodingEnv = "WASM_FS_ENCODING"

// Runtime is the process-wide embedded runtime. Create it once with New and
// drive it through With, which holds the execution lock.
type Runtime struct {
	wz       wazero.Runtime
	cache    wazero.CompilationCache
	wasi     api.Closer
	modules  map[string]*Module
	loading  map[string]bool
	builtins map[string]Builtin
	cfg      config
	fsEnc    string
	argv     []string
	hooks    []ImportHook
	atExit   []func()
	exec     sync.Mutex
	mu       sync.Mutex
	closed   bool
}

type config struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	mounts     map[string]string
	cacheDir   string
	environ    []string
	searchPath []string
}

func defaultConfig() config {
	return config{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		environ: os.Environ(),
	}
}

// Option configures a Runtime.
type Option func(*config)

// WithSearchPath sets the directories searched for hosted modules, in order.
func WithSearchPath(dirs ...string) Option {
	return func(c *config) {
		c.searchPath = append([]string(nil), dirs...)
	}
}

// WithCacheDir enables the on-disk compilation cache in dir.
func WithCacheDir(dir string) Option {
	return func(c *config) {
		c.cacheDir = dir
	}
}

// WithStdio sets the streams handed to guest modules.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(c *config) {
		c.stdin = stdin
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithEnviron replaces the environment handed to guest modules.
// Entries use the KEY=VALUE form of os.Environ.
func WithEnviron(environ []string) Option {
	return func(c *config) {
		c.environ = append([]string(nil), environ...)
	}
}

// WithDirMount exposes a host directory to guest modules at guestPath.
func WithDirMount(hostDir, guestPath string) Option {
	return func(c *config) {
		if c.mounts == nil {
			c.mounts = make(map[string]string)
		}
		c.mounts[hostDir] = guestPath
	}
}

// New creates the embedded runtime and instantiates WASI. The runtime is
// safe to use from any goroutine; guest code only runs under With.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rcfg := wazero.NewRuntimeConfig()

	var cache wazero.CompilationCache
	if cfg.cacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.cacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseInit, errors.KindInvalidInput, err, "open compilation cache "+cfg.cacheDir)
		}
		rcfg = rcfg.WithCompilationCache(cache)
	}

	wz := wazero.NewRuntimeWithConfig(ctx, rcfg)

	r := &Runtime{
		wz:       wz,
		cache:    cache,
		cfg:      cfg,
		modules:  make(map[string]*Module),
		loading:  make(map[string]bool),
		builtins: make(map[string]Builtin),
		argv:     []string{""},
		fsEnc:    defaultFilesystemEncoding(cfg.environ),
	}

	wasi, err := r.instantiateWASI(ctx)
	if err != nil {
		err = multierr.Append(err, wz.Close(ctx))
		if cache != nil {
			err = multierr.Append(err, cache.Close(ctx))
		}
		return nil, errors.Wrap(errors.PhaseInit, errors.KindInstantiation, err, "instantiate WASI")
	}
	r.wasi = wasi

	Logger().Debug("runtime ready",
		zap.Strings("search_path", cfg.searchPath),
		zap.String("cache_dir", cfg.cacheDir),
		zap.String("fs_encoding", r.fsEnc))

	return r, nil
}

// With runs fn while holding the execution lock. The lock is released on
// every return path, including a panic in fn.
func (r *Runtime) With(ctx context.Context, fn func(*Session) error) error {
	r.exec.Lock()
	s := &Session{rt: r, ctx: ctx}
	s.held.Store(true)
	defer func() {
		s.held.Store(false)
		r.exec.Unlock()
	}()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.NotInitialized(errors.PhaseInit, "runtime")
	}

	return fn(s)
}

// Argv returns a copy of the argument vector handed to guest modules.
func (r *Runtime) Argv() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.argv...)
}

// FilesystemEncoding returns the encoding newly imported modules receive.
func (r *Runtime) FilesystemEncoding() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsEnc
}

// Imported reports whether name has been imported.
func (r *Runtime) Imported(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.modules[name]
	return ok
}

// AtExit registers fn to run when the runtime closes. Functions run in
// reverse registration order.
func (r *Runtime) AtExit(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.atExit = append(r.atExit, fn)
}

// Close runs the exit functions and releases every module.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	atExit := r.atExit
	r.atExit = nil
	r.mu.Unlock()

	for i := len(atExit) - 1; i >= 0; i-- {
		atExit[i]()
	}

	var err error
	err = multierr.Append(err, r.wasi.Close(ctx))
	err = multierr.Append(err, r.wz.Close(ctx))
	if r.cache != nil {
		err = multierr.Append(err, r.cache.Close(ctx))
	}
	return err
}

func (r *Runtime) moduleConfig(name string) wazero.ModuleConfig {
	r.mu.Lock()
	fsEnc := r.fsEnc
	r.mu.Unlock()

	mc := wazero.NewModuleConfig().
		WithName(name).
		WithStdin(r.cfg.stdin).
		WithStdout(r.cfg.stdout).
		WithStderr(r.cfg.stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		WithStartFunctions("_initialize")

	for _, kv := range r.cfg.environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || k == FilesystemEncodingEnv {
			continue
		}
		mc = mc.WithEnv(k, v)
	}
	mc = mc.WithEnv(FilesystemEncodingEnv, fsEnc)

	if len(r.cfg.mounts) > 0 {
		fsc := wazero.NewFSConfig()
		for host, guest := range r.cfg.mounts {
			fsc = fsc.WithDirMount(host, guest)
		}
		mc = mc.WithFSConfig(fsc)
	}

	return mc
}

// defaultFilesystemEncoding derives the encoding from the LC_CTYPE locale
// named in environ.
func defaultFilesystemEncoding(environ []string) string {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	for _, key := range []string{"LC_ALL", locale.CType.String(), "LANG"} {
		if v := vars[key]; v != "" {
			return locale.Codeset(v)
		}
	}
	return locale.Codeset("C")
}

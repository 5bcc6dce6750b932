package runtime

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/errors"
)

// ModuleExt is the file extension of hosted modules.
const ModuleExt = ".wasm"

// HostFunc is one export of a built-in module. Fn reads its parameters
// from the stack and leaves its results there.
type HostFunc struct {
	Fn      api.GoFunc
	Params  []api.ValueType
	Results []api.ValueType
}

// Builtin maps the export names of a Go host module to their functions.
type Builtin map[string]HostFunc

// ImportHook observes module imports. It is called when an import starts
// and returns a function called with the outcome when the import finishes.
// Cached imports are not reported.
type ImportHook func(name string) (done func(err error))

// RegisterBuiltin makes a Go host module importable under name. Built-in
// modules shadow the search path and are instantiated on first import.
func (r *Runtime) RegisterBuiltin(name string, define Builtin) error {
	if err := validateName(name); err != nil {
		return errors.Registration(name, err)
	}
	if define == nil {
		return errors.Registration(name, errors.InvalidInput(errors.PhaseLoad, "nil definition"))
	}
	for export, f := range define {
		if f.Fn == nil {
			return errors.Registration(name, errors.InvalidInput(errors.PhaseLoad, "nil function "+export))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builtins[name]; ok {
		return errors.Registration(name, errors.InvalidInput(errors.PhaseLoad, "already registered"))
	}
	r.builtins[name] = define
	return nil
}

// AddImportHook installs h for every subsequent import.
func (r *Runtime) AddImportHook(h ImportHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Find returns the file a dotted module name resolves to on the search path.
func (r *Runtime) Find(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	rel := filepath.Join(strings.Split(name, ".")...)
	candidates := []string{
		rel + ModuleExt,
		filepath.Join(rel, "__init__"+ModuleExt),
	}

	for _, dir := range r.cfg.searchPath {
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			info, err := os.Stat(p)
			if err == nil && info.Mode().IsRegular() {
				return p, nil
			}
			if err != nil && !errorsIsNotExist(err) {
				Logger().Debug("skip unreadable candidate", zap.String("path", p), zap.Error(err))
			}
		}
	}
	return "", errors.NotFound(errors.PhaseLoad, "module", name)
}

func (r *Runtime) importModule(ctx context.Context, name string) (*Module, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if m, ok := r.modules[name]; ok {
		r.mu.Unlock()
		return m, nil
	}
	if r.loading[name] {
		r.mu.Unlock()
		return nil, errors.New(errors.PhaseLoad, errors.KindImport).
			Module(name).
			Detail("import cycle").
			Build()
	}
	r.loading[name] = true
	hooks := append([]ImportHook(nil), r.hooks...)
	r.mu.Unlock()

	dones := make([]func(error), 0, len(hooks))
	for _, h := range hooks {
		dones = append(dones, h(name))
	}

	m, err := r.load(ctx, name)

	for i := len(dones) - 1; i >= 0; i-- {
		if dones[i] != nil {
			dones[i](err)
		}
	}

	r.mu.Lock()
	delete(r.loading, name)
	if err == nil {
		r.modules[name] = m
	}
	r.mu.Unlock()

	if err != nil {
		Logger().Debug("import failed", zap.String("module", name), zap.Error(err))
		return nil, err
	}
	Logger().Debug("imported", zap.String("module", name), zap.String("path", m.path))
	return m, nil
}

func (r *Runtime) load(ctx context.Context, name string) (*Module, error) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		if _, err := r.importModule(ctx, name[:i]); err != nil {
			return nil, errors.Import(name, err)
		}
	}

	r.mu.Lock()
	define, builtin := r.builtins[name]
	r.mu.Unlock()
	if builtin {
		return r.loadBuiltin(ctx, name, define)
	}

	path, err := r.Find(name)
	if err != nil {
		return nil, err
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Import(name, err)
	}

	compiled, err := r.wz.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Import(name, err)
	}

	for _, dep := range dependencies(compiled) {
		if dep == name || r.wz.Module(dep) != nil {
			continue
		}
		if _, err := r.importModule(ctx, dep); err != nil {
			_ = compiled.Close(ctx)
			return nil, errors.Import(name, err)
		}
	}

	mod, err := r.wz.InstantiateModule(ctx, compiled, r.moduleConfig(name))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(name, err)
	}

	return &Module{name: name, path: path, mod: mod}, nil
}

func (r *Runtime) loadBuiltin(ctx context.Context, name string, define Builtin) (*Module, error) {
	exports := make([]string, 0, len(define))
	for export := range define {
		exports = append(exports, export)
	}
	sort.Strings(exports)

	b := r.wz.NewHostModuleBuilder(name)
	for _, export := range exports {
		f := define[export]
		b = b.NewFunctionBuilder().
			WithGoFunction(f.Fn, f.Params, f.Results).
			Export(export)
	}

	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(name, err)
	}
	return &Module{name: name, mod: mod, host: define}, nil
}

// dependencies lists the modules compiled imports from, excluding WASI.
func dependencies(compiled wazero.CompiledModule) []string {
	seen := make(map[string]bool)
	add := func(defs []api.FunctionDefinition) {
		for _, d := range defs {
			if mod, _, ok := d.Import(); ok {
				seen[mod] = true
			}
		}
	}
	add(compiled.ImportedFunctions())
	for _, m := range compiled.ImportedMemories() {
		if mod, _, ok := m.Import(); ok {
			seen[mod] = true
		}
	}
	delete(seen, wasi_snapshot_preview1.ModuleName)

	deps := make([]string, 0, len(seen))
	for mod := range seen {
		deps = append(deps, mod)
	}
	sort.Strings(deps)
	return deps
}

func validateName(name string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "empty module name")
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" || strings.ContainsAny(part, `/\`) || part == ".." {
			return errors.InvalidInput(errors.PhaseLoad, "invalid module name "+name)
		}
	}
	return nil
}

func errorsIsNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, syscall.ENOTDIR)
}

// Package profile times module imports.
//
// Register makes the built-in module "profile_imports" importable. Calling
// its install export hooks every later import on the runtime and prints a
// report when the runtime closes:
//
//	12.408ms breezy
//	 3.112ms   breezy.errors
//	 0.951ms breezy.__main__
//
// Nested imports are indented under the import that triggered them. Lines
// wider than the terminal are cut at the last whole character.
package profile

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/runtime"
)

// ModuleName is the name the profiler is importable under.
const ModuleName = "profile_imports"

// InstallFunc is the export that activates the profiler.
const InstallFunc = "install"

// Entry is one timed import.
type Entry struct {
	Err      error
	Name     string
	Start    time.Time
	Duration time.Duration
	Depth    int
}

// Profiler records import timings.
type Profiler struct {
	out      io.Writer
	now      func() time.Time
	width    func() int
	entries  []*Entry
	depth    int
	installs int
	mu       sync.Mutex
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithOutput sets where the report is written. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(p *Profiler) {
		p.out = w
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) {
		p.now = now
	}
}

// WithWidth fixes the report width. Zero disables trimming.
func WithWidth(cols int) Option {
	return func(p *Profiler) {
		p.width = func() int { return cols }
	}
}

// New creates a profiler.
func New(opts ...Option) *Profiler {
	p := &Profiler{
		out: os.Stderr,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.width == nil {
		p.width = func() int { return terminalWidth(p.out) }
	}
	return p
}

// Hook is a runtime.ImportHook recording each import.
func (p *Profiler) Hook(name string) func(error) {
	p.mu.Lock()
	e := &Entry{Name: name, Depth: p.depth, Start: p.now()}
	p.entries = append(p.entries, e)
	p.depth++
	p.mu.Unlock()

	return func(err error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		e.Duration = p.now().Sub(e.Start)
		e.Err = err
		p.depth--
	}
}

// Entries returns the recorded imports in the order they started.
func (p *Profiler) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// Installs returns how many times install was called.
func (p *Profiler) Installs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installs
}

// Report writes one line per import to w.
func (p *Profiler) Report(w io.Writer) error {
	width := p.width()

	var b strings.Builder
	for _, e := range p.Entries() {
		line := fmt.Sprintf("%10.3fms %s%s", float64(e.Duration.Microseconds())/1000, strings.Repeat("  ", e.Depth), e.Name)
		if e.Err != nil {
			line += " (failed)"
		}
		if width > 0 {
			line = ansi.Truncate(line, width, "")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Register makes the profiler importable on rt as ModuleName. The first
// install call hooks rt's imports and schedules the report for rt.Close;
// later calls only count.
func Register(rt *runtime.Runtime, p *Profiler) error {
	install := func(ctx context.Context) {
		p.mu.Lock()
		p.installs++
		first := p.installs == 1
		p.mu.Unlock()

		if !first {
			Logger().Debug("profiler already installed")
			return
		}

		rt.AddImportHook(p.Hook)
		rt.AtExit(func() {
			if err := p.Report(p.out); err != nil {
				Logger().Warn("write import profile", zap.Error(err))
			}
		})
		Logger().Debug("profiler installed")
	}

	err := rt.RegisterBuiltin(ModuleName, runtime.Builtin{
		InstallFunc: {Fn: func(ctx context.Context, _ []uint64) { install(ctx) }},
	})
	if err != nil {
		return errors.Wrap(errors.PhaseProfile, errors.KindRegistration, err, "register "+ModuleName)
	}
	return nil
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	cols, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return cols
}

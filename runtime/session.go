package runtime

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/errors"
)

// Session is the handle given to code holding the execution lock. It is
// only valid inside the function passed to Runtime.With.
type Session struct {
	rt   *Runtime
	ctx  context.Context
	held atomic.Bool
}

// Runtime returns the runtime the session belongs to.
func (s *Session) Runtime() *Runtime {
	return s.rt
}

// Context returns the context passed to Runtime.With.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Import resolves a dotted module name, importing parent packages and
// dependencies first. Modules are imported at most once.
func (s *Session) Import(ctx context.Context, name string) (*Module, error) {
	if !s.held.Load() {
		return nil, errors.NotInitialized(errors.PhaseLoad, "execution lock")
	}
	return s.rt.importModule(ctx, name)
}

// SetArgv replaces the argument vector. Every module, including those
// already imported, sees args verbatim from its next WASI args call.
func (s *Session) SetArgv(args []string) error {
	if !s.held.Load() {
		return errors.NotInitialized(errors.PhaseArgs, "execution lock")
	}
	s.rt.mu.Lock()
	s.rt.argv = append([]string(nil), args...)
	s.rt.mu.Unlock()

	Logger().Debug("argv set", zap.Strings("argv", args))
	return nil
}

// ForceFilesystemEncoding overrides the filesystem encoding handed to
// modules imported from now on. Modules already imported keep the value
// they started with, so the override is best-effort and reports nothing.
func (s *Session) ForceFilesystemEncoding(encoding string) {
	if !s.held.Load() || encoding == "" {
		Logger().Debug("filesystem encoding override skipped", zap.String("encoding", encoding))
		return
	}
	s.rt.mu.Lock()
	s.rt.fsEnc = encoding
	s.rt.mu.Unlock()
}

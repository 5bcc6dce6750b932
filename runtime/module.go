package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/errors"
)

// Module is an imported hosted module.
type Module struct {
	mod  api.Module
	host Builtin
	name string
	path string
}

// Name returns the dotted module name.
func (m *Module) Name() string {
	return m.name
}

// Path returns the file the module was loaded from, empty for built-ins.
func (m *Module) Path() string {
	return m.path
}

// Builtin reports whether the module is a Go host module.
func (m *Module) Builtin() bool {
	return m.host != nil
}

// HasFunction reports whether the module exports a function called name.
func (m *Module) HasFunction(name string) bool {
	_, ok := m.mod.ExportedFunctionDefinitions()[name]
	return ok
}

// Call invokes an exported function with raw core values. Functions of
// built-in modules run directly in Go.
func (m *Module) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if m.host != nil {
		return m.callHost(ctx, name, params)
	}

	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseContract, "function", m.name+"."+name)
	}

	Logger().Debug("call", zap.String("module", m.name), zap.String("function", name))

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.Call(errors.PhaseDispatch, m.name, name, err)
	}
	return results, nil
}

func (m *Module) callHost(ctx context.Context, name string, params []uint64) (results []uint64, err error) {
	f, ok := m.host[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseContract, "function", m.name+"."+name)
	}
	if len(params) != len(f.Params) {
		return nil, errors.Contract(m.name, name, fmt.Sprintf("want %d params, have %d", len(f.Params), len(params)))
	}

	Logger().Debug("call", zap.String("module", m.name), zap.String("function", name), zap.Bool("builtin", true))

	defer func() {
		if p := recover(); p != nil {
			cause, ok := p.(error)
			if !ok {
				cause = fmt.Errorf("%v", p)
			}
			results, err = nil, errors.Call(errors.PhaseDispatch, m.name, name, cause)
		}
	}()

	stack := make([]uint64, max(len(f.Params), len(f.Results)))
	copy(stack, params)
	f.Fn.Call(ctx, stack)
	return stack[:len(f.Results)], nil
}

// GlobalU32 reads an exported i32 global as an unsigned value.
func (m *Module) GlobalU32(name string) (uint32, error) {
	g := m.mod.ExportedGlobal(name)
	if g == nil {
		return 0, errors.NotFound(errors.PhaseContract, "global", m.name+"."+name)
	}
	if g.Type() != api.ValueTypeI32 {
		return 0, errors.Contract(m.name, name, "global is not i32")
	}
	return api.DecodeU32(g.Get()), nil
}

// ReadUint32 reads a little-endian u32 from linear memory.
func (m *Module) ReadUint32(offset uint32) (uint32, error) {
	mem := exportedMemory(m.mod)
	if mem == nil {
		return 0, errors.InvalidData(errors.PhaseContract, m.name, "module exports no memory")
	}
	v, ok := mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.InvalidData(errors.PhaseContract, m.name, fmt.Sprintf("u32 at 0x%x out of range", offset))
	}
	return v, nil
}

// ReadString copies length bytes at offset out of linear memory.
func (m *Module) ReadString(offset, length uint32) (string, error) {
	mem := exportedMemory(m.mod)
	if mem == nil {
		return "", errors.InvalidData(errors.PhaseContract, m.name, "module exports no memory")
	}
	b, ok := mem.Read(offset, length)
	if !ok {
		return "", errors.InvalidData(errors.PhaseContract, m.name,
			fmt.Sprintf("string [0x%x, +%d) out of range", offset, length))
	}
	return string(b), nil
}

// ReadPacked reads a string returned as ptr<<32 | len.
func (m *Module) ReadPacked(packed uint64) (string, error) {
	return m.ReadString(uint32(packed>>32), uint32(packed))
}

// Check verifies that every function in c is exported with matching core
// types. All mismatches are reported together.
func (m *Module) Check(c Contract) error {
	defs := m.mod.ExportedFunctionDefinitions()

	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)

	var problems []string
	for _, name := range names {
		def, ok := defs[name]
		if !ok {
			problems = append(problems, name+": missing")
			continue
		}
		params, results, err := c[name].CoreTypes()
		if err != nil {
			return errors.New(errors.PhaseContract, errors.KindContract).
				Module(m.name).
				Cause(err).
				Detail("lower %s", name).
				Build()
		}
		if !slices.Equal(params, def.ParamTypes()) || !slices.Equal(results, def.ResultTypes()) {
			problems = append(problems, fmt.Sprintf("%s: want %s, have %s",
				name, signature(params, results), signature(def.ParamTypes(), def.ResultTypes())))
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.PhaseContract, errors.KindContract).
			Module(m.name).
			Detail("%s", strings.Join(problems, "; ")).
			Build()
	}
	return nil
}

// exportedMemory returns mod's exported linear memory, nil when it has none.
// Module.Memory is not used as it returns a non-nil interface holding a nil
// instance for modules without memory.
func exportedMemory(mod api.Module) api.Memory {
	for name := range mod.ExportedMemoryDefinitions() {
		return mod.ExportedMemory(name)
	}
	return nil
}

func signature(params, results []api.ValueType) string {
	names := func(vts []api.ValueType) string {
		s := make([]string, len(vts))
		for i, vt := range vts {
			s[i] = api.ValueTypeName(vt)
		}
		return strings.Join(s, ",")
	}
	return "(" + names(params) + ")->(" + names(results) + ")"
}

// Package wasmbuild assembles small core WASM binaries for tests.
package wasmbuild

import (
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero/api"
)

const (
	sectionType   = 1
	sectionImport = 2
	sectionFunc   = 3
	sectionMemory = 5
	sectionGlobal = 6
	sectionExport = 7
	sectionCode   = 10
	sectionData   = 11

	kindFunc   = 0x00
	kindMemory = 0x02
	kindGlobal = 0x03

	funcTypeMarker = 0x60
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

type funcImport struct {
	module  string
	name    string
	typeIdx uint32
}

type function struct {
	body    []byte
	typeIdx uint32
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	data   []byte
	offset int32
}

// Module is a core module under construction. Function indices count
// imports first, so all imports must be added before any function.
type Module struct {
	types    []funcType
	imports  []funcImport
	funcs    []function
	globals  []int32
	exports  []export
	data     []segment
	memPages uint32
	memory   bool
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

// ImportFunc declares an imported function and returns its index.
func (m *Module) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbuild: import after function definition")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typeIdx: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. The body must not
// include the final end opcode.
func (m *Module) Func(params, results []api.ValueType, body ...[]byte) uint32 {
	var b Buffer
	for _, instr := range body {
		b.WriteBytes(instr)
	}
	b.AppendByte(opEnd)
	m.funcs = append(m.funcs, function{typeIdx: m.typeIndex(params, results), body: b.Bytes})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares the module's linear memory.
func (m *Module) Memory(pages uint32) *Module {
	m.memory = true
	m.memPages = pages
	return m
}

// GlobalI32 defines an immutable i32 global and returns its index.
func (m *Module) GlobalI32(v int32) uint32 {
	m.globals = append(m.globals, v)
	return uint32(len(m.globals) - 1)
}

// Data places bytes in memory at offset.
func (m *Module) Data(offset int32, data []byte) *Module {
	m.data = append(m.data, segment{offset: offset, data: data})
	return m
}

// ExportFunc exports function idx as name.
func (m *Module) ExportFunc(name string, idx uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, idx: idx})
	return m
}

// ExportGlobal exports global idx as name.
func (m *Module) ExportGlobal(name string, idx uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: kindGlobal, idx: idx})
	return m
}

// ExportMemory exports the module's memory as name.
func (m *Module) ExportMemory(name string) *Module {
	m.exports = append(m.exports, export{name: name, kind: kindMemory, idx: 0})
	return m
}

func (m *Module) typeIndex(params, results []api.ValueType) uint32 {
	for i, t := range m.types {
		if equal(t.params, params) && equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	buf := &Buffer{}
	buf.WriteBytes(header)

	if len(m.types) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.types)))
		for _, ft := range m.types {
			sec.AppendByte(funcTypeMarker)
			sec.WriteU32(uint32(len(ft.params)))
			for _, p := range ft.params {
				sec.AppendByte(p)
			}
			sec.WriteU32(uint32(len(ft.results)))
			for _, r := range ft.results {
				sec.AppendByte(r)
			}
		}
		writeSection(buf, sectionType, sec)
	}

	if len(m.imports) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.WriteString(imp.module)
			sec.WriteString(imp.name)
			sec.AppendByte(kindFunc)
			sec.WriteU32(imp.typeIdx)
		}
		writeSection(buf, sectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.WriteU32(f.typeIdx)
		}
		writeSection(buf, sectionFunc, sec)
	}

	if m.memory {
		sec := &Buffer{}
		sec.WriteU32(1)
		sec.AppendByte(0x00)
		sec.WriteU32(m.memPages)
		writeSection(buf, sectionMemory, sec)
	}

	if len(m.globals) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.globals)))
		for _, v := range m.globals {
			sec.AppendByte(api.ValueTypeI32)
			sec.AppendByte(0x00)
			sec.WriteBytes(I32Const(v))
			sec.AppendByte(opEnd)
		}
		writeSection(buf, sectionGlobal, sec)
	}

	if len(m.exports) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.exports)))
		for _, e := range m.exports {
			sec.WriteString(e.name)
			sec.AppendByte(e.kind)
			sec.WriteU32(e.idx)
		}
		writeSection(buf, sectionExport, sec)
	}

	if len(m.funcs) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := &Buffer{}
			body.WriteU32(0) // no locals
			body.WriteBytes(f.body)
			sec.WriteU32(uint32(len(body.Bytes)))
			sec.WriteBytes(body.Bytes)
		}
		writeSection(buf, sectionCode, sec)
	}

	if len(m.data) > 0 {
		sec := &Buffer{}
		sec.WriteU32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.WriteU32(0) // active, memory 0
			sec.WriteBytes(I32Const(d.offset))
			sec.AppendByte(opEnd)
			sec.WriteU32(uint32(len(d.data)))
			sec.WriteBytes(d.data)
		}
		writeSection(buf, sectionData, sec)
	}

	return buf.Bytes
}

// WriteFile encodes the module to dir/rel, creating parent directories.
func (m *Module) WriteFile(dir, rel string) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, m.Bytes(), 0o644)
}

func writeSection(buf *Buffer, id byte, content *Buffer) {
	buf.AppendByte(id)
	buf.WriteU32(uint32(len(content.Bytes)))
	buf.WriteBytes(content.Bytes)
}

func equal(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

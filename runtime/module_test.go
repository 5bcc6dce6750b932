package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/internal/wasmbuild"
)

// recordModule lays out a string and a record in memory and exports
// accessors for both.
func recordModule() *wasmbuild.Module {
	m := wasmbuild.New().Memory(1)
	m.Data(64, []byte("final"))
	m.Data(128, wasmbuild.LE32(3, 3, 1, 64, 5, 0))
	m.ExportGlobal("record", m.GlobalI32(128))
	m.ExportFunc("label", m.Func(nil, i64, wasmbuild.I64Const(64<<32|5)))
	m.ExportFunc("pair", m.Func(i32s, i64, wasmbuild.I64Const(0)))
	m.ExportMemory("memory")
	return m
}

func loadModule(t *testing.T, name string, m *wasmbuild.Module) *Module {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, name+".wasm", m)
	rt := newRuntime(t, WithSearchPath(dir))
	mod, err := importIn(t, rt, name)
	if err != nil {
		t.Fatalf("import %s: %v", name, err)
	}
	return mod
}

func TestModule_Accessors(t *testing.T) {
	mod := loadModule(t, "rec", recordModule())

	if mod.Name() != "rec" || mod.Builtin() {
		t.Errorf("name = %q, builtin = %v", mod.Name(), mod.Builtin())
	}
	if !mod.HasFunction("label") || mod.HasFunction("nope") {
		t.Error("HasFunction mismatch")
	}

	addr, err := mod.GlobalU32("record")
	if err != nil || addr != 128 {
		t.Fatalf("GlobalU32 = %d, %v", addr, err)
	}

	var fields []uint32
	for i := uint32(0); i < 6; i++ {
		v, err := mod.ReadUint32(addr + 4*i)
		if err != nil {
			t.Fatalf("ReadUint32: %v", err)
		}
		fields = append(fields, v)
	}
	if fields[0] != 3 || fields[1] != 3 || fields[2] != 1 || fields[4] != 5 {
		t.Errorf("fields = %v", fields)
	}

	s, err := mod.ReadString(fields[3], fields[4])
	if err != nil || s != "final" {
		t.Errorf("ReadString = %q, %v", s, err)
	}

	res, err := mod.Call(context.Background(), "label")
	if err != nil {
		t.Fatalf("call label: %v", err)
	}
	s, err = mod.ReadPacked(res[0])
	if err != nil || s != "final" {
		t.Errorf("ReadPacked = %q, %v", s, err)
	}
}

func TestModule_AccessorErrors(t *testing.T) {
	mod := loadModule(t, "rec", recordModule())

	if _, err := mod.GlobalU32("missing"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("missing global: %v", err)
	}
	if _, err := mod.ReadUint32(1 << 20); !errors.IsKind(err, errors.KindInvalidData) {
		t.Errorf("out of range u32: %v", err)
	}
	if _, err := mod.ReadString(65530, 100); !errors.IsKind(err, errors.KindInvalidData) {
		t.Errorf("out of range string: %v", err)
	}
	if _, err := mod.Call(context.Background(), "missing"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("missing function: %v", err)
	}

	plain := loadModule(t, "plain", constModule(1))
	if _, err := plain.ReadUint32(0); !errors.IsKind(err, errors.KindInvalidData) {
		t.Errorf("no memory: %v", err)
	}
}

func TestModule_CallExit(t *testing.T) {
	mod := loadModule(t, "quit", exitModule(4))

	_, err := mod.Call(context.Background(), "main")
	if err == nil {
		t.Fatal("expected exit error")
	}
	code, ok := errors.ExitCode(err)
	if !ok || code != 4 {
		t.Errorf("exit code = %d, %v", code, ok)
	}
	if !errors.IsKind(err, errors.KindExit) {
		t.Errorf("expected exit kind, got %v", err)
	}
}

func TestModule_CallTrap(t *testing.T) {
	m := wasmbuild.New()
	m.ExportFunc("main", m.Func(nil, nil, wasmbuild.Unreachable()))
	mod := loadModule(t, "crash", m)

	_, err := mod.Call(context.Background(), "main")
	if !errors.IsKind(err, errors.KindTrap) {
		t.Errorf("expected trap, got %v", err)
	}
	if _, ok := errors.ExitCode(err); ok {
		t.Error("trap should not carry an exit code")
	}
}

func TestModule_Check(t *testing.T) {
	mod := loadModule(t, "rec", recordModule())

	ok := MustParseContract(`
		label: func() -> u64;
		pair: func(a: u32, b: char) -> s64;
	`)
	if err := mod.Check(ok); err != nil {
		t.Errorf("Check: %v", err)
	}

	bad := MustParseContract(`
		label: func() -> u32;
		missing: func();
	`)
	err := mod.Check(bad)
	if !errors.IsKind(err, errors.KindContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "label: want ()->(i32), have ()->(i64)") {
		t.Errorf("missing label mismatch in %q", msg)
	}
	if !strings.Contains(msg, "missing: missing") {
		t.Errorf("missing export not reported in %q", msg)
	}

	str := MustParseContract(`pair: func(s: string) -> u64;`)
	if err := mod.Check(str); err != nil {
		t.Errorf("string param should lower to two i32: %v", err)
	}
}

func TestParseContract(t *testing.T) {
	c, err := ParseContract(`
		export add: func(a: s32, b: s32) -> s32;
		_format_version_tuple: func(tuple: u32) -> u64;
		main: func();
		pair: func() -> (u32, f64);
	`)
	if err != nil {
		t.Fatalf("ParseContract: %v", err)
	}
	if len(c) != 4 {
		t.Fatalf("got %d functions", len(c))
	}

	add := c["add"]
	if len(add.Params) != 2 || len(add.Results) != 1 {
		t.Errorf("add = %+v", add)
	}
	if _, ok := add.Params[0].(wit.S32); !ok {
		t.Errorf("add param type = %T", add.Params[0])
	}

	fmtSig := c["_format_version_tuple"]
	params, results, err := fmtSig.CoreTypes()
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 || params[0] != api.ValueTypeI32 || len(results) != 1 || results[0] != api.ValueTypeI64 {
		t.Errorf("core types = %v -> %v", params, results)
	}

	if m := c["main"]; len(m.Params) != 0 || len(m.Results) != 0 {
		t.Errorf("main = %+v", m)
	}
	if p := c["pair"]; len(p.Results) != 2 {
		t.Errorf("pair results = %d", len(p.Results))
	}
}

func TestParseContract_Errors(t *testing.T) {
	if _, err := ParseContract("nothing here"); err == nil {
		t.Error("expected error for text without functions")
	}
	if _, err := ParseContract("f: func(a: not-a-type);"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSignature_CoreTypesUnsupported(t *testing.T) {
	sig := Signature{Params: []wit.Type{&wit.TypeDef{Kind: &wit.List{Type: wit.U8{}}}}}
	if _, _, err := sig.CoreTypes(); err == nil {
		t.Error("expected error for list param")
	}
}

func TestSplitParams(t *testing.T) {
	got := splitParams("a: u32, b: list<tuple<u8, u16>>, c: option<string>")
	want := []string{"a: u32", "b: list<tuple<u8, u16>>", "c: option<string>"}
	if len(got) != len(want) {
		t.Fatalf("splitParams = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, got[i], want[i])
		}
	}
}

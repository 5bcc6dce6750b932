package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASI errno values returned by the argument functions.
const (
	errnoSuccess = 0
	errnoFault   = 21
)

var (
	argsParams  = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	errnoResult = []api.ValueType{api.ValueTypeI32}
)

// instantiateWASI instantiates wasi_snapshot_preview1 with args_sizes_get
// and args_get reading the runtime's argument vector on every call, so a
// module sees SetArgv no matter when it was imported.
func (r *Runtime) instantiateWASI(ctx context.Context) (api.Closer, error) {
	b := r.wz.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(b)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.argsSizesGet), argsParams, errnoResult).
		WithParameterNames("result.argc", "result.argv_len").
		Export("args_sizes_get")
	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.argsGet), argsParams, errnoResult).
		WithParameterNames("argv", "argv_buf").
		Export("args_get")

	return b.Instantiate(ctx)
}

func (r *Runtime) argsSizesGet(_ context.Context, mod api.Module, stack []uint64) {
	argc, argvLen := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	argv := r.Argv()

	var size uint32
	for _, arg := range argv {
		size += uint32(len(arg)) + 1
	}

	mem := exportedMemory(mod)
	if mem == nil || !mem.WriteUint32Le(argc, uint32(len(argv))) || !mem.WriteUint32Le(argvLen, size) {
		stack[0] = errnoFault
		return
	}
	stack[0] = errnoSuccess
}

// argsGet writes a pointer per argument at argv and the NUL-terminated
// arguments themselves at argvBuf.
func (r *Runtime) argsGet(_ context.Context, mod api.Module, stack []uint64) {
	argv, buf := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])

	mem := exportedMemory(mod)
	if mem == nil {
		stack[0] = errnoFault
		return
	}
	for i, arg := range r.Argv() {
		end := buf + uint32(len(arg))
		if !mem.WriteUint32Le(argv+uint32(4*i), buf) || !mem.WriteString(buf, arg) || !mem.WriteByte(end, 0) {
			stack[0] = errnoFault
			return
		}
		buf = end + 1
	}
	stack[0] = errnoSuccess
}

package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import module name plugins link against.
const HostModule = "env"

// Register builds and instantiates the "env" host module with the
// capability-mediated host-call surface.
func Register(ctx context.Context, runtime wazero.Runtime, hooks Hooks) error {
	builder := runtime.NewHostModuleBuilder(HostModule)

	i32 := api.ValueTypeI32

	register := func(name string, fn func(context.Context, api.Module, []uint64, Hooks), params, results []api.ValueType) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				fn(ctx, mod, stack, hooks)
			}), params, results).
			Export(name)
	}

	// read_file(pathPtr, pathLen, bufPtr, bufCap) -> bytes or error code
	register("read_file", ReadFile, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})

	// write_file(pathPtr, pathLen, dataPtr, dataLen) -> bytes or error code
	register("write_file", WriteFile, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})

	// connect(hostPtr, hostLen, port) -> descriptor or error code
	register("connect", Connect, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})

	// send(fd, ptr, len) -> bytes or error code
	register("send", Send, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})

	// recv(fd, ptr, cap) -> bytes or error code
	register("recv", Recv, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})

	// close(fd) -> 0 or error code
	register("close", Close, []api.ValueType{i32}, []api.ValueType{i32})

	// send_message(recPtr, recLen, topicPtr, topicLen, payloadPtr, payloadLen) -> bytes or error code
	register("send_message", SendMessage, []api.ValueType{i32, i32, i32, i32, i32, i32}, []api.ValueType{i32})

	// call_plugin(pluginPtr, pluginLen, fnPtr, fnLen, argPtr, argLen, outPtr, outCap) -> bytes or error code
	register("call_plugin", CallPlugin, []api.ValueType{i32, i32, i32, i32, i32, i32, i32, i32}, []api.ValueType{i32})

	// log_message(level, ptr, len)
	register("log_message", LogMessage, []api.ValueType{i32, i32, i32}, nil)

	_, err := builder.Instantiate(ctx)
	return err
}

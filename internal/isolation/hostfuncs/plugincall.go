package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/tetratelabs/wazero/api"
)

// CallPlugin implements the call_plugin host call:
// call_plugin(pluginPtr, pluginLen, fnPtr, fnLen, argPtr, argLen, outPtr, outCap)
// -> result bytes copied into out, or an error code. A result larger
// than the out buffer fails with the resource-exhausted code.
func CallPlugin(ctx context.Context, mod api.Module, stack []uint64, hooks Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	target, ok := readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	function, ok := readGuestString(mod, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	params, ok := readGuestBytes(mod, api.DecodeU32(stack[4]), api.DecodeU32(stack[5]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	outPtr := api.DecodeU32(stack[6])
	outCap := api.DecodeU32(stack[7])

	req := capability.PluginCallRequest{Plugin: target, Function: function}
	if err := hooks.Capabilities.Check(caller.Plugin, req); err != nil {
		stack[0] = api.EncodeI32(errorCode(err))
		return
	}

	result, err := hooks.Invoker.CallFromPlugin(ctx, caller.Plugin, target, function, params)
	if err != nil {
		slog.Debug("call_plugin failed",
			"plugin", caller.Plugin, "target", target, "function", function, "error", err)
		stack[0] = api.EncodeI32(errorCode(err))
		return
	}
	if caller.Meter.ChargeBytes(len(result)) != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	n, ok := writeGuestBytes(mod, outPtr, outCap, result)
	if !ok {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}
	stack[0] = api.EncodeI32(n)
}

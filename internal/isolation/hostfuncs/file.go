package hostfuncs

import (
	"context"
	"log/slog"
	"os"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/tetratelabs/wazero/api"
)

// ReadFile implements the read_file host call:
// read_file(pathPtr, pathLen, bufPtr, bufCap) -> bytes read or error code.
func ReadFile(ctx context.Context, mod api.Module, stack []uint64, hooks Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	path, ok := readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	bufPtr := api.DecodeU32(stack[2])
	bufCap := api.DecodeU32(stack[3])

	if err := hooks.Capabilities.Check(caller.Plugin, capability.FileRequest{Path: path, Read: true}); err != nil {
		stack[0] = api.EncodeI32(errorCode(err))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("read_file failed", "plugin", caller.Plugin, "path", path, "error", err)
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeBytes(len(data)) != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	n, ok := writeGuestBytes(mod, bufPtr, bufCap, data)
	if !ok {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}
	stack[0] = api.EncodeI32(n)
}

// WriteFile implements the write_file host call:
// write_file(pathPtr, pathLen, dataPtr, dataLen) -> bytes written or error code.
func WriteFile(ctx context.Context, mod api.Module, stack []uint64, hooks Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	path, ok := readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	data, ok := readGuestBytes(mod, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeBytes(len(data)) != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	if err := hooks.Capabilities.Check(caller.Plugin, capability.FileRequest{Path: path, Write: true}); err != nil {
		stack[0] = api.EncodeI32(errorCode(err))
		return
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		slog.Debug("write_file failed", "plugin", caller.Plugin, "path", path, "error", err)
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	stack[0] = api.EncodeI32(int32(len(data)))
}

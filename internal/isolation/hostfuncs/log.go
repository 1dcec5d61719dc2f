package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero/api"
)

// LogMessage implements the log_message host call:
// log_message(level, ptr, len). Levels follow slog numbering; unknown
// levels log at info. Logging needs no capability.
func LogMessage(ctx context.Context, mod api.Module, stack []uint64, _ Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return
	}

	level := slog.Level(api.DecodeI32(stack[0]))
	msg, ok := readGuestString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		return
	}

	switch level {
	case slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError:
	default:
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, msg, "plugin", caller.Plugin)
}

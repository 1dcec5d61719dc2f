package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/tetratelabs/wazero/api"
)

// SendMessage implements the send_message host call:
// send_message(recPtr, recLen, topicPtr, topicLen, payloadPtr, payloadLen)
// -> payload bytes accepted or error code.
func SendMessage(ctx context.Context, mod api.Module, stack []uint64, hooks Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	recipient, ok := readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	topic, ok := readGuestString(mod, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	payload, ok := readGuestBytes(mod, api.DecodeU32(stack[4]), api.DecodeU32(stack[5]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeBytes(len(payload)) != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	req := capability.MessageRequest{Recipient: recipient, Topic: topic}
	if err := hooks.Capabilities.Check(caller.Plugin, req); err != nil {
		stack[0] = api.EncodeI32(errorCode(err))
		return
	}

	if err := hooks.Messenger.Send(caller.Plugin, recipient, topic, payload); err != nil {
		slog.Debug("send_message failed",
			"plugin", caller.Plugin, "recipient", recipient, "topic", topic, "error", err)
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	stack[0] = api.EncodeI32(int32(len(payload)))
}

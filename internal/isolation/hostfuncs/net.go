package hostfuncs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/tetratelabs/wazero/api"
)

const dialTimeout = 10 * time.Second

// Connect implements the connect host call:
// connect(hostPtr, hostLen, port) -> descriptor or error code.
func Connect(ctx context.Context, mod api.Module, stack []uint64, hooks Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	host, ok := readGuestString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	port := uint16(api.DecodeU32(stack[2]))

	req := capability.NetworkRequest{Host: host, Port: port, Connect: true}
	if err := hooks.Capabilities.Check(caller.Plugin, req); err != nil {
		stack[0] = api.EncodeI32(errorCode(err))
		return
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		slog.Debug("connect failed", "plugin", caller.Plugin, "host", host, "port", port, "error", err)
		stack[0] = api.EncodeI32(netErrorCode(err))
		return
	}
	stack[0] = api.EncodeI32(caller.Conns.Open(conn))
}

// Send implements the send host call: send(fd, ptr, len) -> bytes sent.
func Send(ctx context.Context, mod api.Module, stack []uint64, _ Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	fd := api.DecodeI32(stack[0])
	data, ok := readGuestBytes(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeBytes(len(data)) != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	conn, ok := caller.Conns.Get(fd)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	n, err := conn.Write(data)
	if err != nil {
		stack[0] = api.EncodeI32(netErrorCode(err))
		return
	}
	stack[0] = api.EncodeI32(int32(n))
}

// Recv implements the recv host call: recv(fd, ptr, cap) -> bytes read.
func Recv(ctx context.Context, mod api.Module, stack []uint64, _ Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if caller.Meter.ChargeHostCall() != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}

	fd := api.DecodeI32(stack[0])
	bufPtr := api.DecodeU32(stack[1])
	bufCap := api.DecodeU32(stack[2])

	conn, ok := caller.Conns.Get(fd)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	buf := make([]byte, bufCap)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		stack[0] = api.EncodeI32(netErrorCode(err))
		return
	}
	if caller.Meter.ChargeBytes(n) != nil {
		stack[0] = api.EncodeI32(CodeResourceExhausted)
		return
	}
	written, ok := writeGuestBytes(mod, bufPtr, bufCap, buf[:n])
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	stack[0] = api.EncodeI32(written)
}

// Close implements the close host call: close(fd) -> 0 or error code.
func Close(ctx context.Context, _ api.Module, stack []uint64, _ Hooks) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	fd := api.DecodeI32(stack[0])
	if err := caller.Conns.Close(fd); err != nil {
		stack[0] = api.EncodeI32(CodeErr)
		return
	}
	stack[0] = api.EncodeI32(0)
}

func netErrorCode(err error) int32 {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeTimeout
	}
	return CodeErr
}

package hostfuncs

import (
	"github.com/tetratelabs/wazero/api"
)

// readGuestBytes copies a byte range out of the sandbox's linear
// memory. The copy is required: the underlying view is invalidated by
// any guest allocation.
func readGuestBytes(mod api.Module, ptr, length uint32) ([]byte, bool) {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, data)
	return out, true
}

// readGuestString reads a string argument from the sandbox.
func readGuestString(mod api.Module, ptr, length uint32) (string, bool) {
	data, ok := readGuestBytes(mod, ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

// writeGuestBytes copies data into the sandbox at ptr, bounded by cap.
// It returns the number of bytes written, or false when the target
// range is out of bounds or too small.
func writeGuestBytes(mod api.Module, ptr, capacity uint32, data []byte) (int32, bool) {
	if uint32(len(data)) > capacity {
		return 0, false
	}
	if !mod.Memory().Write(ptr, data) {
		return 0, false
	}
	return int32(len(data)), true
}

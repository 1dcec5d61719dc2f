package isolation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/caplet-dev/caplet/internal/isolation/hostfuncs"
	"github.com/caplet-dev/caplet/internal/values"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// abiExports are module exports that belong to the ABI rather than the
// plugin's callable surface.
var abiExports = map[string]struct{}{
	"alloc":       {},
	"dealloc":     {},
	"_initialize": {},
	"_start":      {},
}

// Instance is one sandboxed execution context: an instantiated module,
// its meter, and its connection table. A single instance serves one
// call at a time; its state is accessed under the instance mutex.
type Instance struct {
	plugin values.PluginID
	module api.Module
	limits Limits
	meter  *Meter
	conns  *hostfuncs.ConnTable

	mu     sync.Mutex
	closed bool
}

// Plugin returns the owning plugin's ID.
func (i *Instance) Plugin() values.PluginID { return i.plugin }

// Call invokes an exported guest function with the byte-buffer ABI:
// the host allocates a guest buffer via alloc, writes params, invokes
// function(ptr, len), unpacks the returned (ptr, len) pair, reads the
// result out of sandbox memory, and frees both buffers.
func (i *Instance) Call(ctx context.Context, function string, params []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, &TrapError{Detail: "instance is closed"}
	}

	// Fuel exactly zero on entry fails before any guest instruction.
	if i.meter.Remaining() == 0 {
		return nil, &OutOfFuelError{}
	}
	if err := i.meter.ChargeEntry(); err != nil {
		return nil, err
	}

	fn := i.module.ExportedFunction(function)
	if fn == nil {
		return nil, &FunctionNotFoundError{Function: function}
	}

	ctx = hostfuncs.WithCaller(ctx, hostfuncs.Caller{
		Plugin: i.plugin,
		Meter:  i.meter,
		Conns:  i.conns,
	})
	ctx, cancel := context.WithTimeout(ctx, i.limits.CallTimeout)
	defer cancel()

	start := time.Now()

	ptr, err := i.writeGuest(ctx, params)
	if err != nil {
		return nil, err
	}
	defer i.freeGuest(ctx, ptr, uint32(len(params)))

	results, err := fn.Call(ctx, uint64(ptr), uint64(len(params)))
	elapsed := time.Since(start)
	i.meter.RecordCall(elapsed)
	if mem := i.module.Memory(); mem != nil {
		i.meter.RecordMemory(uint64(mem.Size()))
	}
	if err != nil {
		return nil, i.callError(ctx, err, elapsed)
	}
	if len(results) == 0 {
		return nil, &TrapError{Detail: function + " returned no results"}
	}

	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed & 0xFFFFFFFF)
	if outPtr == 0 || outLen == 0 {
		return nil, nil
	}
	defer i.freeGuest(ctx, outPtr, outLen)

	if err := i.meter.ChargeBytes(int(outLen)); err != nil {
		return nil, err
	}
	data, ok := i.module.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, &MemoryAccessError{Offset: outPtr, Length: outLen}
	}
	out := make([]byte, outLen)
	copy(out, data)
	return out, nil
}

// callError maps an engine failure onto the taxonomy. A deadline
// expiry traps the module via CloseOnContextDone; it surfaces as a
// timeout, not a trap.
func (i *Instance) callError(ctx context.Context, err error, elapsed time.Duration) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		i.closed = true // the engine closed the module when the deadline hit
		return &TimeoutError{Elapsed: elapsed}
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return &TrapError{Detail: exitErr.Error()}
	}
	return &TrapError{Detail: err.Error()}
}

// ListFunctions returns the plugin's callable exports, excluding the
// ABI entry points.
func (i *Instance) ListFunctions() []string {
	defs := i.module.ExportedFunctionDefinitions()
	out := make([]string, 0, len(defs))
	for name := range defs {
		if _, abi := abiExports[name]; abi {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Usage returns the instance's resource counters.
func (i *Instance) Usage() Usage { return i.meter.Usage() }

// Close drops the instance, closing its connections and module.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.conns.CloseAll()
	return i.module.Close(ctx)
}

func (i *Instance) writeGuest(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if err := i.meter.ChargeBytes(len(data)); err != nil {
		return 0, err
	}
	allocFn := i.module.ExportedFunction("alloc")
	if allocFn == nil {
		return 0, &TrapError{Detail: "plugin does not export alloc"}
	}
	results, err := allocFn.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0, &TrapError{Detail: "alloc failed"}
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, &TrapError{Detail: "alloc returned null"}
	}
	if !i.module.Memory().Write(ptr, data) {
		return 0, &MemoryAccessError{Offset: ptr, Length: uint32(len(data))}
	}
	return ptr, nil
}

// freeGuest releases a guest buffer; best effort, the sandbox owns its
// heap and a leak there is bounded by the instance lifetime.
func (i *Instance) freeGuest(ctx context.Context, ptr, length uint32) {
	if ptr == 0 || i.closed {
		return
	}
	deallocFn := i.module.ExportedFunction("dealloc")
	if deallocFn == nil {
		return
	}
	_, _ = deallocFn.Call(ctx, uint64(ptr), uint64(length))
}

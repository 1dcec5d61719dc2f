package isolation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caplet-dev/caplet/internal/isolation/hostfuncs"
	"github.com/caplet-dev/caplet/internal/values"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// globalCache speeds up compilation across hosts within a single
// process. Long-running processes should call CloseGlobalCache during
// graceful shutdown; CLI tools can leave cleanup to the OS.
var globalCache = wazero.NewCompilationCache()

// CloseGlobalCache releases resources held by the global compilation cache.
func CloseGlobalCache(ctx context.Context) error {
	return globalCache.Close(ctx)
}

// Limits bounds one instance's execution.
type Limits struct {
	// Fuel is the per-instance fuel budget; 0 = unlimited.
	Fuel uint64

	// CallTimeout is the wall-clock budget per call.
	CallTimeout time.Duration
}

// Config configures the isolation host.
type Config struct {
	// MemoryLimitMB bounds each sandbox's linear memory.
	// 0 = default (256MB), -1 = unlimited.
	MemoryLimitMB int

	// DefaultLimits applies when a plugin declares none.
	DefaultLimits Limits
}

// DefaultCallTimeout applies when neither the manifest nor the host
// config set one.
const DefaultCallTimeout = 30 * time.Second

// ABIVersion identifies the sandbox ABI contract: alloc/dealloc byte
// buffers, the (ptr,len)->(ptr_out,len_out) packed calling convention,
// and the negative-i32 host-call error codes. Bump it when any of
// those change in a way that breaks existing plugin binaries.
const ABIVersion = 1

// Host owns the sandbox engine: one compiled module per loaded plugin,
// the host-call linker, and instance creation. Modules are compiled at
// load time and never instantiated eagerly.
type Host struct {
	runtime wazero.Runtime
	cfg     Config

	mu      sync.RWMutex
	modules map[values.PluginID]wazero.CompiledModule
}

// NewHost creates an isolation host. The hooks route host calls to the
// capability manager and plugin manager.
func NewHost(ctx context.Context, cfg Config, hooks hostfuncs.Hooks) (*Host, error) {
	switch {
	case cfg.MemoryLimitMB == 0:
		cfg.MemoryLimitMB = 256
	case cfg.MemoryLimitMB == -1:
		slog.Warn("sandbox memory limit disabled")
	case cfg.MemoryLimitMB > 0:
		if cfg.MemoryLimitMB < 64 {
			slog.Warn("sandbox memory limit very low, plugins may fail", "mb", cfg.MemoryLimitMB)
		}
	default:
		return nil, fmt.Errorf("invalid sandbox memory limit: %d (must be >= -1)", cfg.MemoryLimitMB)
	}
	if cfg.DefaultLimits.CallTimeout <= 0 {
		cfg.DefaultLimits.CallTimeout = DefaultCallTimeout
	}

	// CloseOnContextDone makes in-flight execution trap when a call's
	// deadline expires; it is the engine-level stand-in for epochs.
	rtCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithCloseOnContextDone(true)
	if cfg.MemoryLimitMB > 0 {
		// 1 page = 64KB, so 1 MB = 16 pages.
		rtCfg = rtCfg.WithMemoryLimitPages(uint32(cfg.MemoryLimitMB * 16))
	}

	r := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	if err := hostfuncs.Register(ctx, r, hooks); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	return &Host{
		runtime: r,
		cfg:     cfg,
		modules: make(map[values.PluginID]wazero.CompiledModule),
	}, nil
}

// Load compiles and stashes the plugin's module. Nothing is
// instantiated until Instantiate is called.
func (h *Host) Load(ctx context.Context, plugin values.PluginID, bytecode []byte) error {
	h.mu.RLock()
	_, exists := h.modules[plugin]
	h.mu.RUnlock()
	if exists {
		return nil
	}

	compiled, err := h.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		return &CompilationError{Plugin: plugin.String(), Cause: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.modules[plugin]; exists {
		_ = compiled.Close(ctx)
		return nil
	}
	h.modules[plugin] = compiled
	slog.Debug("plugin module compiled", "plugin", plugin)
	return nil
}

// Instantiate creates a fresh execution context for the plugin.
func (h *Host) Instantiate(ctx context.Context, plugin values.PluginID, limits Limits) (*Instance, error) {
	h.mu.RLock()
	compiled, ok := h.modules[plugin]
	h.mu.RUnlock()
	if !ok {
		return nil, &InstantiationError{Plugin: plugin.String(), Cause: fmt.Errorf("module not loaded")}
	}

	if limits.CallTimeout <= 0 {
		limits.CallTimeout = h.cfg.DefaultLimits.CallTimeout
	}
	if limits.Fuel == 0 {
		limits.Fuel = h.cfg.DefaultLimits.Fuel
	}

	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: many instances of one module may coexist
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()

	mod, err := h.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, &InstantiationError{Plugin: plugin.String(), Cause: err}
	}

	// _initialize must run before anything else for WASI reactors.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, &InstantiationError{Plugin: plugin.String(), Cause: err}
		}
	}

	return &Instance{
		plugin: plugin,
		module: mod,
		limits: limits,
		meter:  NewMeter(limits.Fuel),
		conns:  hostfuncs.NewConnTable(),
	}, nil
}

// Unload drops the plugin's compiled module.
func (h *Host) Unload(ctx context.Context, plugin values.PluginID) error {
	h.mu.Lock()
	compiled, ok := h.modules[plugin]
	delete(h.modules, plugin)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return compiled.Close(ctx)
}

// Close shuts the engine down, closing every module and instance.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

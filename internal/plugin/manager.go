package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/metrics"
	"github.com/caplet-dev/caplet/internal/policy"
	"github.com/caplet-dev/caplet/internal/pool"
	"github.com/caplet-dev/caplet/internal/values"
)

// Sandbox is the slice of the isolation host the manager needs.
// *isolation.Host satisfies it through HostSandbox; tests use fakes.
type Sandbox interface {
	Load(ctx context.Context, plugin values.PluginID, bytecode []byte) error
	Instantiate(ctx context.Context, plugin values.PluginID, limits isolation.Limits) (pool.Instance, error)
	Unload(ctx context.Context, plugin values.PluginID) error
}

// HostSandbox adapts *isolation.Host to the Sandbox interface.
type HostSandbox struct {
	Host *isolation.Host
}

// Load implements Sandbox.
func (h HostSandbox) Load(ctx context.Context, plugin values.PluginID, bytecode []byte) error {
	return h.Host.Load(ctx, plugin, bytecode)
}

// Instantiate implements Sandbox.
func (h HostSandbox) Instantiate(ctx context.Context, plugin values.PluginID, limits isolation.Limits) (pool.Instance, error) {
	instance, err := h.Host.Instantiate(ctx, plugin, limits)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// Unload implements Sandbox.
func (h HostSandbox) Unload(ctx context.Context, plugin values.PluginID) error {
	return h.Host.Unload(ctx, plugin)
}

// Config tunes the manager.
type Config struct {
	// Pool is the default per-plugin pool configuration.
	Pool pool.Config

	// MailboxCapacity bounds per-recipient message queues.
	MailboxCapacity int
}

// Manager orchestrates the isolation host under capability and policy
// rules: it loads plugins, drives lifecycle transitions, and routes
// every call through a pooled sandbox instance.
type Manager struct {
	registry *Registry
	caps     *capability.Manager
	sandbox  Sandbox
	router   *MessageRouter
	metrics  *metrics.Metrics
	cfg      Config

	mu    sync.RWMutex
	pools map[values.PluginID]*pool.Pool
}

// NewManager creates a plugin manager.
func NewManager(registry *Registry, caps *capability.Manager, sandbox Sandbox, cfg Config, m *metrics.Metrics) *Manager {
	if cfg.Pool.MaxInstances == 0 {
		cfg.Pool = pool.DefaultConfig()
	}
	return &Manager{
		registry: registry,
		caps:     caps,
		sandbox:  sandbox,
		router:   NewMessageRouter(cfg.MailboxCapacity),
		metrics:  m,
		cfg:      cfg,
		pools:    make(map[values.PluginID]*pool.Pool),
	}
}

// Router exposes the message router (it implements hostfuncs.Messenger).
func (m *Manager) Router() *MessageRouter { return m.router }

// LoadPlugin registers metadata, compiles the module, grants the
// declared capabilities subject to policy, and readies the instance
// pool. On any failure the plugin is marked Failed and torn down.
func (m *Manager) LoadPlugin(ctx context.Context, manifest *Manifest, bytecode []byte) (values.PluginID, error) {
	if err := manifest.Validate(); err != nil {
		return values.PluginID{}, err
	}

	id := values.NewPluginID()
	meta := Metadata{
		ID:                   id,
		Name:                 manifest.Name,
		Version:              manifest.Version,
		Description:          manifest.Description,
		SourceLocation:       manifest.Source.Location(),
		DeclaredCapabilities: manifest.RequestedCapabilities,
		ResourceLimits:       manifest.ResourceLimits,
		State:                values.StateCreated,
	}
	if err := m.registry.Register(meta); err != nil {
		return values.PluginID{}, err
	}

	slog.Info("loading plugin", "plugin", manifest.Name, "id", id, "version", manifest.Version)

	if err := m.sandbox.Load(ctx, id, bytecode); err != nil {
		m.failAndForget(ctx, id)
		return values.PluginID{}, err
	}

	for _, decl := range manifest.RequestedCapabilities {
		cap, err := decl.ToCapability()
		if err != nil {
			m.failAndForget(ctx, id)
			return values.PluginID{}, &ManifestError{Detail: "invalid capability declaration", Cause: err}
		}
		if _, err := m.caps.Grant(id, cap); err != nil {
			slog.Warn("declared capability refused", "plugin", manifest.Name, "kind", decl.Kind, "error", err)
			m.failAndForget(ctx, id)
			return values.PluginID{}, err
		}
	}

	limits := manifest.ResourceLimits.IsolationLimits()
	p, err := pool.New(ctx, id, func(ctx context.Context) (pool.Instance, error) {
		return m.sandbox.Instantiate(ctx, id, limits)
	}, m.cfg.Pool, m.metrics)
	if err != nil {
		m.failAndForget(ctx, id)
		return values.PluginID{}, err
	}

	m.mu.Lock()
	m.pools[id] = p
	m.mu.Unlock()

	if err := m.registry.Transition(id, values.StateReady); err != nil {
		// Unreachable from Created unless racing an unload.
		return values.PluginID{}, err
	}
	slog.Info("plugin ready", "plugin", manifest.Name, "id", id)
	return id, nil
}

// Start transitions Ready -> Running.
func (m *Manager) Start(id values.PluginID) error {
	return m.registry.Transition(id, values.StateRunning)
}

// Pause transitions Running -> Paused. In-flight calls complete.
func (m *Manager) Pause(id values.PluginID) error {
	return m.registry.Transition(id, values.StatePaused)
}

// Resume transitions Paused -> Running.
func (m *Manager) Resume(id values.PluginID) error {
	return m.registry.Transition(id, values.StateRunning)
}

// Stop transitions to Terminated and shuts down the pool.
func (m *Manager) Stop(ctx context.Context, id values.PluginID) error {
	if err := m.registry.Transition(id, values.StateTerminated); err != nil {
		return err
	}
	m.shutdownPool(ctx, id)
	return nil
}

// CallFunction invokes a function on a Running plugin through a pooled
// instance. A wall-clock timeout leaves the plugin Running; the dead
// instance is discarded and subsequent calls get a fresh one.
func (m *Manager) CallFunction(ctx context.Context, id values.PluginID, function string, params []byte) ([]byte, error) {
	state, err := m.registry.State(id)
	if err != nil {
		return nil, err
	}
	switch state {
	case values.StateRunning:
	case values.StatePaused:
		return nil, &PausedError{Plugin: id}
	default:
		return nil, &InvalidStateError{Current: state, Expected: values.StateRunning}
	}

	m.mu.RLock()
	p, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	lease, err := p.Acquire(ctx)
	if err != nil {
		m.metrics.PluginCallFinished("pool_error")
		return nil, err
	}

	result, err := lease.Instance().Call(ctx, function, params)
	usage := lease.Instance().Usage()
	if err != nil {
		var timeout *isolation.TimeoutError
		var trap *isolation.TrapError
		if errors.As(err, &timeout) || errors.As(err, &trap) {
			// The instance is unusable; drop it rather than poison the pool.
			lease.Discard(ctx)
		} else {
			lease.Release(ctx)
		}
		m.metrics.PluginCallFinished("error")
		m.metrics.FuelCharged(usage.FuelConsumed)
		return nil, err
	}

	if err := m.checkResourceLimits(id, usage); err != nil {
		// The instance itself is fine; only the accounted usage tripped
		// a limit, so the call's result is discarded but the instance
		// returns to the pool.
		lease.Release(ctx)
		m.metrics.PluginCallFinished("resource_exceeded")
		m.metrics.FuelCharged(usage.FuelConsumed)
		return nil, err
	}

	lease.Release(ctx)
	m.metrics.PluginCallFinished("ok")
	m.metrics.FuelCharged(usage.FuelConsumed)
	return result, nil
}

// checkResourceLimits evaluates an instance's cumulative usage against
// policy's ResourceLimit rules, one resource type at a time. The first
// exceeded rule wins.
func (m *Manager) checkResourceLimits(id values.PluginID, usage isolation.Usage) error {
	checks := []struct {
		resource policy.ResourceType
		amount   uint64
	}{
		{policy.ResourceMemory, usage.MemoryBytes},
		{policy.ResourceCPU, usage.CPUMicros},
		{policy.ResourceFuel, usage.FuelConsumed},
	}
	for _, c := range checks {
		if err := m.caps.CheckResourceUsage(id, c.resource, c.amount); err != nil {
			return err
		}
	}
	return nil
}

// CallByName resolves a plugin name and calls it.
func (m *Manager) CallByName(ctx context.Context, name, function string, params []byte) ([]byte, error) {
	meta, err := m.registry.GetByName(name)
	if err != nil {
		return nil, err
	}
	return m.CallFunction(ctx, meta.ID, function, params)
}

// CallFromPlugin implements hostfuncs.Invoker: a sandboxed plugin
// calling out to another plugin. The capability check already ran at
// the host-call boundary.
func (m *Manager) CallFromPlugin(ctx context.Context, caller values.PluginID, target, function string, params []byte) ([]byte, error) {
	meta, err := m.registry.GetByName(target)
	if err != nil {
		return nil, err
	}
	if meta.ID.Equals(caller) {
		return nil, &ExecutionError{Plugin: caller, Detail: "plugin cannot call itself"}
	}
	return m.CallFunction(ctx, meta.ID, function, params)
}

// ListFunctions lists a plugin's callable exports.
func (m *Manager) ListFunctions(ctx context.Context, id values.PluginID) ([]string, error) {
	m.mu.RLock()
	p, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	lease, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)
	return lease.Instance().ListFunctions(), nil
}

// ListPlugins returns metadata for every registered plugin.
func (m *Manager) ListPlugins() []Metadata {
	return m.registry.List()
}

// State returns the plugin's lifecycle state.
func (m *Manager) State(id values.PluginID) (values.PluginState, error) {
	return m.registry.State(id)
}

// ResourceUsage aggregates counters across the plugin's warm instances.
func (m *Manager) ResourceUsage(id values.PluginID) (isolation.Usage, error) {
	if _, err := m.registry.Get(id); err != nil {
		return isolation.Usage{}, err
	}
	m.mu.RLock()
	p, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return isolation.Usage{}, nil
	}
	return p.Usage(), nil
}

// Unload tears the plugin down: pool shutdown, capability clear, module
// unload, and registry removal. The plugin's name becomes free again.
func (m *Manager) Unload(ctx context.Context, id values.PluginID) error {
	meta, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if !meta.State.IsTerminal() {
		if err := m.registry.Transition(id, values.StateTerminated); err != nil {
			return err
		}
	}

	m.shutdownPool(ctx, id)
	m.caps.Clear(id)
	m.router.Forget(meta.Name)
	if err := m.sandbox.Unload(ctx, id); err != nil {
		slog.Warn("failed to unload module", "plugin", meta.Name, "error", err)
	}
	m.registry.Remove(id)
	slog.Info("plugin unloaded", "plugin", meta.Name, "id", id)
	return nil
}

// MarkFailed forces the plugin into the Failed state.
func (m *Manager) MarkFailed(ctx context.Context, id values.PluginID) {
	_ = m.registry.Transition(id, values.StateFailed)
	m.shutdownPool(ctx, id)
}

// Shutdown tears down every pool. Called by the shutdown coordinator.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[values.PluginID]*pool.Pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.Shutdown(ctx)
	}
}

func (m *Manager) shutdownPool(ctx context.Context, id values.PluginID) {
	m.mu.Lock()
	p, ok := m.pools[id]
	delete(m.pools, id)
	m.mu.Unlock()
	if ok {
		p.Shutdown(ctx)
	}
}

func (m *Manager) failAndForget(ctx context.Context, id values.PluginID) {
	_ = m.registry.Transition(id, values.StateFailed)
	m.shutdownPool(ctx, id)
	m.caps.Clear(id)
	_ = m.sandbox.Unload(ctx, id)
	m.registry.Remove(id)
}

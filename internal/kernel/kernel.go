// Package kernel is the composition root: it wires the capability
// engine, policy overlay, isolation host, plugin manager, workflow
// executor, and shutdown coordinator into one runtime.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caplet-dev/caplet/internal/audit"
	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/config"
	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/isolation/hostfuncs"
	"github.com/caplet-dev/caplet/internal/metrics"
	"github.com/caplet-dev/caplet/internal/plugin"
	"github.com/caplet-dev/caplet/internal/policy"
	"github.com/caplet-dev/caplet/internal/pool"
	"github.com/caplet-dev/caplet/internal/shutdown"
	"github.com/caplet-dev/caplet/internal/values"
	"github.com/caplet-dev/caplet/internal/workflow"
)

// Kernel owns every core subsystem. External front-ends (CLIs, UIs)
// wrap its managers; there is no wire protocol in the core.
type Kernel struct {
	Config       *config.Runtime
	Audit        *audit.Log
	Policy       *policy.Engine
	Capabilities *capability.Manager
	Plugins      *plugin.Manager
	Workflows    *workflow.Engine
	Shutdown     *shutdown.Coordinator
	Metrics      *metrics.Metrics

	host *isolation.Host
}

// lateBound breaks the host <-> plugin-manager construction cycle: the
// host's hooks are built before the manager exists and resolved on
// first use.
type lateBound struct {
	manager *plugin.Manager
}

func (l *lateBound) Send(from values.PluginID, recipient, topic string, payload []byte) error {
	if l.manager == nil {
		return fmt.Errorf("plugin manager not ready")
	}
	return l.manager.Router().Send(from, recipient, topic, payload)
}

func (l *lateBound) CallFromPlugin(ctx context.Context, caller values.PluginID, target, function string, params []byte) ([]byte, error) {
	if l.manager == nil {
		return nil, fmt.Errorf("plugin manager not ready")
	}
	return l.manager.CallFromPlugin(ctx, caller, target, function, params)
}

// New wires a kernel from configuration. Pass a Prometheus registerer
// to enable metrics, or nil to disable them.
func New(ctx context.Context, cfg *config.Runtime, reg prometheus.Registerer) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	auditLog := audit.NewLog(cfg.AuditBufferSize)
	policyEngine := policy.NewEngine(policy.NewStore())
	capManager := capability.NewManager(capability.NewStore(), policyEngine, auditLog, m)

	late := &lateBound{}
	host, err := isolation.NewHost(ctx, isolation.Config{
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		DefaultLimits: isolation.Limits{
			Fuel:        cfg.Sandbox.DefaultFuel,
			CallTimeout: time.Duration(cfg.Sandbox.CallTimeoutMS) * time.Millisecond,
		},
	}, hostfuncs.Hooks{
		Capabilities: capManager,
		Messenger:    late,
		Invoker:      late,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create isolation host: %w", err)
	}

	pluginManager := plugin.NewManager(plugin.NewRegistry(), capManager, plugin.HostSandbox{Host: host}, plugin.Config{
		Pool: pool.Config{
			MinInstances: cfg.Pool.MinInstances,
			MaxInstances: cfg.Pool.MaxInstances,
			WaitTimeout:  time.Duration(cfg.Pool.WaitTimeoutMS) * time.Millisecond,
			IdleTimeout:  time.Duration(cfg.Pool.IdleTimeoutMS) * time.Millisecond,
		},
		MailboxCapacity: cfg.MailboxCapacity,
	}, m)
	late.manager = pluginManager

	var store workflow.CheckpointStore
	if cfg.Workflow.CheckpointDir != "" {
		store, err = workflow.NewFileCheckpointStore(cfg.Workflow.CheckpointDir)
		if err != nil {
			_ = host.Close(ctx)
			return nil, err
		}
	} else {
		store = workflow.NewMemoryCheckpointStore()
	}

	workflowEngine := workflow.NewEngine(pluginManager, store, workflow.Config{
		MaxConcurrentNodes: cfg.Workflow.MaxConcurrentNodes,
	})

	coordinator := shutdown.NewCoordinator(cfg.ShutdownTimeout())

	k := &Kernel{
		Config:       cfg,
		Audit:        auditLog,
		Policy:       policyEngine,
		Capabilities: capManager,
		Plugins:      pluginManager,
		Workflows:    workflowEngine,
		Shutdown:     coordinator,
		Metrics:      m,
		host:         host,
	}
	k.registerForShutdown()
	return k, nil
}

// registerForShutdown hooks each subsystem into the two-phase stop.
func (k *Kernel) registerForShutdown() {
	pluginHandle := k.Shutdown.Register("plugin-manager")
	go func() {
		<-pluginHandle.WaitForShutdown()
		k.Plugins.Shutdown(context.Background())
		pluginHandle.ShutdownComplete()
	}()

	hostHandle := k.Shutdown.Register("isolation-host")
	go func() {
		<-hostHandle.WaitForShutdown()
		if err := k.host.Close(context.Background()); err != nil {
			slog.Warn("isolation host close failed", "error", err)
		}
		hostHandle.ShutdownComplete()
	}()
}

// Stop runs the coordinated two-phase shutdown.
func (k *Kernel) Stop(ctx context.Context) error {
	return k.Shutdown.RequestShutdown(ctx)
}

// Host exposes the isolation host to front-ends that need direct
// instance control.
func (k *Kernel) Host() *isolation.Host { return k.host }

package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/audit"
	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/policy"
	"github.com/caplet-dev/caplet/internal/pool"
	"github.com/caplet-dev/caplet/internal/values"
)

type fakeInstance struct {
	mu     sync.Mutex
	calls  int
	fail   error
	usage  isolation.Usage
	closed atomic.Bool
}

func (f *fakeInstance) Call(_ context.Context, function string, _ []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		err := f.fail
		f.fail = nil
		return nil, err
	}
	return []byte(`{"echo":"` + function + `"}`), nil
}

func (f *fakeInstance) ListFunctions() []string { return []string{"run", "describe"} }

func (f *fakeInstance) Usage() isolation.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.usage
	u.FunctionCalls = uint64(f.calls)
	return u
}

func (f *fakeInstance) Close(_ context.Context) error {
	f.closed.Store(true)
	return nil
}

type fakeSandbox struct {
	mu        sync.Mutex
	loaded    map[string]bool
	unloaded  map[string]bool
	instances []*fakeInstance
	nextFail  error
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{loaded: make(map[string]bool), unloaded: make(map[string]bool)}
}

func (f *fakeSandbox) Load(_ context.Context, plugin values.PluginID, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded[plugin.String()] = true
	return nil
}

func (f *fakeSandbox) Instantiate(_ context.Context, _ values.PluginID, _ isolation.Limits) (pool.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := &fakeInstance{fail: f.nextFail}
	f.nextFail = nil
	f.instances = append(f.instances, inst)
	return inst, nil
}

func (f *fakeSandbox) Unload(_ context.Context, plugin values.PluginID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded[plugin.String()] = true
	return nil
}

func testManifest(name string) *Manifest {
	return &Manifest{
		Name:    name,
		Version: "1.0.0",
		Source:  Source{Path: name + ".wasm"},
		RequestedCapabilities: []CapabilityDecl{
			{Kind: "file", Paths: []string{"/var/data"}, Read: true},
		},
		ResourceLimits: ResourceLimits{TimeoutMS: 1000},
	}
}

func newTestManager(t *testing.T, rules ...policy.Rule) (*Manager, *fakeSandbox, *capability.Manager) {
	t.Helper()
	policyStore := policy.NewStore()
	for _, rule := range rules {
		policyStore.Add(rule)
	}
	caps := capability.NewManager(capability.NewStore(), policy.NewEngine(policyStore), audit.NewLog(128), nil)
	sandbox := newFakeSandbox()
	manager := NewManager(NewRegistry(), caps, sandbox, Config{
		Pool: pool.Config{MinInstances: 1, MaxInstances: 2, WaitTimeout: 50 * time.Millisecond},
	}, nil)
	return manager, sandbox, caps
}

func Test_Manager_LoadGrantsDeclaredCapabilities(t *testing.T) {
	manager, sandbox, caps := newTestManager(t)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), []byte{0x00, 0x61, 0x73, 0x6d})
	require.NoError(t, err)

	assert.True(t, sandbox.loaded[id.String()])

	state, err := manager.State(id)
	require.NoError(t, err)
	assert.Equal(t, values.StateReady, state)

	require.Len(t, caps.List(id), 1)
	assert.NoError(t, caps.Check(id, capability.FileRequest{Path: "/var/data/f", Read: true}))
}

func Test_Manager_LoadRefusedByPolicy(t *testing.T) {
	rule, err := policy.NewFileRule("deny-var", "deny /var", "^/var", true, true, policy.ActionDeny)
	require.NoError(t, err)
	manager, _, caps := newTestManager(t, rule)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	var denied *capability.PermissionDeniedError
	require.ErrorAs(t, err, &denied)

	// Nothing is left behind: no metadata, no capabilities.
	assert.Empty(t, manager.ListPlugins())
	assert.Empty(t, caps.List(id))

	// The name is free for a corrected manifest.
	m := testManifest("scanner")
	m.RequestedCapabilities = nil
	_, err = manager.LoadPlugin(ctx, m, nil)
	assert.NoError(t, err)
}

func Test_Manager_DuplicateName(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	require.NoError(t, err)

	_, err = manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	var already *AlreadyLoadedError
	assert.ErrorAs(t, err, &already)
}

func Test_Manager_CallLifecycle(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	require.NoError(t, err)

	// Calls require Running.
	_, err = manager.CallFunction(ctx, id, "run", nil)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, manager.Start(id))
	out, err := manager.CallFunction(ctx, id, "run", []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"run"}`, string(out))

	require.NoError(t, manager.Pause(id))
	_, err = manager.CallFunction(ctx, id, "run", nil)
	var paused *PausedError
	require.ErrorAs(t, err, &paused)

	require.NoError(t, manager.Resume(id))
	_, err = manager.CallFunction(ctx, id, "run", nil)
	assert.NoError(t, err)
}

func Test_Manager_TimeoutLeavesPluginRunning(t *testing.T) {
	manager, sandbox, _ := newTestManager(t)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(id))

	// Arm the pre-warmed instance to time out once.
	sandbox.instances[0].fail = &isolation.TimeoutError{Elapsed: 50 * time.Millisecond}

	_, err = manager.CallFunction(ctx, id, "run", nil)
	var timeout *isolation.TimeoutError
	require.ErrorAs(t, err, &timeout)

	// The timed-out instance was discarded, not pooled.
	assert.True(t, sandbox.instances[0].closed.Load())

	// The plugin stays Running and the next call succeeds on a fresh
	// instance.
	state, err := manager.State(id)
	require.NoError(t, err)
	assert.Equal(t, values.StateRunning, state)

	_, err = manager.CallFunction(ctx, id, "run", nil)
	assert.NoError(t, err)
}

func Test_Manager_CallFromPlugin(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	callerID, err := manager.LoadPlugin(ctx, testManifest("caller"), nil)
	require.NoError(t, err)
	targetID, err := manager.LoadPlugin(ctx, testManifest("target"), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(callerID))
	require.NoError(t, manager.Start(targetID))

	out, err := manager.CallFromPlugin(ctx, callerID, "target", "run", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = manager.CallFromPlugin(ctx, callerID, "caller", "run", nil)
	var execErr *ExecutionError
	assert.ErrorAs(t, err, &execErr)

	_, err = manager.CallFromPlugin(ctx, callerID, "missing", "run", nil)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func Test_Manager_UnloadTearsDown(t *testing.T) {
	manager, sandbox, caps := newTestManager(t)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(id))

	require.NoError(t, manager.Unload(ctx, id))

	assert.True(t, sandbox.unloaded[id.String()])
	assert.Empty(t, caps.List(id))
	assert.Empty(t, manager.ListPlugins())

	// Pooled instances were closed by the pool shutdown.
	for _, inst := range sandbox.instances {
		assert.True(t, inst.closed.Load())
	}
}

func Test_Manager_MessageRouter(t *testing.T) {
	manager, _, _ := newTestManager(t)
	from := values.NewPluginID()

	require.NoError(t, manager.Router().Send(from, "collector", "metrics", []byte("42")))
	require.NoError(t, manager.Router().Send(from, "collector", "metrics", []byte("43")))

	assert.Equal(t, 2, manager.Router().Pending("collector"))
	messages := manager.Router().Drain("collector", 1)
	require.Len(t, messages, 1)
	assert.Equal(t, []byte("42"), messages[0].Payload)
	assert.Equal(t, 1, manager.Router().Pending("collector"))
}

func Test_Manager_CallFunction_ResourceLimitExceeded(t *testing.T) {
	rule := policy.NewResourceLimitRule("fuel-cap", "bound fuel", policy.ResourceFuel, 100, policy.ActionDeny)
	manager, sandbox, _ := newTestManager(t, rule)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(id))

	sandbox.instances[0].usage = isolation.Usage{FuelConsumed: 150}

	_, err = manager.CallFunction(ctx, id, "run", nil)
	var denied *capability.PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	var exceeded *policy.ResourceLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, policy.ResourceFuel, exceeded.Resource)

	// Usage accounting tripped the limit, but the instance itself is
	// healthy and returns to the pool.
	assert.False(t, sandbox.instances[0].closed.Load())

	state, err := manager.State(id)
	require.NoError(t, err)
	assert.Equal(t, values.StateRunning, state)
}

func Test_Manager_ResourceUsage(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	id, err := manager.LoadPlugin(ctx, testManifest("scanner"), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Start(id))

	_, err = manager.CallFunction(ctx, id, "run", nil)
	require.NoError(t, err)

	usage, err := manager.ResourceUsage(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), usage.FunctionCalls)
}

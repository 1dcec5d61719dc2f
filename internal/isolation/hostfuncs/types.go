// Package hostfuncs provides the host functions exposed to sandboxed
// plugins under the module name "env". Every function resolves the
// calling plugin from context, asks the capability manager for
// permission, and only then performs the underlying effect.
package hostfuncs

import (
	"context"
	"net"
	"sync"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/values"
)

// Checker decides whether a plugin may perform an access.
// Implemented by the capability manager.
type Checker interface {
	Check(plugin values.PluginID, req capability.AccessRequest) error
}

// Messenger delivers inter-plugin messages. Implemented by the plugin
// manager's message router.
type Messenger interface {
	Send(from values.PluginID, recipient, topic string, payload []byte) error
}

// Invoker performs plugin-to-plugin calls. Implemented by the plugin
// manager.
type Invoker interface {
	CallFromPlugin(ctx context.Context, caller values.PluginID, plugin, function string, params []byte) ([]byte, error)
}

// FuelMeter charges fuel for host-mediated work. Implemented by the
// isolation meter.
type FuelMeter interface {
	ChargeHostCall() error
	ChargeBytes(n int) error
}

// Hooks bundles the collaborators host functions dispatch to.
type Hooks struct {
	Capabilities Checker
	Messenger    Messenger
	Invoker      Invoker
}

// Caller is the per-call state host functions need: who is calling,
// their fuel meter, and their connection table.
type Caller struct {
	Plugin values.PluginID
	Meter  FuelMeter
	Conns  *ConnTable
}

type contextKey struct{ name string }

var callerKey = &contextKey{name: "caller"}

// WithCaller attaches the calling plugin's state to the context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext retrieves the calling plugin's state.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}

// ConnTable maps sandbox file descriptors to host connections. One
// table exists per instance; descriptors are meaningless outside it.
type ConnTable struct {
	mu    sync.Mutex
	conns map[int32]net.Conn
	next  int32
}

// NewConnTable creates an empty connection table.
func NewConnTable() *ConnTable {
	return &ConnTable{conns: make(map[int32]net.Conn), next: 4}
}

// Open registers a connection and returns its descriptor.
func (t *ConnTable) Open(conn net.Conn) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.conns[fd] = conn
	return fd
}

// Get returns the connection for a descriptor.
func (t *ConnTable) Get(fd int32) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[fd]
	return conn, ok
}

// Close closes and forgets a descriptor.
func (t *ConnTable) Close(fd int32) error {
	t.mu.Lock()
	conn, ok := t.conns[fd]
	delete(t.conns, fd)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// CloseAll closes every open connection. Called when the instance is
// dropped.
func (t *ConnTable) CloseAll() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[int32]net.Conn)
	t.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

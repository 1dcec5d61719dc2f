// Package shutdown implements two-phase graceful stop: a broadcast
// stop signal, then a barrier on per-component completion with a hard
// timeout.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// TimeoutError indicates not every component completed before the
// deadline. Incomplete components are listed by name.
type TimeoutError struct {
	Incomplete []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shutdown timed out; incomplete components: %v", e.Incomplete)
}

// ComponentFailedError indicates the signalling machinery itself broke.
type ComponentFailedError struct {
	Detail string
}

func (e *ComponentFailedError) Error() string {
	return "component shutdown failed: " + e.Detail
}

// AlreadyInProgressError indicates a second concurrent shutdown request.
type AlreadyInProgressError struct{}

func (e *AlreadyInProgressError) Error() string {
	return "shutdown already in progress"
}

// Handle is what a registered component holds: a stop signal to wait
// on and a completion callback.
type Handle struct {
	id   string
	name string
	stop <-chan struct{}

	once        sync.Once
	coordinator *Coordinator
}

// ID returns the handle's unique ID.
func (h *Handle) ID() string { return h.id }

// Name returns the component name given at registration.
func (h *Handle) Name() string { return h.name }

// WaitForShutdown returns a channel closed when shutdown is requested
// (Phase A). Components must stop accepting new work when it fires.
func (h *Handle) WaitForShutdown() <-chan struct{} { return h.stop }

// ShutdownComplete signals that this component finished stopping.
// Idempotent.
func (h *Handle) ShutdownComplete() {
	h.once.Do(func() {
		h.coordinator.complete(h.id)
	})
}

// Coordinator tracks registered components and runs the two-phase stop.
type Coordinator struct {
	timeout time.Duration

	mu         sync.Mutex
	stop       chan struct{}
	sem        *semaphore.Weighted
	registered map[string]string // handle id -> component name
	completed  map[string]bool
	inProgress bool
}

// semCapacity bounds how many components can register. Each
// registration holds one permit until its component completes.
const semCapacity = 1 << 20

// NewCoordinator creates a coordinator with the given Phase B timeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		stop:       make(chan struct{}),
		sem:        semaphore.NewWeighted(semCapacity),
		registered: make(map[string]string),
		completed:  make(map[string]bool),
	}
}

// Register adds a component and returns its handle. Components must
// register before shutdown is requested.
func (c *Coordinator) Register(name string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	c.registered[id] = name

	// The permit is released by ShutdownComplete; Phase B re-acquires
	// the full capacity, which only succeeds once every component has
	// released.
	if !c.sem.TryAcquire(1) {
		// Unreachable below semCapacity registrations.
		slog.Error("shutdown coordinator out of permits", "component", name)
	}

	slog.Debug("component registered for shutdown", "component", name, "id", id)
	return &Handle{id: id, name: name, stop: c.stop, coordinator: c}
}

func (c *Coordinator) complete(id string) {
	c.mu.Lock()
	name := c.registered[id]
	if c.completed[id] {
		c.mu.Unlock()
		return
	}
	c.completed[id] = true
	c.mu.Unlock()

	c.sem.Release(1)
	slog.Debug("component shutdown complete", "component", name, "id", id)
}

// RequestShutdown runs both phases: broadcast the stop signal, then
// wait until every registered component has completed or the timeout
// elapses. A second invocation fails with AlreadyInProgressError.
func (c *Coordinator) RequestShutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return &AlreadyInProgressError{}
	}
	c.inProgress = true
	c.mu.Unlock()

	slog.Info("shutdown phase A: signalling components to stop accepting work")
	close(c.stop)

	slog.Info("shutdown phase B: waiting for components", "timeout", c.timeout)
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(waitCtx, semCapacity); err != nil {
		incomplete := c.incompleteNames()
		slog.Error("shutdown timed out", "incomplete", incomplete)
		return &TimeoutError{Incomplete: incomplete}
	}
	c.sem.Release(semCapacity)

	slog.Info("all components shut down")
	return nil
}

// incompleteNames lists components that have not called
// ShutdownComplete.
func (c *Coordinator) incompleteNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for id, name := range c.registered {
		if !c.completed[id] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

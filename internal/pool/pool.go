package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/metrics"
	"github.com/caplet-dev/caplet/internal/values"
)

// Instance is what the pool manages. isolation.Instance implements it;
// tests substitute fakes.
type Instance interface {
	Call(ctx context.Context, function string, params []byte) ([]byte, error)
	ListFunctions() []string
	Usage() isolation.Usage
	Close(ctx context.Context) error
}

// Factory creates a fresh instance for the pool's plugin.
type Factory func(ctx context.Context) (Instance, error)

// Config bounds a pool.
type Config struct {
	// MinInstances is the floor the idle sweeper never goes below.
	MinInstances int

	// MaxInstances is the hard cap on concurrent instances.
	MaxInstances int

	// WaitTimeout bounds how long Acquire parks when the pool is at max.
	WaitTimeout time.Duration

	// IdleTimeout is how long an instance may sit unused before the
	// sweeper drops it.
	IdleTimeout time.Duration
}

// DefaultConfig mirrors the runtime defaults.
func DefaultConfig() Config {
	return Config{
		MinInstances: 1,
		MaxInstances: 10,
		WaitTimeout:  100 * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}
}

type pooled struct {
	instance Instance
	lastUsed time.Time
}

// Pool is a bounded pool of warm instances for one plugin. The ready
// queue is a buffered channel; waiters park on it with a timeout.
type Pool struct {
	plugin  values.PluginID
	factory Factory
	cfg     Config
	metrics *metrics.Metrics

	ready chan *pooled

	mu       sync.Mutex
	count    int
	shutdown bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a pool and pre-warms it to MinInstances. The sweeper
// goroutine runs until Shutdown.
func New(ctx context.Context, plugin values.PluginID, factory Factory, cfg Config, m *metrics.Metrics) (*Pool, error) {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 1
	}
	if cfg.MinInstances > cfg.MaxInstances {
		cfg.MinInstances = cfg.MaxInstances
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultConfig().WaitTimeout
	}

	p := &Pool{
		plugin:    plugin,
		factory:   factory,
		cfg:       cfg,
		metrics:   m,
		ready:     make(chan *pooled, cfg.MaxInstances),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	for i := 0; i < cfg.MinInstances; i++ {
		inst, err := p.create(ctx)
		if err != nil {
			p.closeAll(ctx)
			close(p.sweepStop)
			close(p.sweepDone)
			return nil, err
		}
		p.ready <- inst
	}

	if cfg.IdleTimeout > 0 {
		go p.sweep()
	} else {
		close(p.sweepDone)
	}
	return p, nil
}

// Lease is a held instance; Release returns it to the pool.
type Lease struct {
	pool     *Pool
	pooled   *pooled
	released bool
}

// Instance returns the leased instance.
func (l *Lease) Instance() Instance { return l.pooled.instance }

// Release returns the instance to the pool. A shutting-down pool drops
// it instead. Release is idempotent.
func (l *Lease) Release(ctx context.Context) {
	if l.released {
		return
	}
	l.released = true
	l.pool.release(ctx, l.pooled)
}

// Discard closes the leased instance instead of returning it. Used
// when a call left the instance unusable (timeout trap, fatal error).
// Discard is idempotent with Release.
func (l *Lease) Discard(ctx context.Context) {
	if l.released {
		return
	}
	l.released = true
	l.pool.drop(ctx, l.pooled)
}

// Acquire pops a ready instance, creates a new one while below max, or
// parks until an instance returns or WaitTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, &ShuttingDownError{Plugin: p.plugin}
	}
	p.mu.Unlock()

	select {
	case inst := <-p.ready:
		return &Lease{pool: p, pooled: inst}, nil
	default:
	}

	p.mu.Lock()
	if p.count < p.cfg.MaxInstances {
		p.count++ // reserve the slot before instantiating
		p.mu.Unlock()
		inst, err := p.create2(ctx)
		if err != nil {
			p.mu.Lock()
			p.count--
			p.mu.Unlock()
			return nil, err
		}
		return &Lease{pool: p, pooled: inst}, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.WaitTimeout)
	defer timer.Stop()
	select {
	case inst := <-p.ready:
		return &Lease{pool: p, pooled: inst}, nil
	case <-timer.C:
		return nil, &AcquisitionTimeoutError{Plugin: p.plugin, Wait: p.cfg.WaitTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current instance count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Usage aggregates resource counters across all ready instances.
// Instances out on lease are counted when they return.
func (p *Pool) Usage() isolation.Usage {
	var total isolation.Usage
	drained := make([]*pooled, 0, cap(p.ready))
	for {
		select {
		case inst := <-p.ready:
			total = total.Add(inst.instance.Usage())
			drained = append(drained, inst)
		default:
			for _, inst := range drained {
				p.ready <- inst
			}
			return total
		}
	}
}

// Shutdown stops handing out instances and closes everything held.
// Instances returned after shutdown are dropped.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	p.mu.Unlock()

	close(p.sweepStop)
	<-p.sweepDone
	p.closeAll(ctx)
}

func (p *Pool) closeAll(ctx context.Context) {
	for {
		select {
		case inst := <-p.ready:
			p.drop(ctx, inst)
		default:
			return
		}
	}
}

// create instantiates and counts a new instance (callers hold no lock).
func (p *Pool) create(ctx context.Context) (*pooled, error) {
	p.mu.Lock()
	if p.count >= p.cfg.MaxInstances {
		p.mu.Unlock()
		return nil, &LimitReachedError{Plugin: p.plugin, Max: p.cfg.MaxInstances}
	}
	p.count++
	p.mu.Unlock()

	inst, err := p.create2(ctx)
	if err != nil {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return nil, err
	}
	return inst, nil
}

// create2 instantiates without touching the count; the caller has
// already reserved a slot.
func (p *Pool) create2(ctx context.Context) (*pooled, error) {
	instance, err := p.factory(ctx)
	if err != nil {
		return nil, &CreationError{Plugin: p.plugin, Cause: err}
	}
	p.metrics.InstanceDelta(1)
	return &pooled{instance: instance, lastUsed: time.Now()}, nil
}

func (p *Pool) release(ctx context.Context, inst *pooled) {
	p.mu.Lock()
	down := p.shutdown
	p.mu.Unlock()
	if down {
		p.drop(ctx, inst)
		return
	}
	inst.lastUsed = time.Now()
	select {
	case p.ready <- inst:
	default:
		// Queue full can only happen if callers double-release; drop.
		p.drop(ctx, inst)
	}
}

func (p *Pool) drop(ctx context.Context, inst *pooled) {
	if err := inst.instance.Close(ctx); err != nil {
		slog.Debug("failed to close pooled instance", "plugin", p.plugin, "error", err)
	}
	p.metrics.InstanceDelta(-1)
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}

// sweep drops instances idle longer than IdleTimeout, never going
// below MinInstances.
func (p *Pool) sweep() {
	defer close(p.sweepDone)
	interval := p.cfg.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			p.sweepOnce(context.Background())
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context) int {
	removed := 0
	keep := make([]*pooled, 0, cap(p.ready))
	now := time.Now()
	for {
		select {
		case inst := <-p.ready:
			p.mu.Lock()
			aboveMin := p.count > p.cfg.MinInstances
			p.mu.Unlock()
			if aboveMin && now.Sub(inst.lastUsed) > p.cfg.IdleTimeout {
				p.drop(ctx, inst)
				removed++
				continue
			}
			keep = append(keep, inst)
		default:
			for _, inst := range keep {
				p.ready <- inst
			}
			if removed > 0 {
				slog.Debug("idle instances swept", "plugin", p.plugin, "removed", removed)
			}
			return removed
		}
	}
}

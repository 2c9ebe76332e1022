package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/tarnlabs/tarn/pkg/log"
	"github.com/tarnlabs/tarn/pkg/metrics"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// Defaults applied by NewCache when the corresponding Config field is
// zero.
const (
	DefaultWorkers           = 4
	DefaultQueueDepth        = 64
	DefaultResidentLimit     = 1024
	DefaultSuccessTTL        = time.Hour
	DefaultFailureRetryAfter = 30 * time.Second
	DefaultSweepInterval     = time.Minute
)

// ErrBusy reports that the worker queue is full. Callers surface it as a
// retryable unavailable error.
var ErrBusy = errors.New("task queue full")

// State is the lifecycle phase of one task entry.
type State int

const (
	StateRunning State = iota
	StateSuccess
	StateFailure
)

// Config tunes the cache. Zero values take the package defaults.
type Config struct {
	// Workers is the number of goroutines computing tasks.
	Workers int

	// QueueDepth bounds tasks admitted but not yet running. Admission
	// past the bound fails ErrBusy instead of blocking the caller.
	QueueDepth int

	// ResidentLimit bounds completed entries kept in memory.
	ResidentLimit int

	// SuccessTTL is how long a successful result answers lookups.
	SuccessTTL time.Duration

	// FailureRetryAfter is how long a failure is replayed to lookups
	// before the task may be attempted again.
	FailureRetryAfter time.Duration

	// SweepInterval is the janitor cadence for evicting expired entries.
	SweepInterval time.Duration

	// Clock supplies entry timestamps; nil means the system clock.
	Clock clock.Clock
}

// ComputeFunc produces the value for a task. It runs on a worker
// goroutine with a context tied to the cache lifetime, not to any single
// waiter, so an impatient caller does not abort work other callers share.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache deduplicates expensive computations by task id. At most one
// computation per id is in flight; concurrent requests for the same id
// attach to it. Successful values are persisted best-effort so a restart
// or another node can reuse them instead of recomputing.
type Cache struct {
	store  storage.Adapter
	repo   string
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	running map[types.ID]*entry
	done    *lru.Cache[types.ID, *entry]

	queue   chan *entry
	stopCh  chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type entry struct {
	id      types.ID
	compute ComputeFunc

	// Written once before doneCh closes; readers wait on doneCh.
	state    State
	value    []byte
	err      error
	started  time.Time
	finished time.Time
	doneCh   chan struct{}
}

// Future is a handle to a task's eventual result.
type Future struct {
	e *entry
}

// NewCache builds a task cache persisting results through store. A nil
// store disables persistence.
func NewCache(store storage.Adapter, repo string, cfg Config) (*Cache, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.ResidentLimit <= 0 {
		cfg.ResidentLimit = DefaultResidentLimit
	}
	if cfg.SuccessTTL <= 0 {
		cfg.SuccessTTL = DefaultSuccessTTL
	}
	if cfg.FailureRetryAfter <= 0 {
		cfg.FailureRetryAfter = DefaultFailureRetryAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	done, err := lru.New[types.ID, *entry](cfg.ResidentLimit)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		store:   store,
		repo:    repo,
		cfg:     cfg,
		clock:   clk,
		logger:  log.WithComponent("tasks"),
		running: make(map[types.ID]*entry),
		done:    done,
		queue:   make(chan *entry, cfg.QueueDepth),
		stopCh:  make(chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the worker pool and the eviction janitor.
func (c *Cache) Start() {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	c.wg.Add(1)
	go c.janitor()
	c.logger.Info().Int("workers", c.cfg.Workers).Msg("Task cache started")
}

// Stop cancels running computations and waits for the workers to exit.
// Tasks still queued are abandoned; their waiters see their own context
// expire.
func (c *Cache) Stop() {
	c.cancel()
	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info().Msg("Task cache stopped")
}

// Get returns a future for the task's result, attaching to a running
// computation or a fresh cached result when one exists. A new computation
// is admitted to the worker queue; a full queue fails ErrBusy.
func (c *Cache) Get(ctx context.Context, id types.ID, compute ComputeFunc) (*Future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.running[id]; ok {
		metrics.TaskCacheDeduped.Inc()
		return &Future{e: e}, nil
	}

	if e, ok := c.done.Get(id); ok {
		if !c.expired(e) {
			metrics.TaskCacheHits.Inc()
			return &Future{e: e}, nil
		}
		c.done.Remove(id)
	}

	e := &entry{
		id:      id,
		compute: compute,
		started: c.clock.Now(),
		doneCh:  make(chan struct{}),
	}
	select {
	case c.queue <- e:
	default:
		metrics.TaskCacheRejections.Inc()
		return nil, ErrBusy
	}
	c.running[id] = e
	metrics.TaskCacheMisses.Inc()
	return &Future{e: e}, nil
}

// Peek returns the completed result without blocking. ok is false while
// the task is still running.
func (f *Future) Peek() (value []byte, err error, ok bool) {
	select {
	case <-f.e.doneCh:
		return f.e.value, f.e.err, true
	default:
		return nil, nil, false
	}
}

// Done returns a channel closed when the task completes.
func (f *Future) Done() <-chan struct{} {
	return f.e.doneCh
}

// Get blocks until the task completes or ctx ends. A context expiry
// detaches only this waiter; the computation keeps running for the
// others.
func (f *Future) Get(ctx context.Context) ([]byte, error) {
	select {
	case <-f.e.doneCh:
		return f.e.value, f.e.err
	case <-ctx.Done():
		return nil, types.WrapError(types.CodeDeadlineExceeded, ctx.Err(),
			"task %s still running", f.e.id)
	}
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		select {
		case e := <-c.queue:
			c.run(e)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) run(e *entry) {
	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	// A result persisted by an earlier run, or by another node sharing
	// the backend, short-circuits the computation.
	if c.store != nil {
		if data, err := c.store.Get(c.baseCtx, c.repo, storage.BucketTaskResults, e.id); err == nil {
			c.logger.Debug().Str("task", e.id.String()).Msg("Reusing persisted task result")
			c.resolve(e, data, nil)
			return
		}
	}

	value, err := e.compute(c.baseCtx)
	c.resolve(e, value, err)

	if err == nil && c.store != nil {
		go c.persist(e)
	}
}

func (c *Cache) resolve(e *entry, value []byte, err error) {
	e.value = value
	e.err = err
	e.finished = c.clock.Now()
	if err != nil {
		e.state = StateFailure
	} else {
		e.state = StateSuccess
	}

	c.mu.Lock()
	delete(c.running, e.id)
	c.done.Add(e.id, e)
	c.mu.Unlock()

	close(e.doneCh)

	if err != nil {
		c.logger.Warn().Err(err).Str("task", e.id.String()).Msg("Task failed")
	}
}

// persist writes a successful value so later runs skip the computation.
// Failures only cost a future recomputation, so they are logged and
// dropped.
func (c *Cache) persist(e *entry) {
	err := c.store.Put(c.baseCtx, c.repo, storage.BucketTaskResults, e.id, e.value)
	if err != nil {
		c.logger.Debug().Err(err).Str("task", e.id.String()).Msg("Failed to persist task result")
	}
}

func (c *Cache) expired(e *entry) bool {
	select {
	case <-e.doneCh:
	default:
		return false
	}
	age := c.clock.Now().Sub(e.finished)
	if e.state == StateFailure {
		return age >= c.cfg.FailureRetryAfter
	}
	return age >= c.cfg.SuccessTTL
}

func (c *Cache) janitor() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep drops expired completed entries. Expiry is also checked lazily on
// Get; the janitor just keeps stale entries from squatting in the LRU.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.done.Keys() {
		if e, ok := c.done.Peek(id); ok && c.expired(e) {
			c.done.Remove(id)
		}
	}
}

// Stats reports the current cache occupancy.
func (c *Cache) Stats() (running, completed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running), c.done.Len()
}

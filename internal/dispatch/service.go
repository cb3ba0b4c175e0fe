// Package dispatch drains the durable outbound queue for one room,
// pacing sends and retrying on throttling.
package dispatch

import (
	"context"
	"sync"
	"time"

	"giftwatch/internal/bili"
	"giftwatch/internal/store"
	logx "giftwatch/pkg/logx"
)

type Config struct {
	RoomID int64
	// Pacing is the minimum wall-clock gap between two consecutive
	// successful sends for the room.
	Pacing time.Duration
	// MaxAttempts bounds retries for non-throttling delivery errors.
	// Throttling back-offs are free. <=0 uses the default.
	MaxAttempts int
	// MaxMessageLen is the platform's danmaku length cap, in runes.
	MaxMessageLen int
	// PollCeiling caps how long the worker sleeps between eligibility
	// checks, so config changes take effect without waiting out a long
	// not_before.
	PollCeiling time.Duration
}

const (
	defaultPacing      = 3 * time.Second
	defaultMaxAttempts = 5
	defaultMaxLen      = 30
	defaultPollCeiling = 30 * time.Second
)

func (c *Config) normalize() {
	if c.Pacing <= 0 {
		c.Pacing = defaultPacing
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = defaultMaxLen
	}
	if c.PollCeiling <= 0 {
		c.PollCeiling = defaultPollCeiling
	}
}

// Dispatcher owns the per-room worker. The store is the source of truth
// for claims; the in-process running flag only prevents spawning two
// worker loops for the same room.
type Dispatcher struct {
	st     *store.Store
	sender bili.Sender
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	baseCtx context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func New(cfg Config, st *store.Store, sender bili.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.normalize()
	return &Dispatcher{cfg: cfg, st: st, sender: sender, log: log}
}

// Apply swaps tunables at runtime. The room id is fixed for the
// dispatcher's lifetime.
func (d *Dispatcher) Apply(cfg Config) {
	cfg.normalize()
	d.mu.Lock()
	cfg.RoomID = d.cfg.RoomID
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Start recovers rows a crashed process left in sending state and kicks
// the worker if there is a backlog. It does not block.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	d.baseCtx, d.cancel = context.WithCancel(ctx)
	roomID := d.cfg.RoomID
	d.mu.Unlock()

	n, err := d.st.RecoverStale(ctx, roomID)
	if err != nil {
		return err
	}
	if n > 0 {
		d.log.Warn("recovered stale sending rows", logx.Int64("room", roomID), logx.Int64("rows", n))
	}

	pending, err := d.st.HasPending(ctx, roomID)
	if err != nil {
		return err
	}
	if pending {
		d.Kick()
	}
	return nil
}

// Stop cancels the worker and waits for it to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Enqueue persists one outbound message and makes sure a worker is
// running to deliver it.
func (d *Dispatcher) Enqueue(ctx context.Context, body string) (int64, error) {
	cfg := d.snapshot()
	id, err := d.st.Enqueue(ctx, cfg.RoomID, body, cfg.Pacing)
	if err != nil {
		return 0, err
	}
	d.log.Debug("message queued", logx.Int64("id", id), logx.Int64("room", cfg.RoomID))
	d.Kick()
	return id, nil
}

// Kick starts the worker loop unless one is already live. An idle queue
// spawns no worker; the loop exits when the backlog drains.
func (d *Dispatcher) Kick() {
	d.mu.Lock()
	if d.running || d.baseCtx == nil || d.baseCtx.Err() != nil {
		d.mu.Unlock()
		return
	}
	d.running = true
	ctx := d.baseCtx
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.worker(ctx)

		d.mu.Lock()
		d.running = false
		d.mu.Unlock()

		// A message enqueued while the loop was winding down must not
		// strand; re-check and respawn if needed.
		if ctx.Err() == nil {
			if pending, err := d.st.HasPending(ctx, d.snapshot().RoomID); err == nil && pending {
				d.Kick()
			}
		}
	}()
}

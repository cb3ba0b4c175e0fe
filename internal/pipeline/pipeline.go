// Package pipeline turns normalized room events into recorded history
// and, when warranted, queued acknowledgement messages.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"giftwatch/internal/event"
	"giftwatch/internal/limiter"
	"giftwatch/internal/rule"
	logx "giftwatch/pkg/logx"
)

// Recorder is the historical sink. Every event that parses is recorded,
// whether or not it produces a notification.
type Recorder interface {
	InsertGift(ctx context.Context, ev event.GiftEvent) (int64, error)
}

// Enqueuer hands a rendered message to the durable dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, body string) (int64, error)
}

// Config is one immutable tunables snapshot. Reloads swap the whole
// snapshot; in-flight cooldown/threshold bookkeeping is discarded.
type Config struct {
	RoomID      int64
	TargetNames []string
	TargetIDs   []int64
	// MinQuantity is both the per-event floor and the cumulative
	// threshold step: a reply fires each time an actor's daily total
	// crosses the next multiple of it.
	MinQuantity int

	GlobalCooldown time.Duration
	ActorCooldown  time.Duration
	DailyLimit     int

	DebounceWindow time.Duration

	// ThankMembership replies to membership purchases directly,
	// bypassing the target rule and the debounce window.
	ThankMembership bool

	Templates Templates
}

// Templates hold user-facing reply text with {placeholder} slots.
type Templates struct {
	// Summary gets {uname} and {gifts} ("item x count，item x count").
	Summary string
	// Membership gets {uname} and {guard_name}.
	Membership string
}

const (
	defaultDebounceWindow     = 5 * time.Second
	defaultSummaryTemplate    = "感谢 {uname} 赠送的 {gifts}！"
	defaultMembershipTemplate = "感谢 {uname} 开通{guard_name}！"
)

// snapshot binds one Config to the gate instances built from it.
type snapshot struct {
	cfg     Config
	rule    *rule.Rule
	limiter *limiter.RateLimiter
	counter *limiter.DailyCounter
}

func newSnapshot(cfg Config) *snapshot {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = defaultDebounceWindow
	}
	if strings.TrimSpace(cfg.Templates.Summary) == "" {
		cfg.Templates.Summary = defaultSummaryTemplate
	}
	if strings.TrimSpace(cfg.Templates.Membership) == "" {
		cfg.Templates.Membership = defaultMembershipTemplate
	}
	return &snapshot{
		cfg:     cfg,
		rule:    rule.New(cfg.TargetNames, cfg.TargetIDs, cfg.MinQuantity),
		limiter: limiter.New(cfg.GlobalCooldown, cfg.ActorCooldown, cfg.DailyLimit),
		counter: limiter.NewDailyCounter(),
	}
}

// Pipeline is the per-room orchestrator. HandleEvent is safe for
// concurrent use, though the inbound transport normally calls it from a
// single ingestion task.
type Pipeline struct {
	log logx.Logger
	rec Recorder
	enq Enqueuer // nil: record-only mode (no send credential)

	mu   sync.Mutex
	snap *snapshot
	agg  map[string]*aggregate
	// Threshold bookkeeping: last-fired multiple per actor, reset on
	// day rollover and on config swap.
	fired    map[string]int
	firedDay string
}

func New(cfg Config, rec Recorder, enq Enqueuer, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		log:   log,
		rec:   rec,
		enq:   enq,
		snap:  newSnapshot(cfg),
		agg:   map[string]*aggregate{},
		fired: map[string]int{},
	}
}

// Apply swaps in a fresh snapshot. Open debounce windows are dropped:
// a config change resetting cooldown/threshold bookkeeping is accepted.
func (p *Pipeline) Apply(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = newSnapshot(cfg)
	p.dropAggregatesLocked()
	p.fired = map[string]int{}
	p.firedDay = ""
}

// Stop cancels open debounce windows without flushing them.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropAggregatesLocked()
}

func (p *Pipeline) snapshot() *snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// HandleEvent ingests one raw inbound object. The returned error only
// reports historical-sink problems; notification gating never errors
// and never blocks ingestion.
func (p *Pipeline) HandleEvent(ctx context.Context, raw map[string]any) error {
	pl := event.Decode(raw)
	if !pl.Kind.Recognized() {
		if p.log.Enabled(logx.LevelDebug) && pl.Kind != "" {
			p.log.Debug("ignoring event", logx.String("cmd", string(pl.Kind)))
		}
		return nil
	}

	s := p.snapshot()
	ev, ok := event.Normalize(pl, s.cfg.RoomID)
	if !ok {
		p.log.Debug("unparseable event dropped", logx.String("cmd", string(pl.Kind)))
		return nil
	}

	_, recErr := p.rec.InsertGift(ctx, ev)
	if recErr != nil {
		p.log.Error("gift record failed", logx.Err(recErr),
			logx.String("actor", ev.ActorName), logx.String("gift", ev.ItemName))
	}

	p.log.Info("gift received",
		logx.Int64("uid", ev.ActorID), logx.String("actor", ev.ActorName),
		logx.String("gift", ev.ItemName), logx.Int("num", ev.Quantity),
		logx.Int64("price", ev.TotalValue))

	if p.enq != nil {
		p.decide(ctx, s, ev)
	}
	return recErr
}

// decide runs the notification gates for one recorded event.
func (p *Pipeline) decide(ctx context.Context, s *snapshot, ev event.GiftEvent) {
	ts := time.Unix(ev.Timestamp, 0)
	key := ev.ActorKey()

	if ev.Kind == event.KindMembership && s.cfg.ThankMembership {
		if !s.limiter.Allow(key, ts, false) {
			return
		}
		body := renderTemplate(s.cfg.Templates.Membership, map[string]string{
			"uname":      ev.ActorName,
			"guard_name": ev.ItemName,
		})
		p.enqueue(ctx, body)
		return
	}

	if !s.rule.IsTarget(ev) {
		return
	}

	day, total := s.counter.Add(key, ev.Quantity, ts)

	p.mu.Lock()
	if p.firedDay != day {
		p.firedDay = day
		p.fired = map[string]int{}
	}
	multiple := total / s.rule.MinQuantity()
	if multiple <= p.fired[key] {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	// Combo delivery splits one physical contribution into a burst of
	// sub-events; cooldowns must not eat the tail of the burst.
	ignoreCooldown := ev.Kind == event.KindComboSend
	if !s.limiter.Allow(key, ts, ignoreCooldown) {
		return
	}

	p.mu.Lock()
	if p.firedDay == day {
		p.fired[key] = multiple
	}
	p.buffer(key, ev.ActorName, ev.ItemName, ev.Quantity, s.cfg.DebounceWindow)
	p.mu.Unlock()
}

func (p *Pipeline) enqueue(ctx context.Context, body string) {
	if _, err := p.enq.Enqueue(ctx, body); err != nil {
		p.log.Error("enqueue reply failed", logx.Err(err))
	}
}

// renderTemplate fills {key} slots; unknown slots stay as-is so a typo
// in a template degrades visibly instead of panicking.
func renderTemplate(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

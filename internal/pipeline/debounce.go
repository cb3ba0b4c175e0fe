package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// aggregate collects one actor's matched contributions while a debounce
// window is open. Exactly one flush timer is live per aggregate.
type aggregate struct {
	displayName string
	items       map[string]int
	order       []string // item insertion order, for stable rendering
	timer       *time.Timer
}

// buffer merges one contribution into the actor's open aggregate, or
// opens one and schedules its flush. Caller holds p.mu, which is what
// makes aggregate creation and flush-timer spawn a single atomic step.
func (p *Pipeline) buffer(key, displayName, itemName string, quantity int, window time.Duration) {
	a, ok := p.agg[key]
	if !ok {
		a = &aggregate{items: map[string]int{}}
		p.agg[key] = a
		a.timer = time.AfterFunc(window, func() { p.flush(key) })
	}
	// Actors can rename mid-session; the latest name wins.
	a.displayName = displayName
	if _, seen := a.items[itemName]; !seen {
		a.order = append(a.order, itemName)
	}
	a.items[itemName] += quantity
}

// flush closes the actor's window: remove the aggregate and queue one
// summarized reply if anything accumulated.
func (p *Pipeline) flush(key string) {
	p.mu.Lock()
	a, ok := p.agg[key]
	if ok {
		delete(p.agg, key)
	}
	s := p.snap
	p.mu.Unlock()

	if !ok || len(a.items) == 0 || p.enq == nil {
		return
	}

	body := renderTemplate(s.cfg.Templates.Summary, map[string]string{
		"uname": a.displayName,
		"gifts": renderGifts(a),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.enqueue(ctx, body)
}

// dropAggregatesLocked cancels every open window without flushing.
func (p *Pipeline) dropAggregatesLocked() {
	for key, a := range p.agg {
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(p.agg, key)
	}
}

func renderGifts(a *aggregate) string {
	parts := make([]string, 0, len(a.order))
	for _, name := range a.order {
		parts = append(parts, name+" x"+strconv.Itoa(a.items[name]))
	}
	if len(parts) == 0 {
		return "礼物"
	}
	return strings.Join(parts, "，")
}

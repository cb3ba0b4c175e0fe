// Package limiter gates how often acknowledgement replies may fire.
//
// This is deliberately not a token bucket: every gate is relative to the
// last *accepted* call (cooldowns) or a calendar day bucket (quota), and
// state only moves on acceptance.
package limiter

import (
	"sync"
	"time"
)

const dayKeyLayout = "2006-01-02"

// RateLimiter enforces a global cooldown, a per-actor cooldown and a
// per-actor daily quota. Safe for concurrent use. State is in-memory
// only; a restart resets cooldowns, which is acceptable for replies.
type RateLimiter struct {
	globalCooldown time.Duration
	actorCooldown  time.Duration
	dailyLimit     int

	mu         sync.Mutex
	lastGlobal time.Time
	lastActor  map[string]time.Time
	actorDay   map[string]string
	actorCount map[string]int
}

func New(globalCooldown, actorCooldown time.Duration, dailyLimit int) *RateLimiter {
	return &RateLimiter{
		globalCooldown: globalCooldown,
		actorCooldown:  actorCooldown,
		dailyLimit:     dailyLimit,
		lastActor:      map[string]time.Time{},
		actorDay:       map[string]string{},
		actorCount:     map[string]int{},
	}
}

// Allow reports whether a reply for actor may fire at ts, and records the
// acceptance when it may. ignoreCooldown skips the two cooldown gates but
// never the daily quota: combo delivery splits one physical contribution
// into a burst of sub-events, and cooldowns must not eat the burst's tail.
func (l *RateLimiter) Allow(actor string, ts time.Time, ignoreCooldown bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !ignoreCooldown {
		if l.globalCooldown > 0 && !l.lastGlobal.IsZero() && ts.Sub(l.lastGlobal) < l.globalCooldown {
			return false
		}
		if last, ok := l.lastActor[actor]; ok && l.actorCooldown > 0 && ts.Sub(last) < l.actorCooldown {
			return false
		}
	}

	day := ts.Local().Format(dayKeyLayout)
	count := l.actorCount[actor]
	if l.actorDay[actor] != day {
		count = 0
	}
	if l.dailyLimit > 0 && count >= l.dailyLimit {
		return false
	}

	l.lastGlobal = ts
	l.lastActor[actor] = ts
	l.actorDay[actor] = day
	l.actorCount[actor] = count + 1
	return true
}

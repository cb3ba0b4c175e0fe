package limiter

import (
	"sync"
	"time"
)

// DailyCounter accumulates per-actor contribution totals within one
// calendar day. The whole map resets lazily when the day key changes,
// which supports "thank every Nth unit donated, cumulatively" semantics.
type DailyCounter struct {
	mu     sync.Mutex
	day    string
	totals map[string]int
}

func NewDailyCounter() *DailyCounter {
	return &DailyCounter{totals: map[string]int{}}
}

// Add rolls the day bucket over if needed, adds amount (clamped >= 0) to
// the actor's running total, and returns the day key and the new total.
func (c *DailyCounter) Add(actor string, amount int, ts time.Time) (string, int) {
	if amount < 0 {
		amount = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	day := ts.Local().Format(dayKeyLayout)
	if c.day != day {
		c.day = day
		c.totals = map[string]int{}
	}
	c.totals[actor] += amount
	return day, c.totals[actor]
}

// Total returns the actor's running total for the day of ts, without
// mutating state. A stale day reads as zero.
func (c *DailyCounter) Total(actor string, ts time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != ts.Local().Format(dayKeyLayout) {
		return 0
	}
	return c.totals[actor]
}

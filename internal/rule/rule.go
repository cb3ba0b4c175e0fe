// Package rule decides whether a normalized event is a target contribution.
package rule

import (
	"strings"

	"golang.org/x/text/width"

	"giftwatch/internal/event"
)

// Rule holds the matching targets. Build one with New and treat it as
// immutable; config reloads swap in a fresh Rule rather than mutating.
type Rule struct {
	names  map[string]struct{}
	ids    map[int64]struct{}
	minQty int
}

// New builds a Rule from configured gift names, gift ids and a minimum
// quantity floor. Names are normalized so operator input matches however
// the platform spells the gift (full-width variants, stray spaces, case).
func New(names []string, ids []int64, minQty int) *Rule {
	r := &Rule{
		names:  make(map[string]struct{}, len(names)),
		ids:    make(map[int64]struct{}, len(ids)),
		minQty: minQty,
	}
	if r.minQty < 1 {
		r.minQty = 1
	}
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		r.names[n] = struct{}{}
	}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		r.ids[id] = struct{}{}
	}
	return r
}

// MinQuantity returns the configured quantity floor (always >= 1).
func (r *Rule) MinQuantity() int { return r.minQty }

// Empty reports whether no targets are configured at all.
func (r *Rule) Empty() bool { return len(r.names) == 0 && len(r.ids) == 0 }

// IsTarget reports whether the event's item matches by name OR by id.
// Operators frequently know only one of the two, so either is enough.
func (r *Rule) IsTarget(ev event.GiftEvent) bool {
	if _, ok := r.names[NormalizeName(ev.ItemName)]; ok {
		return true
	}
	if ev.ItemID != 0 {
		if _, ok := r.ids[ev.ItemID]; ok {
			return true
		}
	}
	return false
}

// Hits reports whether the event matches and meets the quantity floor.
func (r *Rule) Hits(ev event.GiftEvent) bool {
	return r.IsTarget(ev) && ev.Quantity >= r.minQty
}

// NormalizeName canonicalizes a gift name for set membership:
// trim, fold full-width/half-width forms, case fold.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = width.Fold.String(s)
	return strings.ToLower(s)
}

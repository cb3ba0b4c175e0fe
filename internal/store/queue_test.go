package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "giftwatch/pkg/logx"
)

const testRoom int64 = 42

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustEnqueue(t *testing.T, s *Store, body string, pacing time.Duration) int64 {
	t.Helper()
	id, err := s.Enqueue(context.Background(), testRoom, body, pacing)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func rowByID(t *testing.T, s *Store, id int64) QueuedMessage {
	t.Helper()
	msgs, err := s.QueueMessages(context.Background(), testRoom, 500)
	if err != nil {
		t.Fatalf("QueueMessages: %v", err)
	}
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("row %d not found", id)
	return QueuedMessage{}
}

func TestEnqueuePacingIsMonotonic(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	pacing := 3 * time.Second

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, mustEnqueue(t, s, "m", pacing))
	}

	var prev int64
	for i, id := range ids {
		nb := rowByID(t, s, id).NotBefore
		if i > 0 && nb < prev+pacing.Milliseconds() {
			t.Fatalf("row %d: not_before %d closer than pacing to previous %d", id, nb, prev)
		}
		prev = nb
	}
}

func TestEnqueueAnchorsToLastSent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	pacing := 3 * time.Second

	// Complete one send so meta.last_sent_at is set.
	id := mustEnqueue(t, s, "warm", 0)
	if err := s.MarkSent(ctx, id, testRoom); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	lastSent, err := s.LastSentAt(ctx, testRoom)
	if err != nil {
		t.Fatalf("LastSentAt: %v", err)
	}
	if lastSent.IsZero() {
		t.Fatal("last_sent_at not recorded")
	}

	// Queue is now empty; a fresh enqueue must still respect the anchor.
	id2 := mustEnqueue(t, s, "hi", pacing)
	nb := rowByID(t, s, id2).NotBefore
	want := lastSent.UnixMilli() + pacing.Milliseconds()
	if nb < want {
		t.Fatalf("not_before = %d, want >= last_sent_at+pacing (%d)", nb, want)
	}
}

func TestClaimNextEligibilityAndOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := mustEnqueue(t, s, "first", 0)
	mustEnqueue(t, s, "second", time.Hour)

	m, err := s.ClaimNext(ctx, testRoom)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if m == nil || m.ID != first {
		t.Fatalf("claimed %+v, want id %d", m, first)
	}
	if m.Status != StatusSending {
		t.Fatalf("Status = %q", m.Status)
	}

	// The second row's not_before is an hour out; nothing else eligible.
	if m2, err := s.ClaimNext(ctx, testRoom); err != nil || m2 != nil {
		t.Fatalf("ClaimNext = %+v, %v; want nil for future row", m2, err)
	}
}

func TestClaimNextSingleWinner(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	const n = 8
	for i := 0; i < n; i++ {
		mustEnqueue(t, s, "m", 0)
	}

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := s.ClaimNext(ctx, testRoom)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if m == nil {
					return
				}
				mu.Lock()
				seen[m.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("claimed %d distinct rows, want %d", len(seen), n)
	}
	for id, c := range seen {
		if c != 1 {
			t.Fatalf("row %d claimed %d times", id, c)
		}
	}
}

func TestNextAvailableDelay(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.NextAvailableDelay(ctx, testRoom); err != nil || ok {
		t.Fatalf("empty queue: ok=%v err=%v", ok, err)
	}

	mustEnqueue(t, s, "m", 30*time.Second)
	// First row in an empty queue is scheduled at now, so delay ~0.
	d, ok, err := s.NextAvailableDelay(ctx, testRoom)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if d > time.Second {
		t.Fatalf("delay = %v, want ~0 for first row", d)
	}

	mustEnqueue(t, s, "m2", 30*time.Second)
	if _, err := s.ClaimNext(ctx, testRoom); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	d, ok, err = s.NextAvailableDelay(ctx, testRoom)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if d < 25*time.Second {
		t.Fatalf("delay = %v, want close to pacing interval", d)
	}
}

func TestRescheduleThrottleVsFailure(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	pacing := 3 * time.Second

	id := mustEnqueue(t, s, "m", pacing)
	if _, err := s.ClaimNext(ctx, testRoom); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	// Throttling back-off: no attempt counted, no error recorded.
	attempts, err := s.Reschedule(ctx, id, testRoom, "", pacing, false)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("attempts = %d after throttle, want 0", attempts)
	}
	row := rowByID(t, s, id)
	if row.Status != StatusPending || row.LastError != "" {
		t.Fatalf("row after throttle = %+v", row)
	}
	if row.NotBefore < time.Now().UnixMilli()+pacing.Milliseconds()-500 {
		t.Fatalf("not_before = %d, want pushed out by at least one pacing interval", row.NotBefore)
	}

	// Transient failure: attempt counted, error recorded.
	attempts, err = s.Reschedule(ctx, id, testRoom, "connection reset", pacing, true)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	row = rowByID(t, s, id)
	if row.LastError != "connection reset" {
		t.Fatalf("LastError = %q", row.LastError)
	}
}

func TestMarkFailedIsTerminal(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id := mustEnqueue(t, s, "m", 0)
	if _, err := s.ClaimNext(ctx, testRoom); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := s.MarkFailed(ctx, id, "rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	row := rowByID(t, s, id)
	if row.Status != StatusFailed || row.LastError != "rejected" || row.SentAt == 0 {
		t.Fatalf("row = %+v", row)
	}
	// Failed rows are retained for audit but never re-claimed.
	if m, err := s.ClaimNext(ctx, testRoom); err != nil || m != nil {
		t.Fatalf("ClaimNext after failure = %+v, %v", m, err)
	}
}

func TestRecoverStale(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id := mustEnqueue(t, s, "m", 0)
	if _, err := s.ClaimNext(ctx, testRoom); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	n, err := s.RecoverStale(ctx, testRoom)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d rows, want 1", n)
	}
	if got := rowByID(t, s, id).Status; got != StatusPending {
		t.Fatalf("Status = %q after recovery", got)
	}
}

func TestHasPending(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if ok, err := s.HasPending(ctx, testRoom); err != nil || ok {
		t.Fatalf("HasPending on empty queue: %v %v", ok, err)
	}
	id := mustEnqueue(t, s, "m", 0)
	if ok, err := s.HasPending(ctx, testRoom); err != nil || !ok {
		t.Fatalf("HasPending with pending row: %v %v", ok, err)
	}
	if err := s.MarkSent(ctx, id, testRoom); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if ok, err := s.HasPending(ctx, testRoom); err != nil || ok {
		t.Fatalf("HasPending after send: %v %v", ok, err)
	}
}

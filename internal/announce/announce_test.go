package announce

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "giftwatch/pkg/logx"
)

type fakeQueue struct {
	mu     sync.Mutex
	bodies []string
	nextID int64
}

func (f *fakeQueue) Enqueue(ctx context.Context, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeQueue) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.bodies))
	copy(out, f.bodies)
	return out
}

func TestFireRotatesRoundRobin(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	s := New(Config{Enabled: true, Spec: "@every 1h", Messages: []string{"a", "b"}}, q, logx.Nop())
	s.baseCtx = context.Background()
	s.running = true

	for i := 0; i < 5; i++ {
		s.fire()
	}
	want := []string{"a", "b", "a", "b", "a"}
	got := q.snapshot()
	if len(got) != len(want) {
		t.Fatalf("enqueued %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("enqueued %v, want %v", got, want)
		}
	}
}

func TestApplyResetsRotationOnNewMessages(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	s := New(Config{Enabled: true, Spec: "@every 1h", Messages: []string{"a", "b"}}, q, logx.Nop())
	s.baseCtx = context.Background()
	s.running = true

	s.fire() // "a"; next message would be "b"
	if err := s.Apply(Config{Enabled: true, Spec: "@every 1h", Messages: []string{"x", "y"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.fire()
	got := q.snapshot()
	if len(got) != 2 || got[1] != "x" {
		t.Fatalf("enqueued %v, want rotation restarted at x", got)
	}
}

func TestApplyKeepsRotationOnUnchangedMessages(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	s := New(Config{Enabled: true, Spec: "@every 1h", Messages: []string{"a", "b"}}, q, logx.Nop())
	s.baseCtx = context.Background()
	s.running = true

	s.fire()
	if err := s.Apply(Config{Enabled: true, Spec: "@every 2h", Messages: []string{"a", "b"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.fire()
	got := q.snapshot()
	if len(got) != 2 || got[1] != "b" {
		t.Fatalf("enqueued %v, want rotation to continue at b", got)
	}
}

func TestApplyRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Spec: "@every 1h", Messages: []string{"a"}}, &fakeQueue{}, logx.Nop())
	if err := s.Apply(Config{Enabled: true, Spec: "every day at noon", Messages: []string{"a"}}); err == nil {
		t.Fatal("want error for bad spec")
	}
	// Disabled configs skip spec validation; the spec may be blank.
	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("Apply disabled: %v", err)
	}
}

func TestStartFiresOnSchedule(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	s := New(Config{Enabled: true, Spec: "@every 50ms", Messages: []string{"hello"}}, q, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.snapshot()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := q.snapshot()
	if len(got) < 2 {
		t.Fatalf("got %d announcements, want >= 2", len(got))
	}
	for _, b := range got {
		if b != "hello" {
			t.Fatalf("unexpected body %q", b)
		}
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	s := New(Config{Enabled: false, Spec: "@every 10ms", Messages: []string{"a"}}, q, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	if n := len(q.snapshot()); n != 0 {
		t.Fatalf("got %d announcements, want 0", n)
	}
}

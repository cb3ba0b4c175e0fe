// Package announce pushes rotating scheduled messages through the same
// paced queue the thank-you replies use.
package announce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "giftwatch/pkg/logx"
)

// Enqueuer is satisfied by dispatch.Dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, body string) (int64, error)
}

type Config struct {
	Enabled bool
	// Spec is a cron expression; "@every 10m" style descriptors work too.
	Spec     string
	Messages []string
}

type Service struct {
	enq    Enqueuer
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	next    int
	baseCtx context.Context
	running bool
}

func New(cfg Config, enq Enqueuer, log logx.Logger) *Service {
	return &Service{
		cfg: cfg,
		enq: enq,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.baseCtx = ctx
	s.running = true
	if err := s.startCronLocked(); err != nil {
		s.running = false
		return err
	}
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.c
	s.c = nil
	s.mu.Unlock()
	// Wait outside the lock: a mid-flight fire() needs s.mu to notice
	// the service stopped.
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps the schedule live. A changed message list restarts the
// rotation from the top; a bad cron spec is rejected and the previous
// schedule keeps running.
func (s *Service) Apply(cfg Config) error {
	if cfg.Enabled {
		if _, err := s.parser.Parse(strings.TrimSpace(cfg.Spec)); err != nil {
			return fmt.Errorf("announce spec %q: %w", cfg.Spec, err)
		}
	}

	s.mu.Lock()
	if !sameMessages(s.cfg.Messages, cfg.Messages) {
		s.next = 0
	}
	specChanged := strings.TrimSpace(s.cfg.Spec) != strings.TrimSpace(cfg.Spec)
	enabledChanged := s.cfg.Enabled != cfg.Enabled
	s.cfg = cfg

	if !s.running || (!specChanged && !enabledChanged) {
		s.mu.Unlock()
		return nil
	}
	old := s.c
	s.c = nil
	err := s.startCronLocked()
	s.mu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	return err
}

// startCronLocked is a no-op when the service is disabled or has
// nothing to say. Call with s.mu held.
func (s *Service) startCronLocked() error {
	if !s.cfg.Enabled || len(s.cfg.Messages) == 0 {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(strings.TrimSpace(s.cfg.Spec), s.fire); err != nil {
		return fmt.Errorf("announce spec %q: %w", s.cfg.Spec, err)
	}
	c.Start()
	s.c = c
	if !s.log.IsZero() {
		s.log.Info("announcements scheduled",
			logx.String("spec", strings.TrimSpace(s.cfg.Spec)),
			logx.Int("messages", len(s.cfg.Messages)),
		)
	}
	return nil
}

func (s *Service) fire() {
	s.mu.Lock()
	if !s.running || len(s.cfg.Messages) == 0 {
		s.mu.Unlock()
		return
	}
	msg := s.cfg.Messages[s.next%len(s.cfg.Messages)]
	s.next++
	ctx := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.enq.Enqueue(ctx, msg); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("announcement enqueue failed", logx.Err(err))
		}
		return
	}
	if !s.log.IsZero() {
		s.log.Debug("announcement queued", logx.String("body", msg))
	}
}

func sameMessages(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

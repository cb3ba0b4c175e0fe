// Package web serves the dashboard API: gift history, queue state, and
// the raw event ingest hook for external room-connection adapters.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"giftwatch/internal/store"
	logx "giftwatch/pkg/logx"
)

// Records is the slice of the persistence layer the dashboard reads.
type Records interface {
	Gifts(ctx context.Context, roomID int64, q store.GiftQuery) ([]store.GiftRecord, error)
	GiftByID(ctx context.Context, id int64) (store.GiftRecord, bool, error)
	DeleteGift(ctx context.Context, id int64) (bool, error)
	QueueMessages(ctx context.Context, roomID int64, limit int) ([]store.QueuedMessage, error)
	LastSentAt(ctx context.Context, roomID int64) (time.Time, error)
}

// Sink receives raw room events posted by an external adapter.
type Sink interface {
	HandleEvent(ctx context.Context, raw map[string]any) error
}

type Config struct {
	Enabled bool
	Addr    string
	RoomID  int64
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8182"
	}
	return c
}

// Server manages lifecycle for the dashboard HTTP listener.
type Server struct {
	rec  Records
	sink Sink
	log  logx.Logger

	mu   sync.Mutex
	cfg  Config
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(cfg Config, rec Records, sink Sink, log logx.Logger) *Server {
	return &Server{cfg: cfg.withDefaults(), rec: rec, sink: sink, log: log}
}

// Apply starts/stops the server according to cfg and retargets queries
// to the configured room.
func (s *Server) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	prevAddr := s.cfg.Addr
	s.cfg = cfg

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return
	}
	if s.srv != nil && prevAddr == cfg.Addr {
		return
	}
	s.stopLocked(ctx)
	s.startLocked()
}

// Start brings the listener up if the config enables it.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return
	}
	s.startLocked()
}

func (s *Server) startLocked() {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router()}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		if !s.log.IsZero() {
			s.log.Warn("dashboard listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		}
		return
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if !s.log.IsZero() {
				s.log.Warn("dashboard server error", logx.Err(err))
			}
		}
	}()
	if !s.log.IsZero() {
		s.log.Info("dashboard enabled", logx.String("addr", s.addr))
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if !s.log.IsZero() {
			s.log.Warn("dashboard shutdown error", logx.String("addr", addr), logx.Err(err))
		}
	}
	if ln != nil {
		_ = ln.Close()
	}
	if !s.log.IsZero() {
		s.log.Info("dashboard disabled", logx.String("addr", addr))
	}
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) roomID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RoomID
}

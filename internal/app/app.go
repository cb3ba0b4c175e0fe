// Package app wires the config manager, store, sender, queue, pipeline
// and the optional announce/web services into one process.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"giftwatch/internal/announce"
	"giftwatch/internal/bili"
	"giftwatch/internal/config"
	"giftwatch/internal/dispatch"
	"giftwatch/internal/pipeline"
	"giftwatch/internal/store"
	"giftwatch/internal/web"
	logx "giftwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	st   *store.Store
	disp *dispatch.Dispatcher
	pipe *pipeline.Pipeline
	ann  *announce.Service
	web  *web.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logxConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	st, err := store.Open(storeConfig(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{cfgm: cfgm, logs: logSvc, log: log, st: st}

	// Without a usable credential the process runs record-only: events
	// are parsed and persisted but nothing is queued or sent.
	senderCfg := senderConfig(cfg)
	var enq pipeline.Enqueuer
	if senderCfg.Credential.Ready() {
		sender := bili.NewClient(senderCfg, log.With(logx.String("comp", "sender")))
		a.disp = dispatch.New(dispatchConfig(cfg), st, sender, log.With(logx.String("comp", "dispatch")))
		enq = a.disp
	} else {
		log.Warn("no credential configured; running record-only")
	}

	a.pipe = pipeline.New(pipelineConfig(cfg), st, enq, log.With(logx.String("comp", "pipeline")))

	if a.disp != nil {
		a.ann = announce.New(announceConfig(cfg), a.disp, log.With(logx.String("comp", "announce")))
	}
	a.web = web.New(webConfig(cfg), st, a.pipe, log.With(logx.String("comp", "web")))

	return a, nil
}

// Pipeline exposes the event boundary for room-connection adapters.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if a.disp != nil {
		if err := a.disp.Start(runCtx); err != nil {
			cancel()
			return err
		}
		if a.ann != nil {
			if err := a.ann.Start(runCtx); err != nil {
				cancel()
				return err
			}
		}
	}
	a.web.Start()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
					continue
				default:
				}
				break
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(logxConfig(newCfg))

	if oldCfg != nil && oldCfg.RoomID != newCfg.RoomID {
		// The queue and history are keyed by room; switching live would
		// strand in-flight rows.
		a.log.Warn("room_id changed; restart to apply", logx.Int64("room_id", newCfg.RoomID))
	}

	if a.disp != nil {
		a.disp.Apply(dispatchConfig(newCfg))
	}
	a.pipe.Apply(pipelineConfig(newCfg))
	if a.ann != nil {
		if err := a.ann.Apply(announceConfig(newCfg)); err != nil {
			a.log.Warn("announce config rejected", logx.Err(err))
		}
	}
	a.web.Apply(ctx, webConfig(newCfg))

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.ann != nil {
		a.ann.Stop()
	}
	if a.disp != nil {
		a.disp.Stop()
	}
	a.pipe.Stop()

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.web.Stop(stopCtx)
	cancel()

	a.wg.Wait()
	err := a.st.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

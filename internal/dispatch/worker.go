package dispatch

import (
	"context"
	"errors"
	"time"

	"giftwatch/internal/bili"
	"giftwatch/internal/store"
	logx "giftwatch/pkg/logx"
)

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		cfg := d.snapshot()

		msg, err := d.st.ClaimNext(ctx, cfg.RoomID)
		if err != nil {
			d.log.Error("claim failed", logx.Err(err), logx.Int64("room", cfg.RoomID))
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		if msg == nil {
			delay, ok, err := d.st.NextAvailableDelay(ctx, cfg.RoomID)
			if err != nil {
				d.log.Error("delay query failed", logx.Err(err))
				return
			}
			if !ok {
				// Backlog drained; the next Enqueue kicks a fresh worker.
				return
			}
			if delay < 50*time.Millisecond {
				delay = 50 * time.Millisecond
			}
			if delay > cfg.PollCeiling {
				delay = cfg.PollCeiling
			}
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		d.deliver(ctx, cfg, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, msg *store.QueuedMessage) {
	err := d.sender.Send(ctx, cfg.RoomID, msg.Body)

	if err == nil {
		if err := d.st.MarkSent(ctx, msg.ID, cfg.RoomID); err != nil {
			d.log.Error("mark sent failed", logx.Int64("id", msg.ID), logx.Err(err))
			return
		}
		d.log.Info("message sent", logx.Int64("id", msg.ID), logx.Int64("room", cfg.RoomID))
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-send: put the row back so the next start does not
		// depend on stale-row recovery. Best effort with a fresh context.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = d.st.Reschedule(rctx, msg.ID, cfg.RoomID, "", cfg.Pacing, false)
		return
	}

	switch {
	case errors.Is(err, bili.ErrThrottled):
		// Platform says too fast: push out by a pacing interval and give
		// the channel room to breathe before the next claim.
		if _, rerr := d.st.Reschedule(ctx, msg.ID, cfg.RoomID, "", cfg.Pacing, false); rerr != nil {
			d.log.Error("reschedule failed", logx.Int64("id", msg.ID), logx.Err(rerr))
			return
		}
		d.log.Warn("send throttled", logx.Int64("id", msg.ID))
		sleepCtx(ctx, cfg.Pacing)
		return

	case errors.Is(err, bili.ErrTooLong):
		if short, changed := truncateRunes(msg.Body, cfg.MaxMessageLen-1); changed {
			d.log.Warn("message too long, truncating once", logx.Int64("id", msg.ID), logx.Int("limit", cfg.MaxMessageLen))
			if retryErr := d.sender.Send(ctx, cfg.RoomID, short); retryErr == nil {
				if err := d.st.MarkSent(ctx, msg.ID, cfg.RoomID); err != nil {
					d.log.Error("mark sent failed", logx.Int64("id", msg.ID), logx.Err(err))
				}
				return
			} else {
				err = retryErr
			}
		}
		d.retryOrFail(ctx, cfg, msg, err)

	default:
		d.retryOrFail(ctx, cfg, msg, err)
	}
}

// retryOrFail reschedules a transient failure with the error recorded,
// or marks the row failed once the attempt budget is spent.
func (d *Dispatcher) retryOrFail(ctx context.Context, cfg Config, msg *store.QueuedMessage, sendErr error) {
	if msg.Attempts+1 >= cfg.MaxAttempts {
		if err := d.st.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
			d.log.Error("mark failed errored", logx.Int64("id", msg.ID), logx.Err(err))
			return
		}
		d.log.Error("message failed permanently",
			logx.Int64("id", msg.ID), logx.Int("attempts", msg.Attempts+1), logx.Err(sendErr))
		return
	}
	if _, err := d.st.Reschedule(ctx, msg.ID, cfg.RoomID, sendErr.Error(), cfg.Pacing, true); err != nil {
		d.log.Error("reschedule failed", logx.Int64("id", msg.ID), logx.Err(err))
		return
	}
	d.log.Warn("send failed, rescheduled",
		logx.Int64("id", msg.ID), logx.Int("attempts", msg.Attempts+1), logx.Err(sendErr))
}

// truncateRunes cuts s to at most n runes; changed is false when s
// already fits (nothing to retry then).
func truncateRunes(s string, n int) (string, bool) {
	if n < 1 {
		n = 1
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}

// sleepCtx sleeps for d or until ctx is done; reports whether the full
// sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

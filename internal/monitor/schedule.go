package monitor

import (
	"context"
	"time"

	"github.com/meetscribe/meetscribe/internal/hub"
	"github.com/meetscribe/meetscribe/internal/state"
)

// scheduleLoop fires reminders for scheduled meetings shortly before they
// start. The per-occurrence dedup key in the state store keeps each
// reminder to at most one firing, even across daemon restarts when the
// state store is Redis-backed.
func (w *Watcher) scheduleLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.scheduleTick)
	defer ticker.Stop()

	for {
		w.checkSchedules(ctx, time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkSchedules evaluates every schedule against now and fires reminders
// for occurrences starting within the notify window.
func (w *Watcher) checkSchedules(ctx context.Context, now time.Time) {
	cfg, err := w.bots.Config(ctx)
	if err != nil {
		w.logger.Warn("load bot config", "error", err)
		return
	}
	// Skipped reminders are not marked notified, so turning notifications
	// on mid-window still fires them.
	if !cfg.Notifications {
		return
	}

	schedules, err := w.bots.Schedules(ctx)
	if err != nil {
		w.logger.Warn("list schedules", "error", err)
		return
	}

	for _, sched := range schedules {
		next := sched.NextOccurrence(now)
		until := next.Sub(now)
		if until <= 0 || until > w.notifyWindow {
			continue
		}

		key := state.NotifiedKey(sched.ID, next.Format("2006-01-02"))
		first, err := w.state.SetIfAbsent(ctx, key, "1")
		if err != nil {
			w.logger.Warn("schedule dedup", "schedule", sched.ID, "error", err)
			continue
		}
		if !first {
			continue
		}

		w.logger.Info("meeting reminder",
			"schedule", sched.ID,
			"title", sched.Title,
			"starts_in", until.Round(time.Second))
		w.broadcast(hub.Event{Type: "schedule.reminder", Payload: map[string]any{
			"id":       sched.ID,
			"title":    sched.Title,
			"platform": sched.Platform,
			"url":      sched.URL,
			"startAt":  next,
		}})
	}
}

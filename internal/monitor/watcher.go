// Package monitor watches browser tabs for active meetings and drives
// the meeting bot: detection activity, auto-record after a grace period,
// exit handling, and reminders for scheduled meetings.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meetscribe/meetscribe/internal/bot"
	"github.com/meetscribe/meetscribe/internal/hub"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/presence"
	"github.com/meetscribe/meetscribe/internal/state"
	"github.com/meetscribe/meetscribe/pkg/browser"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultGrace        = 3 * time.Second
	defaultScheduleTick = 30 * time.Second
	defaultNotifyWindow = 2 * time.Minute
)

// Starter is the recording coordinator surface the watcher drives.
type Starter interface {
	// StartAuto begins an automatic recording of meeting. Returns an
	// error when a recording is already running or capture fails.
	StartAuto(ctx context.Context, meeting presence.Meeting) error

	// HandleMeetingExit is called when a meeting disappears from all
	// tabs. The coordinator stops the session if it was recording it.
	HandleMeetingExit(ctx context.Context, meeting presence.Meeting)
}

// Broadcaster publishes events to connected UI surfaces.
type Broadcaster interface {
	Broadcast(ev hub.Event)
}

// Config wires a Watcher.
type Config struct {
	Platform browser.Platform
	Bots     bot.Store
	State    state.Store
	Hub      Broadcaster
	Starter  Starter

	// PollInterval is the tab scan cadence. Defaults to 5s.
	PollInterval time.Duration

	// AutoRecordGrace is how long a meeting must stay present before
	// auto-recording starts. Defaults to 3s.
	AutoRecordGrace time.Duration

	// ScheduleTick is the reminder evaluation cadence. Defaults to 30s.
	ScheduleTick time.Duration

	// NotifyWindow is how far ahead of a scheduled start the reminder
	// fires. Defaults to 2m.
	NotifyWindow time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// tracked is one meeting currently visible in some tab.
type tracked struct {
	meeting     presence.Meeting
	tab         browser.TabID
	firstSeen   time.Time
	autoStarted bool
}

// Watcher runs the detection and reminder loops.
type Watcher struct {
	platform browser.Platform
	bots     bot.Store
	state    state.Store
	hub      Broadcaster
	starter  Starter

	pollInterval time.Duration
	grace        time.Duration
	scheduleTick time.Duration
	notifyWindow time.Duration

	logger  *slog.Logger
	metrics *observe.Metrics

	detected map[string]*tracked
}

// New creates a Watcher from cfg.
func New(cfg Config) (*Watcher, error) {
	if cfg.Platform == nil {
		return nil, fmt.Errorf("monitor: browser platform is required")
	}
	if cfg.Bots == nil {
		return nil, fmt.Errorf("monitor: bot store is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("monitor: state store is required")
	}
	if cfg.Starter == nil {
		return nil, fmt.Errorf("monitor: starter is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AutoRecordGrace <= 0 {
		cfg.AutoRecordGrace = defaultGrace
	}
	if cfg.ScheduleTick <= 0 {
		cfg.ScheduleTick = defaultScheduleTick
	}
	if cfg.NotifyWindow <= 0 {
		cfg.NotifyWindow = defaultNotifyWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Watcher{
		platform:     cfg.Platform,
		bots:         cfg.Bots,
		state:        cfg.State,
		hub:          cfg.Hub,
		starter:      cfg.Starter,
		pollInterval: cfg.PollInterval,
		grace:        cfg.AutoRecordGrace,
		scheduleTick: cfg.ScheduleTick,
		notifyWindow: cfg.NotifyWindow,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		detected:     make(map[string]*tracked),
	}, nil
}

// Run executes the detection and reminder loops until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.detectLoop(ctx) })
	g.Go(func() error { return w.scheduleLoop(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// detectLoop scans tabs on a fixed cadence, right after tab lifecycle
// events, and again when a detected meeting's auto-record grace elapses,
// so recording starts at the configured delay rather than at the next
// poll.
func (w *Watcher) detectLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	events := w.platform.Events()
	for {
		var graceTimer *time.Timer
		var graceC <-chan time.Time
		if next := w.scan(ctx); !next.IsZero() {
			graceTimer = time.NewTimer(time.Until(next))
			graceC = graceTimer.C
		}
		select {
		case <-ctx.Done():
			if graceTimer != nil {
				graceTimer.Stop()
			}
			return ctx.Err()
		case <-ticker.C:
		case <-graceC:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}
}

// scan diffs the currently visible meetings against the tracked set. It
// returns the earliest pending auto-record deadline, or the zero time
// when no auto-record is waiting on its grace period.
func (w *Watcher) scan(ctx context.Context) time.Time {
	cfg, err := w.bots.Config(ctx)
	if err != nil {
		w.logger.Warn("load bot config", "error", err)
		return time.Time{}
	}
	if !cfg.Enabled {
		w.clearAll(ctx)
		return time.Time{}
	}

	tabs, err := w.platform.Tabs(ctx)
	if err != nil {
		w.logger.Warn("list tabs", "error", err)
		return time.Time{}
	}

	now := time.Now()
	var nextGrace time.Time
	current := make(map[string]struct{})
	for _, tab := range tabs {
		probe := func(selector string) bool {
			found, err := w.platform.QueryDOM(ctx, tab.ID, selector)
			return err == nil && found
		}
		meeting, ok := presence.Detect(tab.URL, probe)
		if !ok || !cfg.WatchesPlatform(string(meeting.Platform)) {
			continue
		}
		key := meeting.Key()
		current[key] = struct{}{}

		tr, known := w.detected[key]
		if !known {
			tr = &tracked{meeting: meeting, tab: tab.ID, firstSeen: now}
			w.detected[key] = tr
			w.onDetected(ctx, cfg, meeting)
		} else {
			tr.tab = tab.ID
		}

		if cfg.AutoRecord && !tr.autoStarted {
			due := tr.firstSeen.Add(w.grace)
			if now.Before(due) {
				if nextGrace.IsZero() || due.Before(nextGrace) {
					nextGrace = due
				}
			} else {
				tr.autoStarted = true
				w.autoStart(ctx, meeting)
			}
		}
	}

	for key, tr := range w.detected {
		if _, still := current[key]; !still {
			delete(w.detected, key)
			w.onEnded(ctx, cfg, tr.meeting)
		}
	}
	return nextGrace
}

// clearAll forgets all tracked meetings, used when the bot is disabled.
func (w *Watcher) clearAll(ctx context.Context) {
	for key, tr := range w.detected {
		delete(w.detected, key)
		w.metrics.DetectedMeetings.Add(ctx, -1)
		w.starter.HandleMeetingExit(ctx, tr.meeting)
	}
}

// onDetected and onEnded always log the activity; the UI broadcast is
// gated on the notifications toggle.

func (w *Watcher) onDetected(ctx context.Context, cfg bot.Config, meeting presence.Meeting) {
	w.logger.Info("meeting detected", "platform", meeting.Platform, "id", meeting.ID)
	w.metrics.DetectedMeetings.Add(ctx, 1)
	w.appendActivity(ctx, bot.ActivityDetected, meeting, "")
	if cfg.Notifications {
		w.broadcast(hub.Event{Type: "meeting.detected", Payload: meeting})
	}
}

func (w *Watcher) onEnded(ctx context.Context, cfg bot.Config, meeting presence.Meeting) {
	w.logger.Info("meeting ended", "platform", meeting.Platform, "id", meeting.ID)
	w.metrics.DetectedMeetings.Add(ctx, -1)
	w.appendActivity(ctx, bot.ActivityEnded, meeting, "")
	if cfg.Notifications {
		w.broadcast(hub.Event{Type: "meeting.ended", Payload: meeting})
	}
	w.starter.HandleMeetingExit(ctx, meeting)
}

func (w *Watcher) autoStart(ctx context.Context, meeting presence.Meeting) {
	if err := w.starter.StartAuto(ctx, meeting); err != nil {
		w.logger.Warn("auto-record failed", "platform", meeting.Platform, "id", meeting.ID, "error", err)
		return
	}
	w.appendActivity(ctx, bot.ActivityRecording, meeting, "auto-record")
}

func (w *Watcher) appendActivity(ctx context.Context, typ bot.ActivityType, meeting presence.Meeting, detail string) {
	err := w.bots.AppendActivity(ctx, bot.Activity{
		ID:        uuid.NewString(),
		Type:      typ,
		Platform:  string(meeting.Platform),
		MeetingID: meeting.ID,
		At:        time.Now(),
		Detail:    detail,
	})
	if err != nil {
		w.logger.Warn("append bot activity", "type", typ, "error", err)
	}
}

func (w *Watcher) broadcast(ev hub.Event) {
	if w.hub != nil {
		w.hub.Broadcast(ev)
	}
}

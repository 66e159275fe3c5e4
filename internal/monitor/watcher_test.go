package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/internal/bot"
	"github.com/meetscribe/meetscribe/internal/hub"
	"github.com/meetscribe/meetscribe/internal/presence"
	"github.com/meetscribe/meetscribe/internal/state"
	"github.com/meetscribe/meetscribe/pkg/browser"
	browsermock "github.com/meetscribe/meetscribe/pkg/browser/mock"
)

type fakeStarter struct {
	mu     sync.Mutex
	starts []presence.Meeting
	exits  []presence.Meeting
	err    error
}

func (s *fakeStarter) StartAuto(_ context.Context, m presence.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.starts = append(s.starts, m)
	return nil
}

func (s *fakeStarter) HandleMeetingExit(_ context.Context, m presence.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, m)
}

func (s *fakeStarter) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts)
}

func (s *fakeStarter) exitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exits)
}

type recordingHub struct {
	mu     sync.Mutex
	events []hub.Event
}

func (h *recordingHub) Broadcast(ev hub.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) byType(typ string) []hub.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hub.Event
	for _, ev := range h.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newWatcher(t *testing.T, platform browser.Platform, bots bot.Store, starter Starter, h Broadcaster) *Watcher {
	t.Helper()
	w, err := New(Config{
		Platform:        platform,
		Bots:            bots,
		State:           state.NewMemStore(),
		Hub:             h,
		Starter:         starter,
		PollInterval:    10 * time.Millisecond,
		AutoRecordGrace: 30 * time.Millisecond,
		ScheduleTick:    10 * time.Millisecond,
		NotifyWindow:    2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func enabledBots(t *testing.T, autoRecord bool, platforms ...string) bot.Store {
	t.Helper()
	bots := bot.NewMemStore()
	cfg := bot.DefaultConfig()
	cfg.Enabled = true
	cfg.AutoRecord = autoRecord
	cfg.Platforms = platforms
	if err := bots.SaveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	return bots
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherAutoRecordsAfterGrace(t *testing.T) {
	t.Parallel()

	platform := browsermock.New()
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/abc-defg-hij"})
	platform.SetDOM("tab-1", "video", true)

	bots := enabledBots(t, true)
	starter := &fakeStarter{}
	h := &recordingHub{}
	w := newWatcher(t, platform, bots, starter, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, func() bool { return starter.startCount() == 1 })
	if starter.starts[0].ID != "abc-defg-hij" {
		t.Errorf("auto-started meeting = %q", starter.starts[0].ID)
	}

	// Staying present must not start a second recording.
	time.Sleep(100 * time.Millisecond)
	if got := starter.startCount(); got != 1 {
		t.Errorf("StartAuto called %d times, want 1", got)
	}

	if got := len(h.byType("meeting.detected")); got != 1 {
		t.Errorf("meeting.detected broadcast %d times, want 1", got)
	}

	acts, _ := bots.Activities(context.Background())
	var types []bot.ActivityType
	for _, a := range acts {
		types = append(types, a.Type)
	}
	found := map[bot.ActivityType]bool{}
	for _, typ := range types {
		found[typ] = true
	}
	if !found[bot.ActivityDetected] || !found[bot.ActivityRecording] {
		t.Errorf("activity log %v missing detected/recording entries", types)
	}
}

func TestWatcherNoAutoRecordWhenDisabled(t *testing.T) {
	t.Parallel()

	platform := browsermock.New()
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/abc-defg-hij"})
	platform.SetDOM("tab-1", "video", true)

	bots := enabledBots(t, false)
	starter := &fakeStarter{}
	w := newWatcher(t, platform, bots, starter, &recordingHub{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(150 * time.Millisecond)
	if got := starter.startCount(); got != 0 {
		t.Errorf("StartAuto called %d times with auto_record off, want 0", got)
	}
}

func TestWatcherRespectsPlatformFilter(t *testing.T) {
	t.Parallel()

	platform := browsermock.New()
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/abc-defg-hij"})
	platform.SetDOM("tab-1", "video", true)

	bots := enabledBots(t, true, "zoom")
	starter := &fakeStarter{}
	w := newWatcher(t, platform, bots, starter, &recordingHub{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(150 * time.Millisecond)
	if got := starter.startCount(); got != 0 {
		t.Errorf("StartAuto called %d times for filtered platform, want 0", got)
	}
}

func TestWatcherHandlesMeetingExit(t *testing.T) {
	t.Parallel()

	platform := browsermock.New()
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/abc-defg-hij"})
	platform.SetDOM("tab-1", "video", true)

	bots := enabledBots(t, false)
	starter := &fakeStarter{}
	h := &recordingHub{}
	w := newWatcher(t, platform, bots, starter, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, func() bool { return len(h.byType("meeting.detected")) == 1 })

	// Tab navigates away from the meeting.
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/"})

	waitFor(t, func() bool { return starter.exitCount() == 1 })
	if got := len(h.byType("meeting.ended")); got != 1 {
		t.Errorf("meeting.ended broadcast %d times, want 1", got)
	}
}

func TestWatcherNotificationsOffStillLogsActivity(t *testing.T) {
	t.Parallel()

	platform := browsermock.New()
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/abc-defg-hij"})
	platform.SetDOM("tab-1", "video", true)

	bots := bot.NewMemStore()
	cfg := bot.DefaultConfig()
	cfg.Enabled = true
	cfg.Notifications = false
	if err := bots.SaveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	h := &recordingHub{}
	w := newWatcher(t, platform, bots, &fakeStarter{}, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, func() bool {
		acts, _ := bots.Activities(context.Background())
		return len(acts) == 1
	})
	if got := len(h.byType("meeting.detected")); got != 0 {
		t.Errorf("meeting.detected broadcast %d times with notifications off, want 0", got)
	}
}

func TestWatcherGraceFiresBeforeNextPoll(t *testing.T) {
	t.Parallel()

	platform := browsermock.New()
	platform.SetTabs(browser.Tab{ID: "tab-1", URL: "https://meet.google.com/abc-defg-hij"})
	platform.SetDOM("tab-1", "video", true)

	starter := &fakeStarter{}
	w, err := New(Config{
		Platform:        platform,
		Bots:            enabledBots(t, true),
		State:           state.NewMemStore(),
		Hub:             &recordingHub{},
		Starter:         starter,
		PollInterval:    5 * time.Second,
		AutoRecordGrace: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// With a 5s poll the recording must still start right after the
	// grace elapses, not at the next scan.
	begun := time.Now()
	waitFor(t, func() bool { return starter.startCount() == 1 })
	if elapsed := time.Since(begun); elapsed > time.Second {
		t.Errorf("auto-record took %s after a 50ms grace", elapsed)
	}
}

func TestScheduleReminderFiresOnce(t *testing.T) {
	t.Parallel()

	bots := bot.NewMemStore()
	start := time.Now().Add(time.Minute)
	err := bots.AddSchedule(context.Background(), bot.ScheduledMeeting{
		ID:       "sched-1",
		Title:    "Weekly sync",
		Platform: "google-meet",
		URL:      "https://meet.google.com/abc-defg-hij",
		StartAt:  start,
	})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	h := &recordingHub{}
	w := newWatcher(t, browsermock.New(), bots, &fakeStarter{}, h)

	now := time.Now()
	w.checkSchedules(context.Background(), now)
	w.checkSchedules(context.Background(), now.Add(10*time.Second))
	w.checkSchedules(context.Background(), now.Add(30*time.Second))

	if got := len(h.byType("schedule.reminder")); got != 1 {
		t.Errorf("reminder fired %d times, want exactly 1", got)
	}
}

func TestScheduleReminderOutsideWindow(t *testing.T) {
	t.Parallel()

	bots := bot.NewMemStore()
	ctx := context.Background()

	// One meeting too far out, one already started.
	bots.AddSchedule(ctx, bot.ScheduledMeeting{ID: "far", StartAt: time.Now().Add(time.Hour)})
	bots.AddSchedule(ctx, bot.ScheduledMeeting{ID: "past", StartAt: time.Now().Add(-time.Minute)})

	h := &recordingHub{}
	w := newWatcher(t, browsermock.New(), bots, &fakeStarter{}, h)

	w.checkSchedules(ctx, time.Now())
	if got := len(h.byType("schedule.reminder")); got != 0 {
		t.Errorf("reminder fired %d times outside window, want 0", got)
	}
}

func TestScheduleReminderNotificationsOff(t *testing.T) {
	t.Parallel()

	bots := bot.NewMemStore()
	ctx := context.Background()
	bots.AddSchedule(ctx, bot.ScheduledMeeting{
		ID:      "sched-1",
		Title:   "Weekly sync",
		StartAt: time.Now().Add(time.Minute),
	})
	cfg := bot.DefaultConfig()
	cfg.Notifications = false
	if err := bots.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	h := &recordingHub{}
	w := newWatcher(t, browsermock.New(), bots, &fakeStarter{}, h)

	w.checkSchedules(ctx, time.Now())
	if got := len(h.byType("schedule.reminder")); got != 0 {
		t.Errorf("reminder fired %d times with notifications off, want 0", got)
	}

	// Turning notifications back on inside the window still reminds:
	// the skip above must not consume the dedup mark.
	cfg.Notifications = true
	if err := bots.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	w.checkSchedules(ctx, time.Now())
	if got := len(h.byType("schedule.reminder")); got != 1 {
		t.Errorf("reminder fired %d times after re-enabling, want 1", got)
	}
}

func TestScheduleRecurringUsesNextOccurrence(t *testing.T) {
	t.Parallel()

	bots := bot.NewMemStore()
	ctx := context.Background()

	// A daily standup whose original start was a week ago; today's
	// occurrence begins in 90 seconds.
	now := time.Now()
	bots.AddSchedule(ctx, bot.ScheduledMeeting{
		ID:        "standup",
		Title:     "Daily standup",
		StartAt:   now.Add(90 * time.Second).AddDate(0, 0, -7),
		Recurring: true,
		Frequency: bot.FrequencyDaily,
	})

	h := &recordingHub{}
	w := newWatcher(t, browsermock.New(), bots, &fakeStarter{}, h)

	w.checkSchedules(ctx, now)
	if got := len(h.byType("schedule.reminder")); got != 1 {
		t.Errorf("recurring reminder fired %d times, want 1", got)
	}
}

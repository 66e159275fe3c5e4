package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/bot"
	"github.com/meetscribe/meetscribe/internal/history"
	"github.com/meetscribe/meetscribe/internal/hub"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/pipeline"
	"github.com/meetscribe/meetscribe/internal/presence"
	"github.com/meetscribe/meetscribe/internal/state"
	"github.com/meetscribe/meetscribe/pkg/browser"
	"github.com/meetscribe/meetscribe/pkg/capture"
)

var (
	// ErrAlreadyRecording is returned by Start when a session is running.
	ErrAlreadyRecording = errors.New("app: recording already in progress")

	// ErrNotRecording is returned by session operations outside a session.
	ErrNotRecording = errors.New("app: no recording in progress")
)

// SessionState is the coordinator's lifecycle position.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateRecording  SessionState = "recording"
	StatePaused     SessionState = "paused"
	StateStopping   SessionState = "stopping"
	StateProcessing SessionState = "processing"
)

// sessionKeys are the state-store keys cleared when a session ends.
var sessionKeys = []string{
	state.KeyRecording,
	state.KeyPaused,
	state.KeyStartedAt,
	state.KeyElapsed,
	state.KeyMeeting,
	state.KeyTranscript,
	state.KeySummary,
	state.KeyRecorderWindow,
}

// Processor turns a finished capture into a stored recording.
type Processor interface {
	Process(ctx context.Context, c pipeline.Capture) (*history.Recording, error)
}

// Engine starts capture sessions.
type Engine interface {
	Start(ctx context.Context, mode capture.Mode) (*capture.Session, error)
}

// Broadcaster publishes events to connected UI surfaces.
type Broadcaster interface {
	Broadcast(ev hub.Event)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Engine    Engine
	Processor Processor
	State     state.Store
	Browser   browser.Platform // optional; enables the recorder window
	Hub       Broadcaster      // optional
	Bots      bot.Store        // optional; processing honors its stage toggles

	// RecorderURL is the page opened in the recorder window on start.
	RecorderURL string

	// Mode selects what sessions capture. Defaults to audio.
	Mode capture.Mode

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Coordinator owns the single recording session. At most one session is
// active at a time; the state store's compare-and-set on KeyRecording
// enforces this even across multiple daemon instances sharing Redis.
type Coordinator struct {
	engine    Engine
	processor Processor
	state     state.Store
	browser   browser.Platform
	hub       Broadcaster
	bots      bot.Store

	recorderURL string
	mode        capture.Mode
	logger      *slog.Logger
	metrics     *observe.Metrics

	mu          chan struct{} // acquired by lock(), capacity 1
	st          SessionState
	session     *capture.Session
	meeting     presence.Meeting
	title       string
	startedAt   time.Time
	recorderWin browser.WindowID
	watchStop   chan struct{}
}

// NewCoordinator creates a Coordinator from cfg.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("app: capture engine is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("app: processor is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("app: state store is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = capture.ModeAudio
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	c := &Coordinator{
		engine:      cfg.Engine,
		processor:   cfg.Processor,
		state:       cfg.State,
		browser:     cfg.Browser,
		hub:         cfg.Hub,
		bots:        cfg.Bots,
		recorderURL: cfg.RecorderURL,
		mode:        cfg.Mode,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		mu:          make(chan struct{}, 1),
		st:          StateIdle,
	}
	return c, nil
}

func (c *Coordinator) lock()   { c.mu <- struct{}{} }
func (c *Coordinator) unlock() { <-c.mu }

// State returns the current lifecycle position.
func (c *Coordinator) State() SessionState {
	c.lock()
	defer c.unlock()
	return c.st
}

// Meeting returns the meeting of the active session, if any.
func (c *Coordinator) Meeting() (presence.Meeting, bool) {
	c.lock()
	defer c.unlock()
	if c.st == StateIdle {
		return presence.Meeting{}, false
	}
	return c.meeting, true
}

// Start begins recording meeting. Manual starts pass the user's title;
// auto starts pass an empty one. Returns ErrAlreadyRecording when a
// session is already running here or in another daemon instance.
func (c *Coordinator) Start(ctx context.Context, meeting presence.Meeting, title string) error {
	c.lock()
	if c.st != StateIdle {
		c.unlock()
		return ErrAlreadyRecording
	}
	c.st = StateStopping // placeholder so concurrent Start fails fast
	c.unlock()

	rollbackState := func() {
		c.lock()
		c.st = StateIdle
		c.unlock()
	}

	// Cross-instance guard.
	won, err := c.state.SetIfAbsent(ctx, state.KeyRecording, "1")
	if err != nil {
		rollbackState()
		return fmt.Errorf("app: claim recording flag: %w", err)
	}
	if !won {
		rollbackState()
		return ErrAlreadyRecording
	}

	session, err := c.engine.Start(ctx, c.mode)
	if err != nil {
		c.state.Delete(ctx, state.KeyRecording)
		rollbackState()
		return fmt.Errorf("app: start capture: %w", err)
	}

	win := c.openRecorderWindow(ctx)

	now := time.Now()
	c.persistSessionState(ctx, meeting, now, win)

	c.lock()
	c.st = StateRecording
	c.session = session
	c.meeting = meeting
	c.title = title
	c.startedAt = now
	c.recorderWin = win
	c.watchStop = make(chan struct{})
	watchStop := c.watchStop
	c.unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	c.logger.Info("recording started",
		"platform", meeting.Platform, "meeting", meeting.ID, "source", session.Source())
	c.broadcastStatus()
	c.setBadge("red")

	go c.watch(session, watchStop)
	return nil
}

// StartAuto begins an automatic recording of meeting. It implements the
// watcher's Starter interface.
func (c *Coordinator) StartAuto(ctx context.Context, meeting presence.Meeting) error {
	return c.Start(ctx, meeting, "")
}

// HandleMeetingExit stops the session when the exited meeting is the one
// being recorded.
func (c *Coordinator) HandleMeetingExit(ctx context.Context, meeting presence.Meeting) {
	c.lock()
	recording := (c.st == StateRecording || c.st == StatePaused) && c.meeting.Key() == meeting.Key()
	c.unlock()
	if !recording {
		return
	}

	c.logger.Info("meeting ended while recording, stopping", "meeting", meeting.ID)
	if _, err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		c.logger.Warn("stop after meeting exit", "error", err)
	}
}

// Pause suspends audio accumulation.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.lock()
	if c.st != StateRecording {
		c.unlock()
		return ErrNotRecording
	}
	session := c.session
	c.st = StatePaused
	c.unlock()

	if err := session.Pause(); err != nil {
		return fmt.Errorf("app: pause capture: %w", err)
	}
	c.state.Set(ctx, state.KeyPaused, "1")
	c.broadcastStatus()
	c.setBadge("amber")
	return nil
}

// Resume continues a paused session.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.lock()
	if c.st != StatePaused {
		c.unlock()
		return ErrNotRecording
	}
	session := c.session
	c.st = StateRecording
	c.unlock()

	if err := session.Resume(); err != nil {
		return fmt.Errorf("app: resume capture: %w", err)
	}
	c.state.Delete(ctx, state.KeyPaused)
	c.broadcastStatus()
	c.setBadge("red")
	return nil
}

// SwitchToMicrophone swaps the active session to microphone input.
func (c *Coordinator) SwitchToMicrophone(ctx context.Context) error {
	c.lock()
	if c.st != StateRecording && c.st != StatePaused {
		c.unlock()
		return ErrNotRecording
	}
	session := c.session
	c.unlock()

	if err := session.SwitchToMicrophone(ctx); err != nil {
		return err
	}
	c.broadcastStatus()
	return nil
}

// Stop ends the session and runs the processing pipeline. Returns the
// stored recording, or nil with capture.ErrNoAudio / pipeline.ErrNoSpeech
// for the empty outcomes.
func (c *Coordinator) Stop(ctx context.Context) (*history.Recording, error) {
	c.lock()
	if c.st != StateRecording && c.st != StatePaused {
		c.unlock()
		return nil, ErrNotRecording
	}
	c.st = StateStopping
	session := c.session
	meeting := c.meeting
	title := c.title
	startedAt := c.startedAt
	win := c.recorderWin
	close(c.watchStop)
	c.unlock()

	c.broadcastStatus()
	defer c.finish(ctx)

	audio, stopErr := session.Stop(ctx)
	duration := session.Duration()
	c.closeRecorderWindow(ctx, win)

	if stopErr != nil {
		if errors.Is(stopErr, capture.ErrNoAudio) {
			c.logger.Info("recording stopped with no audio")
			c.metrics.RecordRecording(ctx, string(meeting.Platform), "no_speech", 0)
			c.broadcast(hub.Event{Type: "recording.empty"})
			return nil, stopErr
		}
		return nil, fmt.Errorf("app: stop capture: %w", stopErr)
	}

	c.lock()
	c.st = StateProcessing
	c.unlock()
	c.broadcastStatus()

	pc := pipeline.Capture{
		Audio:       audio,
		ContentType: session.ContentType(),
		Filename:    "recording." + session.Ext(),
		Meeting:     meeting,
		Title:       title,
		StartedAt:   startedAt,
		Duration:    duration,
	}
	c.applyStageToggles(ctx, &pc)

	rec, err := c.processor.Process(ctx, pc)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoSpeech) {
			c.broadcast(hub.Event{Type: "recording.no_speech"})
			return nil, err
		}
		c.broadcast(hub.Event{Type: "recording.failed", Payload: err.Error()})
		return nil, err
	}

	c.broadcast(hub.Event{Type: "recording.completed", Payload: rec})
	return rec, nil
}

// applyStageToggles turns processing stages off per the bot configuration.
// The toggles only apply while the bot is enabled; with the bot off,
// recordings always get the full pipeline.
func (c *Coordinator) applyStageToggles(ctx context.Context, pc *pipeline.Capture) {
	if c.bots == nil {
		return
	}
	cfg, err := c.bots.Config(ctx)
	if err != nil {
		c.logger.Warn("load bot config", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}
	pc.SkipTranscription = !cfg.AutoTranscribe
	pc.SkipSummary = !cfg.AutoSummarize
}

// finish returns the coordinator to idle and clears persisted state.
func (c *Coordinator) finish(ctx context.Context) {
	c.lock()
	c.st = StateIdle
	c.session = nil
	c.meeting = presence.Meeting{}
	c.title = ""
	c.recorderWin = ""
	c.unlock()

	if err := c.state.Delete(ctx, sessionKeys...); err != nil {
		c.logger.Warn("clear session state", "error", err)
	}
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.broadcastStatus()
	c.setBadge("")
}

// watch stops the session when its capture source ends (for example the
// user revoked the screen share) and keeps the elapsed counter fresh.
func (c *Coordinator) watch(session *capture.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-session.Done():
			c.lock()
			active := c.session == session && (c.st == StateRecording || c.st == StatePaused)
			c.unlock()
			if active {
				c.logger.Info("capture source ended, stopping session")
				if _, err := c.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotRecording) {
					c.logger.Warn("stop after source end", "error", err)
				}
			}
			return
		case <-ticker.C:
			secs := int(session.Duration().Seconds())
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.state.Set(ctx, state.KeyElapsed, strconv.Itoa(secs))
			cancel()
			c.broadcast(hub.Event{Type: "session.elapsed", Payload: secs})
		}
	}
}

// RecoverStale detects a recording flag left behind by a crashed daemon,
// stores an interrupted-recording marker in history and clears the
// session keys so new recordings can start.
func (c *Coordinator) RecoverStale(ctx context.Context, store history.Store) error {
	if _, found, err := c.state.Get(ctx, state.KeyRecording); err != nil || !found {
		return err
	}

	rec := history.Recording{
		ID:    uuid.NewString(),
		Title: "Interrupted recording",
	}
	if raw, found, _ := c.state.Get(ctx, state.KeyMeeting); found {
		var meeting presence.Meeting
		if json.Unmarshal([]byte(raw), &meeting) == nil {
			rec.Platform = string(meeting.Platform)
			rec.MeetingID = meeting.ID
		}
	}
	if raw, found, _ := c.state.Get(ctx, state.KeyStartedAt); found {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.StartedAt = t
		}
	}
	if raw, found, _ := c.state.Get(ctx, state.KeyElapsed); found {
		if secs, err := strconv.Atoi(raw); err == nil {
			rec.Duration = time.Duration(secs) * time.Second
		}
	}
	rec.SearchText = history.BuildSearchText(rec)

	c.logger.Warn("recovering interrupted recording",
		"platform", rec.Platform, "meeting", rec.MeetingID, "duration", rec.Duration)
	if store != nil {
		if err := store.Append(ctx, rec); err != nil {
			c.logger.Warn("store interrupted recording", "error", err)
		}
	}
	return c.state.Delete(ctx, sessionKeys...)
}

// persistSessionState writes the session keys for crash recovery and for
// UI surfaces that read state directly.
func (c *Coordinator) persistSessionState(ctx context.Context, meeting presence.Meeting, startedAt time.Time, win browser.WindowID) {
	c.state.Set(ctx, state.KeyStartedAt, startedAt.Format(time.RFC3339))
	if data, err := json.Marshal(meeting); err == nil {
		c.state.Set(ctx, state.KeyMeeting, string(data))
	}
	if win != "" {
		c.state.Set(ctx, state.KeyRecorderWindow, string(win))
	}
}

// openRecorderWindow opens (or leaves absent) the recorder page window.
func (c *Coordinator) openRecorderWindow(ctx context.Context) browser.WindowID {
	if c.browser == nil || c.recorderURL == "" {
		return ""
	}
	win, err := c.browser.OpenWindow(ctx, c.recorderURL)
	if err != nil {
		c.logger.Warn("open recorder window", "error", err)
		return ""
	}
	if err := c.browser.FocusWindow(ctx, win); err != nil {
		c.logger.Warn("focus recorder window", "error", err)
	}
	return win
}

func (c *Coordinator) closeRecorderWindow(ctx context.Context, win browser.WindowID) {
	if c.browser == nil || win == "" {
		return
	}
	if err := c.browser.CloseWindow(ctx, win); err != nil {
		c.logger.Warn("close recorder window", "error", err)
	}
}

// Status is the session snapshot broadcast to UI surfaces.
type Status struct {
	State     SessionState       `json:"state"`
	Platform  presence.Platform  `json:"platform,omitempty"`
	MeetingID string             `json:"meetingId,omitempty"`
	StartedAt *time.Time         `json:"startedAt,omitempty"`
	Source    capture.SourceKind `json:"source,omitempty"`
}

// CurrentStatus returns the session snapshot.
func (c *Coordinator) CurrentStatus() Status {
	c.lock()
	defer c.unlock()
	s := Status{State: c.st}
	if c.st != StateIdle {
		s.Platform = c.meeting.Platform
		s.MeetingID = c.meeting.ID
		t := c.startedAt
		s.StartedAt = &t
		if c.session != nil {
			s.Source = c.session.Source()
		}
	}
	return s
}

func (c *Coordinator) broadcastStatus() {
	c.broadcast(hub.Event{Type: "session.status", Payload: c.CurrentStatus()})
}

// setBadge publishes the toolbar badge state: "red" while recording,
// "amber" while paused, empty to clear.
func (c *Coordinator) setBadge(color string) {
	text := ""
	switch color {
	case "red":
		text = "REC"
	case "amber":
		text = "II"
	}
	c.broadcast(hub.Event{Type: "badge", Payload: map[string]string{
		"color": color,
		"text":  text,
	}})
}

func (c *Coordinator) broadcast(ev hub.Event) {
	if c.hub != nil {
		c.hub.Broadcast(ev)
	}
}

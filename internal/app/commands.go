package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/bot"
	"github.com/meetscribe/meetscribe/internal/export"
	"github.com/meetscribe/meetscribe/internal/history"
	"github.com/meetscribe/meetscribe/internal/hub"
	"github.com/meetscribe/meetscribe/internal/pipeline"
	"github.com/meetscribe/meetscribe/internal/presence"
	"github.com/meetscribe/meetscribe/pkg/capture"
)

// Commands routes hub commands to the coordinator and the stores.
type Commands struct {
	coordinator *Coordinator
	history     history.Store
	bots        bot.Store

	// ExportFormat is the default history.export format.
	exportFormat string

	logger *slog.Logger
}

// NewCommands creates the command router.
func NewCommands(c *Coordinator, hist history.Store, bots bot.Store, exportFormat string, logger *slog.Logger) *Commands {
	if exportFormat == "" {
		exportFormat = export.FormatMarkdown
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Commands{
		coordinator:  c,
		history:      hist,
		bots:         bots,
		exportFormat: exportFormat,
		logger:       logger,
	}
}

// Handle implements hub.CommandHandler.
func (c *Commands) Handle(ctx context.Context, cmd hub.Command, reply func(hub.Event)) {
	result, err := c.dispatch(ctx, cmd)
	if err != nil {
		c.logger.Warn("command failed", "type", cmd.Type, "error", err)
		reply(hub.Event{Type: "error", Payload: map[string]string{
			"command": cmd.Type,
			"message": err.Error(),
		}})
		return
	}
	reply(hub.Event{Type: cmd.Type + ".result", Payload: result})
}

func (c *Commands) dispatch(ctx context.Context, cmd hub.Command) (any, error) {
	switch cmd.Type {
	case "session.start":
		return c.sessionStart(ctx, cmd.Payload)
	case "session.stop":
		return c.sessionStop(ctx)
	case "session.pause":
		return okResult(c.coordinator.Pause(ctx))
	case "session.resume":
		return okResult(c.coordinator.Resume(ctx))
	case "session.switch_mic":
		return okResult(c.coordinator.SwitchToMicrophone(ctx))
	case "session.status":
		return c.coordinator.CurrentStatus(), nil

	case "history.list":
		return c.history.List(ctx)
	case "history.get":
		return c.historyGet(ctx, cmd.Payload)
	case "history.search":
		return c.historySearch(ctx, cmd.Payload)
	case "history.rename":
		return c.historyRename(ctx, cmd.Payload)
	case "history.delete":
		return c.historyDelete(ctx, cmd.Payload)
	case "history.clear":
		return okResult(c.history.Clear(ctx))
	case "history.export":
		return c.historyExport(ctx, cmd.Payload)

	case "bot.config.get":
		return c.bots.Config(ctx)
	case "bot.config.set":
		return c.botConfigSet(ctx, cmd.Payload)
	case "bot.activities":
		return c.bots.Activities(ctx)

	case "schedule.list":
		return c.bots.Schedules(ctx)
	case "schedule.add":
		return c.scheduleAdd(ctx, cmd.Payload)
	case "schedule.remove":
		return c.scheduleRemove(ctx, cmd.Payload)
	}
	return nil, fmt.Errorf("unknown command %q", cmd.Type)
}

func okResult(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type startPayload struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func (c *Commands) sessionStart(ctx context.Context, payload json.RawMessage) (any, error) {
	var p startPayload
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}

	// Manual starts trust the URL alone; the user is looking at the tab.
	meeting, ok := presence.Detect(p.URL, nil)
	if !ok {
		return nil, fmt.Errorf("no supported meeting at %q", p.URL)
	}
	if err := c.coordinator.Start(ctx, meeting, p.Title); err != nil {
		return nil, err
	}
	return c.coordinator.CurrentStatus(), nil
}

// stopResult reports how the session ended alongside any stored recording.
type stopResult struct {
	Outcome   string             `json:"outcome"` // "completed", "empty" or "no_speech"
	Recording *history.Recording `json:"recording,omitempty"`
}

func (c *Commands) sessionStop(ctx context.Context) (any, error) {
	rec, err := c.coordinator.Stop(ctx)
	switch {
	case err == nil:
		return stopResult{Outcome: "completed", Recording: rec}, nil
	case errors.Is(err, capture.ErrNoAudio):
		return stopResult{Outcome: "empty"}, nil
	case errors.Is(err, pipeline.ErrNoSpeech):
		return stopResult{Outcome: "no_speech"}, nil
	default:
		return nil, err
	}
}

type idPayload struct {
	ID string `json:"id"`
}

func (c *Commands) historyGet(ctx context.Context, payload json.RawMessage) (any, error) {
	var p idPayload
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return c.history.Get(ctx, p.ID)
}

func (c *Commands) historySearch(ctx context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return c.history.Search(ctx, p.Query)
}

func (c *Commands) historyRename(ctx context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return c.history.UpdateTitle(ctx, p.ID, p.Title)
}

func (c *Commands) historyDelete(ctx context.Context, payload json.RawMessage) (any, error) {
	var p idPayload
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return okResult(c.history.Delete(ctx, p.ID))
}

// exportResult carries a rendered document back to the client, which
// saves it as a download.
type exportResult struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

func (c *Commands) historyExport(ctx context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		ID     string `json:"id"`
		Format string `json:"format,omitempty"`
	}
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if p.Format == "" {
		p.Format = c.exportFormat
	}

	rec, err := c.history.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	data, ext, err := export.Render(rec, p.Format)
	if err != nil {
		return nil, err
	}

	name := rec.Title
	if name == "" {
		name = "recording-" + rec.ID
	}
	contentType := "text/markdown"
	if ext == "json" {
		contentType = "application/json"
	}
	return exportResult{
		Filename:    fmt.Sprintf("%s.%s", name, ext),
		ContentType: contentType,
		Content:     string(data),
	}, nil
}

func (c *Commands) botConfigSet(ctx context.Context, payload json.RawMessage) (any, error) {
	// Decode over the stored config so fields the client omits keep
	// their current values.
	cfg, err := c.bots.Config(ctx)
	if err != nil {
		return nil, err
	}
	if err := unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	for _, p := range cfg.Platforms {
		if !presence.KnownPlatform(presence.Platform(p)) {
			return nil, fmt.Errorf("unknown platform %q", p)
		}
	}
	if err := c.bots.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Commands) scheduleAdd(ctx context.Context, payload json.RawMessage) (any, error) {
	var m bot.ScheduledMeeting
	if err := unmarshal(payload, &m); err != nil {
		return nil, err
	}
	if m.Title == "" {
		return nil, fmt.Errorf("schedule title is required")
	}
	if m.StartAt.IsZero() {
		return nil, fmt.Errorf("schedule start time is required")
	}
	if m.StartAt.Before(time.Now()) && !m.Recurring {
		return nil, fmt.Errorf("schedule start time is in the past")
	}
	if m.Recurring {
		switch m.Frequency {
		case bot.FrequencyDaily, bot.FrequencyWeekly, bot.FrequencyMonthly:
		default:
			return nil, fmt.Errorf("unknown frequency %q", m.Frequency)
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := c.bots.AddSchedule(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Commands) scheduleRemove(ctx context.Context, payload json.RawMessage) (any, error) {
	var p idPayload
	if err := unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return okResult(c.bots.RemoveSchedule(ctx, p.ID))
}

func unmarshal(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	return nil
}

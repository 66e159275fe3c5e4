// Package bot holds the meeting-bot configuration, the scheduled-meeting
// list, and the bot activity log.
//
// The bot is the automation layer on top of the monitoring loop: when
// enabled it auto-starts recordings for detected meetings on the platforms
// it is allowed to watch, and surfaces reminders for scheduled meetings.
package bot

import (
	"context"
	"errors"
	"time"
)

// ActivityCapacity bounds the activity log; the oldest entry is evicted
// when a new one would exceed it.
const ActivityCapacity = 50

// ErrNotFound is returned when no scheduled meeting exists for an ID.
var ErrNotFound = errors.New("bot: scheduled meeting not found")

// Config controls the bot's automation behaviour. Persisted so it
// survives restarts.
type Config struct {
	// Enabled switches all bot behaviour on or off.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// AutoRecord starts a recording automatically once a detected meeting
	// survives the detection grace period.
	AutoRecord bool `json:"auto_record" yaml:"auto_record"`

	// Notifications gates the meeting-detected, meeting-ended and
	// schedule-reminder broadcasts to UI surfaces.
	Notifications bool `json:"notifications" yaml:"notifications"`

	// AutoTranscribe runs the transcription stage on finished recordings.
	// Off stores the bare recording metadata, without transcript, summary
	// or provider cost.
	AutoTranscribe bool `json:"auto_transcribe" yaml:"auto_transcribe"`

	// AutoSummarize runs the summary stage after transcription.
	AutoSummarize bool `json:"auto_summarize" yaml:"auto_summarize"`

	// Platforms lists the meeting platforms the bot watches. Empty means
	// all supported platforms.
	Platforms []string `json:"platforms" yaml:"platforms"`
}

// DefaultConfig is the configuration in effect before one is saved:
// automation off, notifications and both processing stages on.
func DefaultConfig() Config {
	return Config{Notifications: true, AutoTranscribe: true, AutoSummarize: true}
}

// WatchesPlatform reports whether the bot watches the given platform.
func (c Config) WatchesPlatform(platform string) bool {
	if len(c.Platforms) == 0 {
		return true
	}
	for _, p := range c.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Frequency is the recurrence interval of a scheduled meeting.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduledMeeting is a user-registered upcoming meeting the bot reminds
// about shortly before it starts.
type ScheduledMeeting struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Platform string    `json:"platform"`
	URL      string    `json:"url"`
	StartAt  time.Time `json:"start_at"`

	// Recurring meetings fire a reminder on every occurrence; the
	// occurrence date keeps the per-day dedup key distinct.
	Recurring bool      `json:"recurring"`
	Frequency Frequency `json:"frequency,omitempty"`
}

// NextOccurrence returns the first occurrence of m at or after now.
// For non-recurring meetings this is StartAt regardless of now.
func (m ScheduledMeeting) NextOccurrence(now time.Time) time.Time {
	if !m.Recurring || !m.StartAt.Before(now) {
		return m.StartAt
	}
	next := m.StartAt
	for next.Before(now) {
		switch m.Frequency {
		case FrequencyDaily:
			next = next.AddDate(0, 0, 1)
		case FrequencyWeekly:
			next = next.AddDate(0, 0, 7)
		case FrequencyMonthly:
			next = next.AddDate(0, 1, 0)
		default:
			return m.StartAt
		}
	}
	return next
}

// ActivityType classifies a bot activity record.
type ActivityType string

const (
	ActivityDetected  ActivityType = "detected"
	ActivityRecording ActivityType = "recording"
	ActivityEnded     ActivityType = "ended"
)

// Activity is one entry in the bot activity log.
type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Platform  string       `json:"platform"`
	MeetingID string       `json:"meeting_id"`
	At        time.Time    `json:"at"`
	Detail    string       `json:"detail,omitempty"`
}

// Store persists bot configuration, scheduled meetings, and the activity
// log. Implementations must be safe for concurrent use.
type Store interface {
	// Config returns the persisted bot configuration, or [DefaultConfig]
	// when none has been saved yet.
	Config(ctx context.Context) (Config, error)

	// SaveConfig replaces the persisted configuration.
	SaveConfig(ctx context.Context, cfg Config) error

	// AddSchedule registers a scheduled meeting.
	AddSchedule(ctx context.Context, m ScheduledMeeting) error

	// RemoveSchedule deletes a scheduled meeting by ID.
	RemoveSchedule(ctx context.Context, id string) error

	// Schedules returns all scheduled meetings ordered by start time.
	Schedules(ctx context.Context) ([]ScheduledMeeting, error)

	// AppendActivity records a bot activity, evicting the oldest entry
	// beyond [ActivityCapacity].
	AppendActivity(ctx context.Context, a Activity) error

	// Activities returns the activity log, newest first.
	Activities(ctx context.Context) ([]Activity, error)
}

// Package state provides the session-scoped key/value store shared by the
// coordinator, the monitoring loop, and the UI surfaces.
//
// Values are plain strings with last-write-wins semantics; readers must
// re-read rather than cache. The store is volatile by design: its contents
// describe the current browser session only and are cleared on restart.
package state

import "context"

// Well-known keys. Readers treat a missing key as the zero state.
const (
	// KeyRecording is set to "1" while a recording session exists in any
	// non-idle state. It doubles as the compare-and-set guard for the
	// start race between manual and bot-initiated starts.
	KeyRecording = "recording"

	// KeyPaused is "1" while the active session is paused.
	KeyPaused = "paused"

	// KeyStartedAt holds the session start time in RFC 3339 format.
	KeyStartedAt = "started_at"

	// KeyElapsed holds the elapsed recording seconds as a decimal string,
	// updated once per second while recording.
	KeyElapsed = "elapsed_seconds"

	// KeyMeeting holds the JSON-encoded meeting the session is attached to.
	KeyMeeting = "meeting"

	// KeyTranscript holds the in-progress transcript JSON while the
	// post-capture pipeline runs.
	KeyTranscript = "transcript"

	// KeySummary holds the in-progress summary JSON.
	KeySummary = "summary"

	// KeyRecorderWindow holds the recorder window ID as a decimal string.
	KeyRecorderWindow = "recorder_window"
)

// NotifiedKey returns the dedup key marking that a reminder for the
// scheduled meeting has been delivered on the given date (YYYY-MM-DD).
// The key lives in session scope, so reminders fire again after a restart
// on a later day but never twice within one session for the same occurrence.
func NotifiedKey(meetingID, date string) string {
	return "notified_" + meetingID + "_" + date
}

// Store is the session-scoped KV abstraction. Implementations must be safe
// for concurrent use. Writes are last-write-wins.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key to value, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// SetIfAbsent writes key to value only when the key is not present.
	// It reports whether the write happened. This is the primitive behind
	// the single-active-session guard.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Clear removes every key in the store.
	Clear(ctx context.Context) error
}

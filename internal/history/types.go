// Package history stores completed recordings.
//
// The store is a bounded list: it keeps at most [Capacity] entries, newest
// first, and evicts the oldest insertion when the cap is exceeded. Each
// entry carries a denormalised lowercase search text so that substring
// search works the same across the in-memory and PostgreSQL backends.
package history

import (
	"strings"
	"time"
)

// Capacity is the maximum number of recordings retained.
const Capacity = 50

// TranscriptEntry is one labelled segment of a transcript.
type TranscriptEntry struct {
	// Speaker is the display label assigned to the segment. Labels are
	// placeholders assigned round-robin, not diarization output.
	Speaker string `json:"speaker"`

	// Text is the transcribed segment text in the detected language.
	Text string `json:"text"`

	// Translation is the baseline-language rendering of Text. Empty when
	// the segment was already in the baseline language or when translation
	// failed for this segment.
	Translation string `json:"translation,omitempty"`

	// Start and End bound the segment within the recording.
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Summary is the structured meeting summary produced by the completion model.
type Summary struct {
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"keyPoints"`
	Decisions []string `json:"decisions"`
	NextSteps []string `json:"nextSteps"`
}

// Cost is the estimated spend for producing one recording's transcript and
// summary.
type Cost struct {
	// TranscriptionUSD is audio minutes times the per-minute rate of the
	// transcription model.
	TranscriptionUSD float64 `json:"transcription_usd"`

	// CompletionUSD covers translation and summary token usage.
	CompletionUSD float64 `json:"completion_usd"`

	// TotalUSD is the sum of the parts.
	TotalUSD float64 `json:"total_usd"`

	// PromptTokens and CompletionTokens aggregate usage across all
	// completion calls made for this recording.
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Recording is one completed recording with its derived artefacts.
type Recording struct {
	// ID is a unique identifier assigned when the recording is persisted.
	ID string `json:"id"`

	// Title is the display title. Defaults to the summary title or a
	// timestamped fallback; editable afterwards via UpdateTitle.
	Title string `json:"title"`

	// Platform and MeetingID identify the meeting the recording captured.
	// Empty for recordings started outside a detected meeting.
	Platform  string `json:"platform,omitempty"`
	MeetingID string `json:"meeting_id,omitempty"`

	// StartedAt is when capture began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the captured audio length.
	Duration time.Duration `json:"duration"`

	// Language is the language detected by the transcription model.
	Language string `json:"language,omitempty"`

	// Transcript holds the labelled segments in order.
	Transcript []TranscriptEntry `json:"transcript"`

	// Summary is nil when summarisation failed or was skipped.
	Summary *Summary `json:"summary,omitempty"`

	// Cost is the estimated spend for this recording.
	Cost Cost `json:"cost"`

	// SearchText is the lowercase haystack used by Search. Derived via
	// [BuildSearchText]; persisted so both backends match identically.
	SearchText string `json:"-"`
}

// BuildSearchText derives the lowercase search haystack for r from its
// title, platform, summary overview and tags, and transcript text.
func BuildSearchText(r Recording) string {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteByte(' ')
	b.WriteString(r.Platform)
	if r.Summary != nil {
		b.WriteByte(' ')
		b.WriteString(r.Summary.Overview)
		for _, tag := range r.Summary.Tags {
			b.WriteByte(' ')
			b.WriteString(tag)
		}
	}
	for _, e := range r.Transcript {
		b.WriteByte(' ')
		b.WriteString(e.Text)
		if e.Translation != "" {
			b.WriteByte(' ')
			b.WriteString(e.Translation)
		}
	}
	return strings.ToLower(b.String())
}

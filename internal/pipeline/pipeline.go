// Package pipeline turns a finished audio capture into a stored history
// record: transcription, speaker attribution, optional translation into
// the baseline language, summary generation, and cost estimation.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/history"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/presence"
	"github.com/meetscribe/meetscribe/pkg/provider/llm"
	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

var (
	// ErrNoAudio indicates the capture produced no audio payload.
	ErrNoAudio = errors.New("pipeline: no audio captured")

	// ErrNoSpeech indicates transcription succeeded but found no speech.
	// No history record is written in that case.
	ErrNoSpeech = errors.New("pipeline: no speech detected")
)

// speakerRotation is the number of placeholder speaker labels cycled
// through when attributing transcript segments.
const speakerRotation = 4

const summaryPrompt = `You are a meeting assistant. Summarize the transcript you are given.
Respond with a JSON object with exactly these keys:
"title" (short descriptive meeting title),
"category" (one of: standup, planning, review, interview, sales, support, general),
"tags" (array of up to 5 lowercase topic strings),
"overview" (2-3 sentence summary),
"keyPoints" (array of the main discussion points),
"decisions" (array of decisions that were made, may be empty),
"nextSteps" (array of agreed follow-up actions, may be empty).`

// Capture is the finished recording handed to the pipeline.
type Capture struct {
	// Audio is the encoded recording payload.
	Audio []byte

	// ContentType is the MIME type of Audio.
	ContentType string

	// Filename is the upload filename, e.g. "recording.wav".
	Filename string

	// Meeting is the meeting this recording belongs to. Zero for manual
	// recordings outside a detected meeting.
	Meeting presence.Meeting

	// Title is an optional user-facing title. When empty the summary
	// title (or a generated fallback) is used.
	Title string

	// StartedAt is when recording began.
	StartedAt time.Time

	// Duration is the accumulated audio duration.
	Duration time.Duration

	// SkipTranscription stores the recording metadata without running any
	// provider stage. Set when auto-transcription is turned off in the
	// bot settings.
	SkipTranscription bool

	// SkipSummary stores the transcript without the summary stage.
	SkipSummary bool
}

// Config wires a Pipeline.
type Config struct {
	STT      stt.Provider
	STTName  string // provider name for metrics, e.g. "openai"
	LLM      llm.Provider
	LLMName  string // provider name for metrics
	LLMModel string // model name for cost attribution

	History history.Store

	// BaselineLanguage is the language transcripts are translated into.
	// Defaults to "en".
	BaselineLanguage string

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Pipeline processes finished captures. Safe for concurrent use, though
// the coordinator runs at most one recording at a time.
type Pipeline struct {
	stt      stt.Provider
	sttName  string
	llm      llm.Provider
	llmName  string
	llmModel string
	history  history.Store
	baseline string
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// New creates a Pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.STT == nil {
		return nil, fmt.Errorf("pipeline: STT provider is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("pipeline: LLM provider is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("pipeline: history store is required")
	}
	if cfg.BaselineLanguage == "" {
		cfg.BaselineLanguage = "en"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		stt:      cfg.STT,
		sttName:  cfg.STTName,
		llm:      cfg.LLM,
		llmName:  cfg.LLMName,
		llmModel: cfg.LLMModel,
		history:  cfg.History,
		baseline: langCode(cfg.BaselineLanguage),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Process transcribes, translates and summarizes c, stores the result
// in history and returns the stored record.
//
// Transcription failure aborts processing. Translation and summary
// failures are soft: the record is stored without the failed part.
func (p *Pipeline) Process(ctx context.Context, c Capture) (*history.Recording, error) {
	if len(c.Audio) == 0 {
		return nil, ErrNoAudio
	}

	if c.SkipTranscription {
		return p.storeBare(ctx, c)
	}

	result, err := p.transcribe(ctx, c)
	if err != nil {
		p.metrics.RecordRecording(ctx, string(c.Meeting.Platform), "failed", 0)
		return nil, err
	}

	if strings.TrimSpace(result.Text) == "" {
		p.logger.Info("no speech detected", "duration", c.Duration)
		p.metrics.RecordRecording(ctx, string(c.Meeting.Platform), "no_speech", 0)
		return nil, ErrNoSpeech
	}

	entries := attributeSpeakers(result)

	var usage llm.Usage
	lang := langCode(result.Language)
	if lang != "" && lang != p.baseline {
		usage.Add(p.translate(ctx, entries, lang))
	}

	var summary *history.Summary
	if !c.SkipSummary {
		var summaryUsage llm.Usage
		summary, summaryUsage = p.summarize(ctx, entries)
		usage.Add(summaryUsage)
	}

	duration := result.Duration
	if duration == 0 {
		duration = c.Duration
	}
	cost := estimateCost(duration, p.llmModel, usage)

	rec := history.Recording{
		ID:         uuid.NewString(),
		Title:      recordingTitle(c, summary),
		Platform:   string(c.Meeting.Platform),
		MeetingID:  c.Meeting.ID,
		StartedAt:  c.StartedAt,
		Duration:   duration,
		Language:   lang,
		Transcript: entries,
		Summary:    summary,
		Cost:       cost,
	}
	rec.SearchText = history.BuildSearchText(rec)

	if err := p.history.Append(ctx, rec); err != nil {
		p.metrics.RecordRecording(ctx, rec.Platform, "failed", cost.TotalUSD)
		return nil, fmt.Errorf("pipeline: store recording: %w", err)
	}

	p.metrics.RecordRecording(ctx, rec.Platform, "completed", cost.TotalUSD)
	p.logger.Info("recording processed",
		"id", rec.ID,
		"platform", rec.Platform,
		"duration", duration,
		"segments", len(entries),
		"cost_usd", cost.TotalUSD)
	return &rec, nil
}

// storeBare records a capture whose processing stages are turned off:
// metadata only, no transcript, no summary, zero cost.
func (p *Pipeline) storeBare(ctx context.Context, c Capture) (*history.Recording, error) {
	rec := history.Recording{
		ID:        uuid.NewString(),
		Title:     recordingTitle(c, nil),
		Platform:  string(c.Meeting.Platform),
		MeetingID: c.Meeting.ID,
		StartedAt: c.StartedAt,
		Duration:  c.Duration,
	}
	rec.SearchText = history.BuildSearchText(rec)

	if err := p.history.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("pipeline: store recording: %w", err)
	}
	p.metrics.RecordRecording(ctx, rec.Platform, "completed", 0)
	p.logger.Info("recording stored without transcription", "id", rec.ID, "duration", c.Duration)
	return &rec, nil
}

// transcribe runs the STT call with metrics around it.
func (p *Pipeline) transcribe(ctx context.Context, c Capture) (*stt.Result, error) {
	start := time.Now()
	result, err := p.stt.Transcribe(ctx, c.Audio, stt.Options{
		Filename:    c.Filename,
		ContentType: c.ContentType,
	})
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, p.sttName, "stt")
		return nil, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "ok")
	return result, nil
}

// attributeSpeakers converts STT segments into transcript entries with
// rotating placeholder speaker labels. Proper diarization would replace
// this wholesale.
func attributeSpeakers(result *stt.Result) []history.TranscriptEntry {
	segments := result.Segments
	if len(segments) == 0 {
		segments = []stt.Segment{{Text: result.Text, End: result.Duration}}
	}

	entries := make([]history.TranscriptEntry, 0, len(segments))
	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		entries = append(entries, history.TranscriptEntry{
			Speaker: fmt.Sprintf("Speaker %d", i%speakerRotation+1),
			Text:    text,
			Start:   seg.Start,
			End:     seg.End,
		})
	}
	return entries
}

// translate fills in the Translation field of each entry. Failures leave
// the affected entry untranslated.
func (p *Pipeline) translate(ctx context.Context, entries []history.TranscriptEntry, from string) llm.Usage {
	var usage llm.Usage
	prompt := fmt.Sprintf(
		"Translate the following %s text into %s. Respond with only the translation.",
		langName(from), langName(p.baseline))

	for i := range entries {
		start := time.Now()
		resp, err := p.llm.Complete(ctx, llm.Request{
			SystemPrompt: prompt,
			Messages:     []llm.Message{{Role: "user", Content: entries[i].Text}},
		})
		p.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordProviderError(ctx, p.llmName, "translate")
			p.logger.Warn("segment translation failed", "segment", i, "error", err)
			continue
		}
		p.metrics.RecordProviderRequest(ctx, p.llmName, "translate", "ok")
		entries[i].Translation = strings.TrimSpace(resp.Content)
		usage.Add(resp.Usage)
	}
	return usage
}

// summarize asks the LLM for a structured summary of the transcript.
// Returns a nil summary when the call or the JSON parse fails.
func (p *Pipeline) summarize(ctx context.Context, entries []history.TranscriptEntry) (*history.Summary, llm.Usage) {
	var transcript strings.Builder
	for _, e := range entries {
		text := e.Text
		if e.Translation != "" {
			text = e.Translation
		}
		fmt.Fprintf(&transcript, "%s: %s\n", e.Speaker, text)
	}

	start := time.Now()
	resp, err := p.llm.Complete(ctx, llm.Request{
		SystemPrompt: summaryPrompt,
		Messages:     []llm.Message{{Role: "user", Content: transcript.String()}},
		JSONResponse: true,
	})
	p.metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, p.llmName, "summary")
		p.logger.Warn("summary generation failed", "error", err)
		return nil, llm.Usage{}
	}
	p.metrics.RecordProviderRequest(ctx, p.llmName, "summary", "ok")

	var summary history.Summary
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &summary); err != nil {
		p.logger.Warn("summary response is not valid JSON", "error", err)
		return nil, resp.Usage
	}
	return &summary, resp.Usage
}

// extractJSON strips markdown code fences some models wrap JSON in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// recordingTitle picks the stored title: user title, then summary title,
// then a platform/date fallback.
func recordingTitle(c Capture, summary *history.Summary) string {
	if c.Title != "" {
		return c.Title
	}
	if summary != nil && summary.Title != "" {
		return summary.Title
	}
	name := "Recording"
	if c.Meeting.Platform != "" {
		name = fmt.Sprintf("%s meeting", c.Meeting.Platform)
	}
	return fmt.Sprintf("%s %s", name, c.StartedAt.Format("2006-01-02 15:04"))
}

package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/internal/history"
)

func sampleRecording() history.Recording {
	return history.Recording{
		ID:        "rec-1",
		Title:     "Weekly sync",
		Platform:  "google-meet",
		MeetingID: "abc-defg-hij",
		StartedAt: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		Duration:  32 * time.Minute,
		Language:  "de",
		Transcript: []history.TranscriptEntry{
			{Speaker: "Speaker 1", Text: "Guten Morgen.", Translation: "Good morning.", Start: 0, End: 2 * time.Second},
			{Speaker: "Speaker 2", Text: "Hallo zusammen.", Translation: "Hello everyone.", Start: 65 * time.Second, End: 67 * time.Second},
		},
		Summary: &history.Summary{
			Title:     "Weekly sync",
			Category:  "standup",
			Tags:      []string{"status", "planning"},
			Overview:  "The team reviewed progress.",
			KeyPoints: []string{"Release on track"},
			NextSteps: []string{"Update the roadmap"},
		},
		Cost: history.Cost{TranscriptionUSD: 0.192, CompletionUSD: 0.003, TotalUSD: 0.195},
	}
}

func TestMarkdownContainsSections(t *testing.T) {
	t.Parallel()

	out := string(Markdown(sampleRecording()))

	for _, want := range []string{
		"# Weekly sync",
		"**Platform:** google-meet",
		"## Summary",
		"The team reviewed progress.",
		"### Key points",
		"### Next steps",
		"## Transcript",
		"**[0:00] Speaker 1:** Guten Morgen.",
		"> Good morning.",
		"**[1:05] Speaker 2:**",
		"$0.1950",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownOmitsEmptySections(t *testing.T) {
	t.Parallel()

	rec := history.Recording{ID: "rec-2"}
	out := string(Markdown(rec))

	if !strings.Contains(out, "# Recording rec-2") {
		t.Error("missing fallback title")
	}
	for _, unwanted := range []string{"## Summary", "## Transcript", "### Decisions"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("markdown contains %q for empty recording", unwanted)
		}
	}
}

func TestJSONRoundTripsID(t *testing.T) {
	t.Parallel()

	data, err := JSON(sampleRecording())
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var decoded history.Recording
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "rec-1" || decoded.Summary == nil {
		t.Errorf("decoded = id %q summary %v", decoded.ID, decoded.Summary)
	}
}

func TestRenderFormats(t *testing.T) {
	t.Parallel()

	if _, ext, err := Render(sampleRecording(), "markdown"); err != nil || ext != "md" {
		t.Errorf("markdown render ext=%q err=%v", ext, err)
	}
	if _, ext, err := Render(sampleRecording(), "JSON"); err != nil || ext != "json" {
		t.Errorf("json render ext=%q err=%v", ext, err)
	}
	if _, _, err := Render(sampleRecording(), "pdf"); err == nil {
		t.Error("pdf render succeeded, want error")
	}
}

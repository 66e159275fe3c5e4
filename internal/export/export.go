// Package export renders stored recordings into portable formats for
// download or sharing.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meetscribe/meetscribe/internal/history"
)

// Format identifiers accepted by Render.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Render serializes rec in the named format and returns the payload and
// the file extension to store it under.
func Render(rec history.Recording, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "md":
		return Markdown(rec), "md", nil
	case FormatJSON:
		data, err := JSON(rec)
		return data, "json", err
	default:
		return nil, "", fmt.Errorf("export: unsupported format %q", format)
	}
}

// JSON serializes rec as indented JSON.
func JSON(rec history.Recording) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal recording: %w", err)
	}
	return data, nil
}

// Markdown renders rec as a human-readable document: header, summary
// sections, then the timed transcript.
func Markdown(rec history.Recording) []byte {
	var b strings.Builder

	title := rec.Title
	if title == "" {
		title = "Recording " + rec.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if rec.Platform != "" {
		fmt.Fprintf(&b, "- **Platform:** %s\n", rec.Platform)
	}
	if !rec.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Date:** %s\n", rec.StartedAt.Format("2006-01-02 15:04"))
	}
	if rec.Duration > 0 {
		fmt.Fprintf(&b, "- **Duration:** %s\n", rec.Duration.Round(time.Second))
	}
	if rec.Language != "" {
		fmt.Fprintf(&b, "- **Language:** %s\n", rec.Language)
	}
	if rec.Cost.TotalUSD > 0 {
		fmt.Fprintf(&b, "- **Estimated cost:** $%.4f\n", rec.Cost.TotalUSD)
	}
	b.WriteString("\n")

	if s := rec.Summary; s != nil {
		b.WriteString("## Summary\n\n")
		if s.Overview != "" {
			fmt.Fprintf(&b, "%s\n\n", s.Overview)
		}
		if len(s.Tags) > 0 {
			fmt.Fprintf(&b, "*Tags: %s*\n\n", strings.Join(s.Tags, ", "))
		}
		writeList(&b, "Key points", s.KeyPoints)
		writeList(&b, "Decisions", s.Decisions)
		writeList(&b, "Next steps", s.NextSteps)
	}

	if len(rec.Transcript) > 0 {
		b.WriteString("## Transcript\n\n")
		for _, e := range rec.Transcript {
			fmt.Fprintf(&b, "**[%s] %s:** %s\n", timestamp(e.Start), e.Speaker, e.Text)
			if e.Translation != "" {
				fmt.Fprintf(&b, "> %s\n", e.Translation)
			}
			b.WriteString("\n")
		}
	}

	return []byte(b.String())
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// timestamp formats an offset as m:ss (or h:mm:ss past one hour).
func timestamp(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

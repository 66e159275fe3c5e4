// Package stt defines the Provider interface for batch speech-to-text
// backends.
//
// A transcription provider accepts a complete audio payload and returns
// the recognised text with timed segments and the detected language.
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package stt

import (
	"context"
	"time"
)

// Segment is one timed span of recognised speech.
type Segment struct {
	// Text is the recognised text of the span.
	Text string

	// Start and End bound the span within the audio.
	Start time.Duration
	End   time.Duration
}

// Result is a completed transcription.
type Result struct {
	// Text is the full recognised text.
	Text string

	// Language is the detected (or requested) language code, e.g. "en".
	Language string

	// Duration is the audio length as reported by the backend. Zero when
	// the backend does not report it.
	Duration time.Duration

	// Segments lists timed spans in order. Backends that cannot segment
	// return a single segment covering the whole result.
	Segments []Segment
}

// Options carries per-request transcription hints.
type Options struct {
	// Language hints the expected language. Empty lets the backend detect.
	Language string

	// Filename and ContentType describe the uploaded payload for backends
	// that care about the container format. Defaults: "audio.wav",
	// "audio/wav".
	Filename    string
	ContentType string
}

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe submits audio and waits for the full transcription.
	// Callers must not submit empty payloads.
	Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error)
}

// Package capture acquires meeting audio from the browser and turns it
// into an encoded payload for transcription.
//
// A SourceOpener hands out raw PCM Sources (display audio or microphone),
// the Engine wraps a Source in a Session that chunks, meters and
// accumulates the stream, and an Encoder wraps the accumulated PCM in its
// final container when the session stops.
package capture

import (
	"context"
	"errors"
	"time"
)

// Stream parameters for all raw PCM handled by this package: 16-bit
// signed little-endian samples.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1

	bitsPerSample = 16
)

var (
	// ErrNoAudio indicates no capture source could be opened.
	ErrNoAudio = errors.New("capture: no audio source available")

	// ErrSessionClosed is returned by operations on a stopped session.
	ErrSessionClosed = errors.New("capture: session closed")
)

// SourceKind identifies where a Source's audio comes from.
type SourceKind string

const (
	// SourceDisplay is tab/display audio shared by the user.
	SourceDisplay SourceKind = "display"

	// SourceMicrophone is the user's microphone.
	SourceMicrophone SourceKind = "microphone"
)

// Mode selects what the session captures.
type Mode string

const (
	// ModeAudio captures audio only.
	ModeAudio Mode = "audio"

	// ModeScreen captures display audio alongside a screen share. The
	// audio path is identical to ModeAudio; the video track stays in the
	// browser.
	ModeScreen Mode = "screen"
)

// Source is one live raw-PCM stream.
//
// Frames delivers 16-bit LE PCM buffers and is closed when the stream
// ends, whether by Close or because the user revoked the share.
type Source interface {
	Kind() SourceKind
	Frames() <-chan []byte
	Close() error
}

// SourceOpener opens capture sources. The production implementation
// drives getDisplayMedia/getUserMedia in the recorder page; tests use the
// mock subpackage.
type SourceOpener interface {
	OpenDisplay(ctx context.Context) (Source, error)
	OpenMicrophone(ctx context.Context) (Source, error)
}

// Encoder wraps accumulated PCM in its on-disk/upload container.
type Encoder interface {
	// Encode converts raw 16-bit LE PCM into the container format.
	Encode(pcm []byte) ([]byte, error)

	// ContentType is the MIME type of encoded payloads.
	ContentType() string

	// Ext is the file extension, without dot, for encoded payloads.
	Ext() string
}

// Chunk is one metered slice of the live stream, emitted roughly once per
// second while recording.
type Chunk struct {
	// PCM is the raw audio accumulated since the previous chunk.
	PCM []byte

	// RMS is the root-mean-square level of PCM, in sample units.
	RMS float64

	// Duration is the audio duration covered by PCM.
	Duration time.Duration
}

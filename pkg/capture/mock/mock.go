// Package mock provides scriptable capture sources for tests.
package mock

import (
	"context"
	"sync"

	"github.com/meetscribe/meetscribe/pkg/capture"
)

// Compile-time assertions for the capture interfaces.
var (
	_ capture.Source       = (*Source)(nil)
	_ capture.SourceOpener = (*Opener)(nil)
)

// Source is a hand-fed capture.Source.
type Source struct {
	kind   capture.SourceKind
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

// NewSource creates a Source of the given kind.
func NewSource(kind capture.SourceKind) *Source {
	return &Source{kind: kind, frames: make(chan []byte, 64)}
}

// Feed delivers one PCM frame to the session. Panics if the source was
// closed, mirroring a send on a closed channel in the test itself.
func (s *Source) Feed(frame []byte) {
	s.frames <- frame
}

// End closes the frame stream without marking the source closed,
// simulating the user revoking the share.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// Kind implements capture.Source.
func (s *Source) Kind() capture.SourceKind { return s.kind }

// Frames implements capture.Source.
func (s *Source) Frames() <-chan []byte { return s.frames }

// Close implements capture.Source.
func (s *Source) Close() error {
	s.End()
	return nil
}

// Closed reports whether the source has been closed or ended.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Opener hands out pre-built sources.
type Opener struct {
	mu sync.Mutex

	// Display is returned by OpenDisplay; when nil, DisplayErr (or a
	// default error) is returned instead.
	Display *Source

	// Microphone is returned by OpenMicrophone; when nil, MicErr is
	// returned.
	Microphone *Source

	DisplayErr error
	MicErr     error

	DisplayCalls int
	MicCalls     int
}

// OpenDisplay implements capture.SourceOpener.
func (o *Opener) OpenDisplay(context.Context) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.DisplayCalls++
	if o.Display == nil {
		if o.DisplayErr != nil {
			return nil, o.DisplayErr
		}
		return nil, capture.ErrNoAudio
	}
	return o.Display, nil
}

// OpenMicrophone implements capture.SourceOpener.
func (o *Opener) OpenMicrophone(context.Context) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.MicCalls++
	if o.Microphone == nil {
		if o.MicErr != nil {
			return nil, o.MicErr
		}
		return nil, capture.ErrNoAudio
	}
	return o.Microphone, nil
}

package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const chunkInterval = time.Second

// Engine opens capture sources and wraps them in sessions.
type Engine struct {
	opener SourceOpener
	enc    Encoder
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(opener SourceOpener, enc Encoder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{opener: opener, enc: enc, logger: logger}
}

// Start opens a capture source and begins a session. Display audio is
// preferred; when it cannot be opened (share dialog dismissed, no tab
// audio) the engine falls back to the microphone. Returns ErrNoAudio when
// neither source opens.
func (e *Engine) Start(ctx context.Context, mode Mode) (*Session, error) {
	src, err := e.opener.OpenDisplay(ctx)
	if err != nil {
		e.logger.Warn("display capture unavailable, falling back to microphone",
			"mode", mode, "error", err)
		src, err = e.opener.OpenMicrophone(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoAudio, err)
		}
	}

	s := &Session{
		opener:     e.opener,
		enc:        e.enc,
		logger:     e.logger,
		sampleRate: DefaultSampleRate,
		channels:   DefaultChannels,
		frames:     make(chan []byte, 16),
		chunks:     make(chan Chunk, 8),
		done:       make(chan struct{}),
		quit:       make(chan struct{}),
	}
	s.attach(src)
	go s.run()

	e.logger.Info("capture session started", "source", src.Kind(), "mode", mode)
	return s, nil
}

// Session is one live recording. All methods are safe for concurrent use.
type Session struct {
	opener     SourceOpener
	enc        Encoder
	logger     *slog.Logger
	sampleRate int
	channels   int

	frames chan []byte
	chunks chan Chunk
	done   chan struct{}
	quit   chan struct{}

	doneOnce sync.Once
	quitOnce sync.Once

	mu      sync.Mutex
	src     Source
	gen     int
	paused  bool
	stopped bool
	buf     bytes.Buffer
	pending bytes.Buffer
	level   float64
}

// Chunks returns the live metered chunk stream. Emitted roughly once per
// second while unpaused audio arrives; closed when the session stops.
func (s *Session) Chunks() <-chan Chunk { return s.chunks }

// Done is closed when the capture source ends, either because the user
// revoked the share or because Stop was called.
func (s *Session) Done() <-chan struct{} { return s.done }

// Source returns the kind of the currently active source.
func (s *Session) Source() SourceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return ""
	}
	return s.src.Kind()
}

// ContentType is the MIME type Stop's payload will carry.
func (s *Session) ContentType() string { return s.enc.ContentType() }

// Ext is the file extension Stop's payload should be stored under.
func (s *Session) Ext() string { return s.enc.Ext() }

// Level returns the RMS level of the most recent frame.
func (s *Session) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Duration returns the audio duration accumulated so far.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pcmDuration(s.buf.Bytes(), s.sampleRate, s.channels)
}

// Pause suspends accumulation. Incoming frames are discarded until Resume.
func (s *Session) Pause() error { return s.setPaused(true) }

// Resume continues accumulation after Pause.
func (s *Session) Resume() error { return s.setPaused(false) }

func (s *Session) setPaused(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionClosed
	}
	s.paused = paused
	if paused {
		s.level = 0
	}
	return nil
}

// SwitchToMicrophone swaps the active source for the microphone without
// interrupting accumulation. A no-op when the microphone is already
// active.
func (s *Session) SwitchToMicrophone(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.src.Kind() == SourceMicrophone {
		s.mu.Unlock()
		return nil
	}
	old := s.src
	s.mu.Unlock()

	mic, err := s.opener.OpenMicrophone(ctx)
	if err != nil {
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	// Attach first so the old pump's generation check fails and the old
	// source ending is not mistaken for the session ending.
	s.attach(mic)
	if err := old.Close(); err != nil {
		s.logger.Warn("close display source", "error", err)
	}
	s.logger.Info("capture source switched", "source", SourceMicrophone)
	return nil
}

// Stop ends the session and returns the full recording encoded in the
// session's container format. Returns ErrNoAudio when nothing was
// accumulated and ErrSessionClosed on repeated calls.
func (s *Session) Stop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.stopped = true
	src := s.src
	pcm := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	if src != nil {
		if err := src.Close(); err != nil {
			s.logger.Warn("close capture source", "error", err)
		}
	}
	s.quitOnce.Do(func() { close(s.quit) })
	s.signalDone()

	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := s.enc.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("capture: encode recording: %w", err)
	}
	return payload, nil
}

// attach makes src the active source and starts its pump.
func (s *Session) attach(src Source) {
	s.mu.Lock()
	s.src = src
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	go s.pump(src, gen)
}

// pump forwards one source's frames into the session until the source
// ends or the session quits.
func (s *Session) pump(src Source, gen int) {
	for frame := range src.Frames() {
		select {
		case s.frames <- frame:
		case <-s.quit:
			return
		}
	}

	s.mu.Lock()
	current := gen == s.gen && !s.stopped
	s.mu.Unlock()
	if current {
		// The source ended on its own, e.g. the user stopped sharing.
		s.logger.Info("capture source ended", "source", src.Kind())
		s.signalDone()
	}
}

func (s *Session) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// run drains frames and emits metered chunks on a fixed cadence.
func (s *Session) run() {
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			close(s.chunks)
			return
		case frame := <-s.frames:
			s.ingest(frame)
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Session) ingest(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.stopped {
		return
	}
	s.buf.Write(frame)
	s.pending.Write(frame)
	s.level = computeRMS(frame)
}

func (s *Session) flush() {
	s.mu.Lock()
	if s.pending.Len() == 0 {
		s.mu.Unlock()
		return
	}
	data := append([]byte(nil), s.pending.Bytes()...)
	s.pending.Reset()
	s.mu.Unlock()

	chunk := Chunk{
		PCM:      data,
		RMS:      computeRMS(data),
		Duration: pcmDuration(data, s.sampleRate, s.channels),
	}
	select {
	case s.chunks <- chunk:
	default:
		// Consumers that fall behind lose chunks; the full recording is
		// unaffected since buf keeps everything.
	}
}

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Compile-time assertion that WSOpener implements SourceOpener.
var _ SourceOpener = (*WSOpener)(nil)

const (
	ackTimeout  = 15 * time.Second
	frameBuffer = 64
)

// recorderCommand is a control frame sent to the recorder page.
type recorderCommand struct {
	Cmd    string     `json:"cmd"` // "open" or "close"
	Source SourceKind `json:"source,omitempty"`
}

// recorderAck is the recorder page's reply to a command. The page answers
// "open" after the user grants (or dismisses) the media permission
// prompt.
type recorderAck struct {
	OK     bool       `json:"ok"`
	Source SourceKind `json:"source,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// WSOpener opens capture sources backed by the recorder page.
//
// The recorder page connects to the daemon's /capture websocket endpoint
// (served by this handler). Opening a source sends an "open" control
// frame; the page drives getDisplayMedia/getUserMedia and streams raw
// 16-bit LE PCM back as binary frames. One source can be active at a
// time, matching the single-recording invariant upstream.
type WSOpener struct {
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	acks   chan recorderAck
	active *wsSource
}

// NewWSOpener creates a WSOpener. A nil logger disables logging.
func NewWSOpener(logger *slog.Logger) *WSOpener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WSOpener{logger: logger}
}

// ServeHTTP accepts the recorder page's websocket connection and serves
// it until it disconnects. A new connection replaces any previous one.
func (o *WSOpener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		o.logger.Warn("recorder accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	o.mu.Lock()
	if o.conn != nil {
		o.conn.Close(websocket.StatusPolicyViolation, "replaced by new recorder")
	}
	o.conn = conn
	o.acks = make(chan recorderAck, 4)
	o.mu.Unlock()
	o.logger.Info("recorder connected")

	o.readLoop(r.Context(), conn)

	o.mu.Lock()
	if o.conn == conn {
		o.conn = nil
		if o.active != nil {
			o.active.end()
			o.active = nil
		}
	}
	o.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
	o.logger.Info("recorder disconnected")
}

// readLoop routes binary frames to the active source and text frames to
// the ack channel.
func (o *WSOpener) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			o.mu.Lock()
			src := o.active
			o.mu.Unlock()
			if src != nil {
				src.deliver(data)
			}
		case websocket.MessageText:
			var ack recorderAck
			if err := json.Unmarshal(data, &ack); err != nil {
				o.logger.Warn("bad recorder control frame", "error", err)
				continue
			}
			o.mu.Lock()
			acks := o.acks
			o.mu.Unlock()
			select {
			case acks <- ack:
			default:
			}
		}
	}
}

// OpenDisplay implements SourceOpener.
func (o *WSOpener) OpenDisplay(ctx context.Context) (Source, error) {
	return o.open(ctx, SourceDisplay)
}

// OpenMicrophone implements SourceOpener.
func (o *WSOpener) OpenMicrophone(ctx context.Context) (Source, error) {
	return o.open(ctx, SourceMicrophone)
}

func (o *WSOpener) open(ctx context.Context, kind SourceKind) (Source, error) {
	o.mu.Lock()
	conn := o.conn
	acks := o.acks
	if conn == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("capture: recorder page not connected")
	}
	if o.active != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("capture: a source is already open")
	}
	o.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, recorderCommand{Cmd: "open", Source: kind}); err != nil {
		return nil, fmt.Errorf("capture: send open command: %w", err)
	}

	// The ack arrives only after the user answers the permission prompt.
	select {
	case ack := <-acks:
		if !ack.OK {
			return nil, fmt.Errorf("capture: open %s: %s", kind, ack.Error)
		}
	case <-writeCtx.Done():
		return nil, fmt.Errorf("capture: open %s: %w", kind, writeCtx.Err())
	}

	src := &wsSource{
		opener: o,
		kind:   kind,
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}
	o.mu.Lock()
	o.active = src
	o.mu.Unlock()
	return src, nil
}

// detach clears src as the active source and closes its frame channel.
func (o *WSOpener) detach(src *wsSource) {
	o.mu.Lock()
	conn := o.conn
	if o.active == src {
		o.active = nil
	}
	o.mu.Unlock()

	src.end()

	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort, the page also stops its tracks when the socket drops.
		_ = wsjson.Write(ctx, conn, recorderCommand{Cmd: "close"})
	}
}

// wsSource is one live PCM stream from the recorder page.
type wsSource struct {
	opener *WSOpener
	kind   SourceKind
	frames chan []byte

	doneOnce sync.Once
	done     chan struct{}

	// sendMu serialises deliver against end so the frame channel is
	// never closed under an in-flight send.
	sendMu sync.Mutex
	closed bool
}

// Kind implements Source.
func (s *wsSource) Kind() SourceKind { return s.kind }

// Frames implements Source.
func (s *wsSource) Frames() <-chan []byte { return s.frames }

// Close implements Source.
func (s *wsSource) Close() error {
	s.opener.detach(s)
	return nil
}

// deliver hands one PCM frame to the consumer. Blocks while the session
// drains; gives up when the source ends.
func (s *wsSource) deliver(frame []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case s.frames <- buf:
	case <-s.done:
	}
}

// end terminates the stream: unblocks any in-flight deliver, then closes
// the frame channel exactly once.
func (s *wsSource) end() {
	s.doneOnce.Do(func() { close(s.done) })
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

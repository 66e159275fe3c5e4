// Package whisperlocal provides an stt.Provider backed by a locally
// running whisper-server binary (REST API at POST /inference).
//
// This is the no-key offline provider: audio never leaves the machine.
// The server returns plain recognised text without segment timestamps,
// so results carry a single segment spanning the whole payload.
//
// Usage:
//
//	p, err := whisperlocal.New("http://localhost:8080",
//	    whisperlocal.WithLanguage("en"),
//	)
//	res, err := p.Transcribe(ctx, wavBytes, stt.Options{})
package whisperlocal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server
// (e.g., "base.en", "small"). When empty the server uses whichever model
// it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 5 minutes;
// local inference on CPU is slow for long recordings.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider backed by a whisper-server HTTP API.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisperlocal: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Model returns the configured model name, used for cost attribution.
// Empty when the server default is in use.
func (p *Provider) Model() string { return p.model }

// Transcribe implements stt.Provider. The audio payload must already be
// in a container the server accepts (WAV).
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	filename := opts.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("whisperlocal: write audio data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, fmt.Errorf("whisperlocal: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, fmt.Errorf("whisperlocal: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperlocal: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisperlocal: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisperlocal: parse JSON response: %w", err)
	}

	res := &stt.Result{Text: result.Text, Language: lang}
	if result.Text != "" {
		res.Segments = []stt.Segment{{Text: result.Text}}
	}
	return res, nil
}

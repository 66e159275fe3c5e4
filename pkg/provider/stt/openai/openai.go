// Package openai provides an stt.Provider backed by the OpenAI audio
// transcription endpoint.
//
// The payload is uploaded as multipart/form-data with
// response_format=verbose_json so the response carries per-segment
// timestamps and the detected language.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 2 minutes;
// long recordings take a while to process.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider against the hosted transcription API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New constructs a Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Model returns the configured model name, used for cost attribution.
func (p *Provider) Model() string { return p.model }

// verboseResponse mirrors the verbose_json transcription response shape.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	filename := opts.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("openai: write audio data: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return nil, fmt.Errorf("openai: write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("openai: write response_format field: %w", err)
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return nil, fmt.Errorf("openai: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai: close multipart writer: %w", err)
	}

	endpoint := p.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("openai: parse JSON response: %w", err)
	}

	result := &stt.Result{
		Text:     vr.Text,
		Language: vr.Language,
		Duration: time.Duration(vr.Duration * float64(time.Second)),
	}
	for _, seg := range vr.Segments {
		result.Segments = append(result.Segments, stt.Segment{
			Text:  seg.Text,
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
		})
	}
	// Some container formats come back without segment detail; fall back
	// to one segment spanning the whole result.
	if len(result.Segments) == 0 && result.Text != "" {
		result.Segments = []stt.Segment{{Text: result.Text, Start: 0, End: result.Duration}}
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

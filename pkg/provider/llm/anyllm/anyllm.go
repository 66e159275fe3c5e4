// Package anyllm provides a universal llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface
// that supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral,
// Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/meetscribe/meetscribe/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider backed by the given backend name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the provider falls
// back to the relevant environment variable.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Model returns the configured model name, used for cost attribution.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &llm.Response{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts an llm.Request into anyllm CompletionParams.
// JSONResponse has no universal switch across backends, so it is carried
// as a system-level instruction instead.
func (p *Provider) buildParams(req llm.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	system := req.SystemPrompt
	if req.JSONResponse {
		if system != "" {
			system += "\n"
		}
		system += "Respond with a single valid JSON object and nothing else."
	}
	if system != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: system,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	return params
}

// Package llm defines the Provider interface for chat-completion backends.
//
// The pipeline uses completions for two jobs: translating transcript
// segments into the baseline language and producing the structured meeting
// summary. Implementors must be safe for concurrent use and must propagate
// context cancellation promptly.
package llm

import "context"

// Message represents a single message in a conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
// Counts are in the model's native token unit and drive cost estimation.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Add accumulates other into u. Used to aggregate usage across the
// multiple completion calls made for one recording.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Request carries everything the model needs to produce a response.
type Request struct {
	// SystemPrompt is an optional instruction injected before the
	// conversation. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. Must be non-empty.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero uses the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// JSONResponse asks the model to return a single JSON object.
	// Providers with a native JSON mode enable it; others treat this as a
	// hint and rely on the prompt.
	JSONResponse bool
}

// Response is the model's reply with token accounting.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req Request) (*Response, error)
}

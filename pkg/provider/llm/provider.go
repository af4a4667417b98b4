// Package llm defines the Provider interface for language-model backends and
// the message types exchanged with them.
//
// roverlink asks the model for a short spoken answer plus an optional motion
// command encoded as JSON. Providers only move text: prompting and reply
// parsing live with the orchestrator and the command package.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is one non-streaming completion call.
type CompletionRequest struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Messages is the conversation so far, oldest first, ending with the
	// user's latest turn.
	Messages []Message

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int

	// JSONMode asks the backend to constrain output to a JSON object when it
	// supports doing so. Callers must still tolerate free text.
	JSONMode bool
}

// Usage reports token consumption when the backend returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Flatten returns req.Messages with the system prompt, if any, prepended as a
// system message. Providers whose APIs take a single message list use it.
func Flatten(req CompletionRequest) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	return append(msgs, req.Messages...)
}

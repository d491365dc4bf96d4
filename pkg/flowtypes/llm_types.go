package flowtypes

import "context"

// ChatRequest is the provider-neutral payload for a text-generation call.
type ChatRequest struct {
	SystemPrompt string    // System message for LLM context
	Messages     []Message // Ordered conversation, current user turn last
}

// StreamChunk represents a single chunk of a provider streaming response.
type StreamChunk struct {
	Content string // The text content of this chunk
	Done    bool   // Whether this is the final chunk
	Error   error  // Any error that occurred during streaming
}

// LLMClient defines the interface for LLM provider implementations.
// Any provider that can take a system prompt plus role-tagged history and return text is substitutable.
type LLMClient interface {
	// SendChatCompletion sends a chat completion request and returns the full response.
	SendChatCompletion(ctx context.Context, req *ChatRequest, model *ModelConfig) (string, error)

	// StreamChatCompletion sends a streaming chat completion request.
	// The returned channel is closed after a chunk with Done set.
	StreamChatCompletion(ctx context.Context, req *ChatRequest, model *ModelConfig) (<-chan StreamChunk, error)

	// GetProviderName returns the name of the LLM provider (e.g., "openai", "anthropic").
	GetProviderName() string

	// IsConfigured returns true if the client has valid configuration and can make requests.
	IsConfigured() bool
}

// StreamEventKind identifies the kind of event emitted while streaming a turn.
type StreamEventKind string

// Stream event kinds.
const (
	EventStart     StreamEventKind = "start"
	EventContent   StreamEventKind = "content"
	EventToolCalls StreamEventKind = "tool_calls"
	EventEnd       StreamEventKind = "end"
	EventError     StreamEventKind = "error"
)

// ToolCall describes one step announced by the complex workflow path.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StreamEvent is a single event of a streamed turn.
type StreamEvent struct {
	Kind      StreamEventKind
	Stage     Stage      // Set on every event
	Content   string     // Text delta for EventContent, fallback text for EventError
	ToolCalls []ToolCall // Populated for EventToolCalls
	Err       error      // Underlying error for EventError
}

package flowtypes

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Supported message roles. Provider clients drop any other role.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType tags how a message's content should be presented.
type MessageType string

// Message content types.
const (
	MessageTypeText     MessageType = "text"
	MessageTypeMarkdown MessageType = "markdown"
	MessageTypeCode     MessageType = "code"
	MessageTypeError    MessageType = "error"
)

// CodeFence is the marker whose presence turns a reply into markdown.
const CodeFence = "```"

// Metadata keys understood by the system prompt template.
const (
	MetadataCurrentPage   = "currentPage"
	MetadataUserRole      = "userRole"
	MetadataWorkspaceName = "workspaceName"
)

// Message represents a single message in the conversation history.
type Message struct {
	ID        string      `json:"id" yaml:"id"`
	Role      Role        `json:"role" yaml:"role"`
	Content   string      `json:"content" yaml:"content"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Type      MessageType `json:"type,omitempty" yaml:"type,omitempty"`
	Stage     Stage       `json:"stage" yaml:"stage"` // Stage the turn was answered in
}

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Type:      MessageTypeText,
	}
}

// ClassifyContent returns MessageTypeMarkdown when content holds a fenced code block
// and MessageTypeText otherwise.
func ClassifyContent(content string) MessageType {
	if strings.Contains(content, CodeFence) {
		return MessageTypeMarkdown
	}
	return MessageTypeText
}

// ConversationContext is the per-conversation bundle threaded through each turn.
type ConversationContext struct {
	Stage    Stage             `json:"stage"`
	History  []Message         `json:"history"`
	Metadata map[string]string `json:"metadata"`
}

// NewConversationContext returns a context at StageInitial with empty history.
func NewConversationContext(metadata map[string]string) ConversationContext {
	copied := make(map[string]string, len(metadata))
	for key, value := range metadata {
		copied[key] = value
	}
	return ConversationContext{
		Stage:    StageInitial,
		History:  []Message{},
		Metadata: copied,
	}
}

// MetadataValue returns the metadata value for key, or fallback when absent or blank.
func (c ConversationContext) MetadataValue(key, fallback string) string {
	if c.Metadata == nil {
		return fallback
	}
	value := strings.TrimSpace(c.Metadata[key])
	if value == "" {
		return fallback
	}
	return value
}

// Clone returns a deep copy so callers can hand a context to another goroutine.
func (c ConversationContext) Clone() ConversationContext {
	clone := ConversationContext{
		Stage:    c.Stage,
		History:  make([]Message, len(c.History)),
		Metadata: make(map[string]string, len(c.Metadata)),
	}
	copy(clone.History, c.History)
	for key, value := range c.Metadata {
		clone.Metadata[key] = value
	}
	return clone
}

// Conversation is the stored unit: a context plus identity and timestamps.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ConversationContext
}

package flowtypes

import (
	"context"
	"errors"
)

// ErrConversationNotFound is returned by stores for unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore is the mutation surface the conversation service persists through.
// Implementations must be safe for concurrent use and keep messages in append order.
type ConversationStore interface {
	Create(ctx context.Context, name string, metadata map[string]string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context) ([]*Conversation, error)
	AppendMessage(ctx context.Context, id string, msg Message) error
	SetStage(ctx context.Context, id string, stage Stage) error
	Reset(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Service defines the interface for stageflow services that need setup before use.
type Service interface {
	Name() string
	Initialize() error
}

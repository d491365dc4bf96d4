package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stageflow/pkg/flowtypes"
)

// MemoryStore keeps conversations in process memory. Reads return copies.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*flowtypes.Conversation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*flowtypes.Conversation)}
}

func (s *MemoryStore) Create(_ context.Context, name string, metadata map[string]string) (*flowtypes.Conversation, error) {
	now := time.Now()
	conv := &flowtypes.Conversation{
		ID:                  uuid.New().String(),
		Name:                name,
		CreatedAt:           now,
		UpdatedAt:           now,
		ConversationContext: flowtypes.NewConversationContext(metadata),
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	return cloneConversation(conv), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*flowtypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneConversation(conv), nil
}

// List returns conversations, most recently updated first.
func (s *MemoryStore) List(_ context.Context) ([]*flowtypes.Conversation, error) {
	s.mu.RLock()
	list := make([]*flowtypes.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		list = append(list, cloneConversation(conv))
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg flowtypes.Message) error {
	return s.update(id, func(conv *flowtypes.Conversation) {
		conv.History = append(conv.History, msg)
	})
}

func (s *MemoryStore) SetStage(_ context.Context, id string, stage flowtypes.Stage) error {
	return s.update(id, func(conv *flowtypes.Conversation) {
		conv.Stage = stage
	})
}

// Reset clears the history and returns the conversation to the initial stage. Metadata is kept.
func (s *MemoryStore) Reset(_ context.Context, id string) error {
	return s.update(id, func(conv *flowtypes.Conversation) {
		conv.Stage = flowtypes.StageInitial
		conv.History = []flowtypes.Message{}
	})
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return notFound(id)
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) update(id string, mutate func(*flowtypes.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return notFound(id)
	}
	mutate(conv)
	conv.UpdatedAt = time.Now()
	return nil
}

func cloneConversation(conv *flowtypes.Conversation) *flowtypes.Conversation {
	clone := *conv
	clone.ConversationContext = conv.Clone()
	return &clone
}

// Package conversation threads conversations through the store and the workflow engine.
// It owns the per-conversation context that the engine itself never keeps.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stageflow/internal/logger"
	"stageflow/internal/workflow"
	"stageflow/pkg/flowtypes"
)

// ErrNotInitialized is returned when the service is used before Initialize or without a
// configured provider.
var ErrNotInitialized = errors.New("conversation service not initialized")

const maxNameLength = 64

var reservedNames = []string{"new", "list", "current", "all"}

// Service provides conversation lifecycle and turn processing.
type Service struct {
	initialized bool
	store       flowtypes.ConversationStore
	engine      *workflow.Engine
}

// NewService creates a Service over store and engine.
func NewService(store flowtypes.ConversationStore, engine *workflow.Engine) *Service {
	return &Service{store: store, engine: engine}
}

// Name returns the service name "conversation" for registration.
func (s *Service) Name() string {
	return "conversation"
}

// Initialize checks the dependencies and marks the service ready.
func (s *Service) Initialize() error {
	if s.store == nil {
		return fmt.Errorf("conversation service requires a store")
	}
	if s.engine == nil {
		return fmt.Errorf("conversation service requires a workflow engine")
	}
	s.initialized = true
	return nil
}

// Engine returns the workflow engine the service drives.
func (s *Service) Engine() *workflow.Engine {
	return s.engine
}

// ValidateName trims whitespace and surrounding quotes and checks the result. Empty names are
// allowed and leave the conversation unnamed.
func ValidateName(name string) (string, error) {
	processed := strings.TrimSpace(name)
	if len(processed) >= 2 {
		if (processed[0] == '"' && processed[len(processed)-1] == '"') ||
			(processed[0] == '\'' && processed[len(processed)-1] == '\'') {
			processed = strings.TrimSpace(processed[1 : len(processed)-1])
		}
	}

	if processed == "" {
		return "", nil
	}
	if len(processed) > maxNameLength {
		return "", fmt.Errorf("conversation name too long (max %d characters)", maxNameLength)
	}
	for _, char := range processed {
		if char < 32 || char == 127 {
			return "", fmt.Errorf("conversation name contains invalid characters")
		}
	}
	lowerName := strings.ToLower(processed)
	for _, reserved := range reservedNames {
		if lowerName == reserved {
			return "", fmt.Errorf("conversation name '%s' is reserved", processed)
		}
	}
	return processed, nil
}

// Start creates a conversation at the initial stage.
func (s *Service) Start(ctx context.Context, name string, metadata map[string]string) (*flowtypes.Conversation, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	processed, err := ValidateName(name)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation name: %w", err)
	}
	if processed != "" {
		existing, err := s.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, conv := range existing {
			if conv.Name == processed {
				return nil, fmt.Errorf("conversation name '%s' already exists", processed)
			}
		}
	}

	conv, err := s.store.Create(ctx, processed, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	logger.Debug("Conversation started", "id", conv.ID, "name", conv.Name)
	return conv, nil
}

// Get returns the conversation with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*flowtypes.Conversation, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.store.Get(ctx, id)
}

// List returns all conversations without requiring a provider.
func (s *Service) List(ctx context.Context) ([]*flowtypes.Conversation, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.store.List(ctx)
}

// Find resolves identifier by exact name, exact ID, then unique ID or name prefix.
func (s *Service) Find(ctx context.Context, identifier string) (*flowtypes.Conversation, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("conversation identifier cannot be empty")
	}

	list, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, conv := range list {
		if conv.Name == identifier {
			return s.store.Get(ctx, conv.ID)
		}
	}
	for _, conv := range list {
		if conv.ID == identifier {
			return s.store.Get(ctx, conv.ID)
		}
	}

	var matches []*flowtypes.Conversation
	for _, conv := range list {
		if strings.HasPrefix(conv.ID, identifier) || (conv.Name != "" && strings.HasPrefix(conv.Name, identifier)) {
			matches = append(matches, conv)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no conversation matches '%s'", flowtypes.ErrConversationNotFound, identifier)
	case 1:
		return s.store.Get(ctx, matches[0].ID)
	default:
		ids := make([]string, len(matches))
		for i, match := range matches {
			ids[i] = match.ID
		}
		return nil, fmt.Errorf("multiple conversations match '%s': %s", identifier, strings.Join(ids, ", "))
	}
}

// Delete removes a conversation.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.store.Delete(ctx, id)
}

// Reset clears a conversation's history and returns it to the initial stage.
func (s *Service) Reset(ctx context.Context, id string) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := s.store.Reset(ctx, id); err != nil {
		return err
	}
	logger.Debug("Conversation reset", "id", id)
	return nil
}

// Send runs one non-streaming turn and persists the user message, the reply and the new stage.
// Provider failures are not errors: they come back as a reply of type error.
func (s *Service) Send(ctx context.Context, id, message string) (flowtypes.Message, error) {
	conv, err := s.prepareTurn(ctx, id)
	if err != nil {
		return flowtypes.Message{}, err
	}

	reply := s.engine.ProcessMessage(ctx, message, conv.ConversationContext)
	if err := s.persistTurn(ctx, id, message, reply); err != nil {
		return reply, err
	}
	return reply, nil
}

// SendStream runs one streaming turn. Events are relayed as they arrive. When the stream ends the
// user message, the assembled reply and the stage are persisted before the terminal event is
// delivered. A cancelled stream persists nothing.
func (s *Service) SendStream(ctx context.Context, id, message string) (<-chan flowtypes.StreamEvent, error) {
	conv, err := s.prepareTurn(ctx, id)
	if err != nil {
		return nil, err
	}

	messages := make([]flowtypes.Message, 0, len(conv.History)+1)
	messages = append(messages, conv.History...)
	messages = append(messages, flowtypes.Message{Role: flowtypes.RoleUser, Content: message})

	events := s.engine.ProcessMessageStream(ctx, messages, conv.ConversationContext)
	out := make(chan flowtypes.StreamEvent)

	go func() {
		defer close(out)

		var content strings.Builder
		for ev := range events {
			switch ev.Kind {
			case flowtypes.EventContent:
				content.WriteString(ev.Content)
			case flowtypes.EventEnd, flowtypes.EventError:
				if err := s.persistTurn(context.WithoutCancel(ctx), id, message, streamReply(ev, content.String())); err != nil {
					logger.Error("Failed to persist streamed turn", "id", id, "error", err)
					ev = flowtypes.StreamEvent{Kind: flowtypes.EventError, Stage: ev.Stage, Content: workflow.ErrorResponseText, Err: err}
				}
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *Service) prepareTurn(ctx context.Context, id string) (*flowtypes.Conversation, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if !s.engine.Ready() {
		return nil, fmt.Errorf("%w: no configured provider", ErrNotInitialized)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) persistTurn(ctx context.Context, id, message string, reply flowtypes.Message) error {
	userMsg := flowtypes.NewMessage(flowtypes.RoleUser, message)
	userMsg.Stage = reply.Stage

	if err := s.store.AppendMessage(ctx, id, userMsg); err != nil {
		return fmt.Errorf("failed to store user message: %w", err)
	}
	if err := s.store.SetStage(ctx, id, reply.Stage); err != nil {
		return fmt.Errorf("failed to store stage: %w", err)
	}
	if err := s.store.AppendMessage(ctx, id, reply); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	return nil
}

func streamReply(ev flowtypes.StreamEvent, content string) flowtypes.Message {
	if ev.Kind == flowtypes.EventError {
		reply := flowtypes.NewMessage(flowtypes.RoleAssistant, workflow.ErrorResponseText)
		reply.Type = flowtypes.MessageTypeError
		reply.Stage = ev.Stage
		return reply
	}
	reply := flowtypes.NewMessage(flowtypes.RoleAssistant, content)
	reply.Type = flowtypes.ClassifyContent(content)
	reply.Stage = ev.Stage
	return reply
}

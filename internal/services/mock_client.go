package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"stageflow/pkg/flowtypes"
)

// MockDefaultResponse is returned by MockClient when no scripted response is queued.
const MockDefaultResponse = "This is a mock LLM response."

// MockClient is a scripted LLMClient for tests and offline use.
// Queued responses are consumed in order by both send and stream calls.
type MockClient struct {
	mu          sync.Mutex
	responses   []string
	sendErr     error
	streamErr   error
	midStream   error
	requests    []flowtypes.ChatRequest
	unconfigure bool
}

// NewMockClient creates a MockClient that answers with MockDefaultResponse.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// GetProviderName returns "mock".
func (m *MockClient) GetProviderName() string {
	return ProviderMock
}

// IsConfigured reports true unless SetConfigured(false) was called.
func (m *MockClient) IsConfigured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unconfigure
}

// SetConfigured toggles IsConfigured.
func (m *MockClient) SetConfigured(configured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unconfigure = !configured
}

// QueueResponses appends scripted responses.
func (m *MockClient) QueueResponses(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// SetSendError makes SendChatCompletion fail with err.
func (m *MockClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetStreamError makes StreamChatCompletion fail before streaming.
func (m *MockClient) SetStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
}

// SetMidStreamError makes streams deliver their first chunk and then fail with err.
func (m *MockClient) SetMidStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midStream = err
}

// Requests returns copies of every request received so far.
func (m *MockClient) Requests() []flowtypes.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]flowtypes.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockClient) record(req *flowtypes.ChatRequest) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := flowtypes.ChatRequest{SystemPrompt: req.SystemPrompt, Messages: make([]flowtypes.Message, len(req.Messages))}
	copy(copied.Messages, req.Messages)
	m.requests = append(m.requests, copied)

	if len(m.responses) == 0 {
		return MockDefaultResponse
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next
}

// SendChatCompletion returns the next scripted response.
func (m *MockClient) SendChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, _ *flowtypes.ModelConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	response := m.record(req)

	m.mu.Lock()
	err := m.sendErr
	m.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("mock request failed: %w", err)
	}
	return response, nil
}

// StreamChatCompletion streams the next scripted response one word at a time.
func (m *MockClient) StreamChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, _ *flowtypes.ModelConfig) (<-chan flowtypes.StreamChunk, error) {
	response := m.record(req)

	m.mu.Lock()
	streamErr, midStream := m.streamErr, m.midStream
	m.mu.Unlock()
	if streamErr != nil {
		return nil, fmt.Errorf("mock stream failed: %w", streamErr)
	}

	chunks := splitWords(response)
	responseChan := make(chan flowtypes.StreamChunk)
	go func() {
		defer close(responseChan)
		for i, chunk := range chunks {
			if !sendChunk(ctx, responseChan, flowtypes.StreamChunk{Content: chunk}) {
				return
			}
			if i == 0 && midStream != nil {
				sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true, Error: midStream})
				return
			}
		}
		sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true})
	}()

	return responseChan, nil
}

// splitWords splits text into chunks that concatenate back to the original.
func splitWords(text string) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	chunks = append(chunks, text[start:])
	if strings.Join(chunks, "") != text {
		return []string{text}
	}
	return chunks
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/internal/services"
	"stageflow/pkg/flowtypes"
)

func collect(t *testing.T, events <-chan flowtypes.StreamEvent) []flowtypes.StreamEvent {
	t.Helper()
	var out []flowtypes.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream was not closed")
			return out
		}
	}
}

func kinds(events []flowtypes.StreamEvent) []flowtypes.StreamEventKind {
	out := make([]flowtypes.StreamEventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func contentOf(events []flowtypes.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == flowtypes.EventContent {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func userTurn(content string) flowtypes.Message {
	return flowtypes.Message{Role: flowtypes.RoleUser, Content: content}
}

func TestProcessMessageStream_DirectPath(t *testing.T) {
	client := services.NewMockClient()
	client.QueueResponses("Tell me about your goals")
	engine := NewEngine(client, nil)

	events := collect(t, engine.ProcessMessageStream(context.Background(), []flowtypes.Message{userTurn("hello")}, flowtypes.ConversationContext{}))

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, flowtypes.EventStart, events[0].Kind)
	assert.Equal(t, flowtypes.EventEnd, events[len(events)-1].Kind)
	for _, ev := range events[1 : len(events)-1] {
		assert.Equal(t, flowtypes.EventContent, ev.Kind)
	}
	for _, ev := range events {
		assert.Equal(t, flowtypes.StageUnderstanding, ev.Stage)
	}
	assert.Equal(t, "Tell me about your goals", contentOf(events))
	assert.Len(t, client.Requests(), 1)
}

func TestProcessMessageStream_StageFromLastMessage(t *testing.T) {
	client := services.NewMockClient()
	engine := NewEngine(client, nil)

	messages := []flowtypes.Message{
		userTurn("please summarize"),
		{Role: flowtypes.RoleAssistant, Content: "done"},
		userTurn("can you refine the intro"),
	}
	conv := flowtypes.ConversationContext{Stage: flowtypes.StageUnderstanding}
	events := collect(t, engine.ProcessMessageStream(context.Background(), messages, conv))

	require.NotEmpty(t, events)
	assert.Equal(t, flowtypes.StageRefinement, events[0].Stage)

	requests := client.Requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Messages, 3)
	assert.Equal(t, "can you refine the intro", requests[0].Messages[2].Content)
}

func TestProcessMessageStream_ComplexPath(t *testing.T) {
	client := services.NewMockClient()
	client.QueueResponses(
		"Here is the outline:\n1. Gather requirements\n2) Draft the schema\n- Review with the team",
		"Step 1 first",
	)
	engine := NewEngine(client, nil)

	events := collect(t, engine.ProcessMessageStream(context.Background(), []flowtypes.Message{userTurn("what is our strategy?")}, flowtypes.ConversationContext{}))

	got := kinds(events)
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, flowtypes.EventStart, got[0])
	assert.Equal(t, flowtypes.EventToolCalls, got[1])
	assert.Equal(t, flowtypes.EventEnd, got[len(got)-1])
	assert.Equal(t, "Step 1 first", contentOf(events))

	calls := events[1].ToolCalls
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.Equal(t, workflowStepTool, call.Name)
		var args stepArguments
		require.NoError(t, json.Unmarshal([]byte(call.Arguments), &args))
		assert.Equal(t, i+1, args.Step)
	}
	var first stepArguments
	require.NoError(t, json.Unmarshal([]byte(calls[0].Arguments), &first))
	assert.Equal(t, "Gather requirements", first.Description)

	requests := client.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[0].SystemPrompt, plannerInstructions)
	assert.Contains(t, requests[1].SystemPrompt, "1. Gather requirements\n2. Draft the schema\n3. Review with the team")
	assert.Contains(t, requests[1].SystemPrompt, "- Conversation stage: Planning")
}

func TestProcessMessageStream_ComplexPathWithoutSteps(t *testing.T) {
	client := services.NewMockClient()
	client.QueueResponses("No outline needed.", "Doing it now")
	engine := NewEngine(client, nil)

	events := collect(t, engine.ProcessMessageStream(context.Background(), []flowtypes.Message{userTurn("implement it")}, flowtypes.ConversationContext{}))

	assert.NotContains(t, kinds(events), flowtypes.EventToolCalls)
	assert.Equal(t, flowtypes.EventEnd, events[len(events)-1].Kind)
	assert.Equal(t, flowtypes.StageExecution, events[0].Stage)

	requests := client.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].SystemPrompt, "No outline needed.")
}

func TestProcessMessageStream_Failures(t *testing.T) {
	tests := []struct {
		name    string
		message string
		setup   func(*services.MockClient)
	}{
		{"stream setup fails", "hello", func(c *services.MockClient) { c.SetStreamError(errors.New("boom")) }},
		{"fails mid stream", "hello there friend", func(c *services.MockClient) { c.SetMidStreamError(errors.New("reset")) }},
		{"planner fails", "make a plan", func(c *services.MockClient) { c.SetSendError(errors.New("down")) }},
		{"not configured", "hello", func(c *services.MockClient) { c.SetConfigured(false) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := services.NewMockClient()
			tt.setup(client)
			engine := NewEngine(client, nil)

			events := collect(t, engine.ProcessMessageStream(context.Background(), []flowtypes.Message{userTurn(tt.message)}, flowtypes.ConversationContext{}))

			require.NotEmpty(t, events)
			last := events[len(events)-1]
			assert.Equal(t, flowtypes.EventError, last.Kind)
			assert.Equal(t, ErrorResponseText, last.Content)
			assert.Error(t, last.Err)

			errorCount := 0
			for _, ev := range events {
				if ev.Kind == flowtypes.EventError {
					errorCount++
				}
				assert.NotEqual(t, flowtypes.EventEnd, ev.Kind)
			}
			assert.Equal(t, 1, errorCount)
		})
	}
}

func TestProcessMessageStream_NoMessages(t *testing.T) {
	engine := NewEngine(services.NewMockClient(), nil)

	events := collect(t, engine.ProcessMessageStream(context.Background(), nil, flowtypes.ConversationContext{}))

	require.Len(t, events, 1)
	assert.Equal(t, flowtypes.EventError, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, errNoMessages)
}

// blockingClient streams one chunk and then waits for the caller to go away.
type blockingClient struct{}

func (blockingClient) GetProviderName() string { return "blocking" }
func (blockingClient) IsConfigured() bool      { return true }

func (blockingClient) SendChatCompletion(ctx context.Context, _ *flowtypes.ChatRequest, _ *flowtypes.ModelConfig) (string, error) {
	return "1. only step", nil
}

func (blockingClient) StreamChatCompletion(ctx context.Context, _ *flowtypes.ChatRequest, _ *flowtypes.ModelConfig) (<-chan flowtypes.StreamChunk, error) {
	ch := make(chan flowtypes.StreamChunk)
	go func() {
		defer close(ch)
		select {
		case ch <- flowtypes.StreamChunk{Content: "partial"}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func TestProcessMessageStream_Cancellation(t *testing.T) {
	for _, message := range []string{"hello", "build it"} {
		t.Run(message, func(t *testing.T) {
			engine := NewEngine(blockingClient{}, nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			events := engine.ProcessMessageStream(ctx, []flowtypes.Message{userTurn(message)}, flowtypes.ConversationContext{})

			for ev := range events {
				if ev.Kind == flowtypes.EventContent {
					break
				}
			}
			cancel()

			for _, ev := range collect(t, events) {
				assert.NotEqual(t, flowtypes.EventEnd, ev.Kind)
				assert.NotEqual(t, flowtypes.EventError, ev.Kind)
			}
		})
	}
}

func TestParseSteps(t *testing.T) {
	tests := []struct {
		name     string
		outline  string
		max      int
		expected []string
	}{
		{"numbered", "1. One\n2. Two", 0, []string{"One", "Two"}},
		{"mixed markers", "Intro\n1) One\n* Two\n- Three  \n", 0, []string{"One", "Two", "Three"}},
		{"capped", "1. a\n2. b\n3. c", 2, []string{"a", "b"}},
		{"no steps", "just prose", 5, nil},
		{"marker without text", "1.\n2. real", 0, []string{"real"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSteps(tt.outline, tt.max))
		})
	}
}

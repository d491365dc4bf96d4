package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/internal/logger"
	"stageflow/internal/services"
	"stageflow/pkg/flowtypes"
)

type lastMessageTrimmer struct {
	calls int
}

func (t *lastMessageTrimmer) Trim(messages []flowtypes.Message) []flowtypes.Message {
	t.calls++
	return messages[len(messages)-1:]
}

func TestProcessMessage_TextReply(t *testing.T) {
	client := services.NewMockClient()
	client.QueueResponses("Sure, tell me more about the project.")
	engine := NewEngine(client, nil)

	reply := engine.ProcessMessage(context.Background(), "hello", flowtypes.NewConversationContext(nil))

	assert.Equal(t, flowtypes.RoleAssistant, reply.Role)
	assert.Equal(t, "Sure, tell me more about the project.", reply.Content)
	assert.Equal(t, flowtypes.MessageTypeText, reply.Type)
	assert.Equal(t, flowtypes.StageUnderstanding, reply.Stage)
	assert.NotEmpty(t, reply.ID)
	assert.False(t, reply.Timestamp.IsZero())
}

func TestProcessMessage_MarkdownReply(t *testing.T) {
	client := services.NewMockClient()
	client.QueueResponses("Here you go:\n```go\nfmt.Println(\"hi\")\n```")
	engine := NewEngine(client, nil)

	reply := engine.ProcessMessage(context.Background(), "show me", flowtypes.NewConversationContext(nil))
	assert.Equal(t, flowtypes.MessageTypeMarkdown, reply.Type)
}

func TestProcessMessage_ProviderErrorBecomesApology(t *testing.T) {
	client := services.NewMockClient()
	client.SetSendError(errors.New("rate limited"))
	engine := NewEngine(client, nil)

	reply := engine.ProcessMessage(context.Background(), "let's plan", flowtypes.NewConversationContext(nil))

	assert.Equal(t, ErrorResponseText, reply.Content)
	assert.Equal(t, flowtypes.MessageTypeError, reply.Type)
	assert.Equal(t, flowtypes.RoleAssistant, reply.Role)
	assert.Equal(t, flowtypes.StagePlanning, reply.Stage)
}

func TestProcessMessage_ProviderErrorIsLoggedByComponent(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	client := services.NewMockClient()
	client.SetSendError(errors.New("rate limited"))
	engine := NewEngine(client, nil)

	engine.ProcessMessage(context.Background(), "hello", flowtypes.NewConversationContext(nil))

	assert.Contains(t, buf.String(), "workflow")
	assert.Contains(t, buf.String(), "Provider request failed")
	assert.Contains(t, buf.String(), "rate limited")
}

func TestProcessMessage_NotReady(t *testing.T) {
	client := services.NewMockClient()
	client.SetConfigured(false)

	for name, engine := range map[string]*Engine{
		"nil client":   NewEngine(nil, nil),
		"unconfigured": NewEngine(client, nil),
	} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, engine.Ready())
			reply := engine.ProcessMessage(context.Background(), "hello", flowtypes.ConversationContext{})
			assert.Equal(t, ErrorResponseText, reply.Content)
			assert.Equal(t, flowtypes.MessageTypeError, reply.Type)
		})
	}
	assert.Empty(t, client.Requests())
}

func TestProcessMessage_RequestShape(t *testing.T) {
	client := services.NewMockClient()
	engine := NewEngine(client, nil)

	conv := flowtypes.NewConversationContext(map[string]string{flowtypes.MetadataWorkspaceName: "Acme"})
	conv.Stage = flowtypes.StageUnderstanding
	conv.History = []flowtypes.Message{
		{Role: flowtypes.RoleUser, Content: "hi"},
		{Role: flowtypes.RoleAssistant, Content: "hello"},
		{Role: "tool", Content: "ignored"},
	}

	engine.ProcessMessage(context.Background(), "what next?", conv)

	requests := client.Requests()
	require.Len(t, requests, 1)
	req := requests[0]

	// three history entries put Understanding past its gate
	assert.Contains(t, req.SystemPrompt, "- Conversation stage: Planning")
	assert.Contains(t, req.SystemPrompt, "- Workspace: Acme")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, flowtypes.RoleUser, req.Messages[0].Role)
	assert.Equal(t, flowtypes.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, flowtypes.Message{Role: flowtypes.RoleUser, Content: "what next?"}, req.Messages[2])

	// the caller's context is left untouched
	assert.Equal(t, flowtypes.StageUnderstanding, conv.Stage)
	assert.Len(t, conv.History, 3)
}

func TestProcessMessage_TrimmerOnlyAffectsPayload(t *testing.T) {
	client := services.NewMockClient()
	trimmer := &lastMessageTrimmer{}
	engine := NewEngine(client, nil, WithHistoryTrimmer(trimmer))

	conv := flowtypes.ConversationContext{Stage: flowtypes.StagePlanning, History: historyOf(4)}
	reply := engine.ProcessMessage(context.Background(), "ok", conv)

	assert.Equal(t, flowtypes.StageExecution, reply.Stage)
	assert.Equal(t, 1, trimmer.calls)
	requests := client.Requests()
	require.Len(t, requests, 1)
	assert.Len(t, requests[0].Messages, 1)
}

func TestNewEngine_Options(t *testing.T) {
	engine := NewEngine(nil, nil,
		WithStageRules(StageRules{Policy: flowtypes.StagePolicyForwardOnly}),
		WithMaxPlanSteps(0),
	)
	assert.Equal(t, flowtypes.StagePolicyForwardOnly, engine.Policy())
	assert.Equal(t, defaultMaxPlanSteps, engine.maxPlanSteps)
	assert.NotNil(t, engine.model)

	engine = NewEngine(nil, nil, WithStagePolicy(flowtypes.StagePolicyForwardOnly), WithStageRules(DefaultStageRules()), WithMaxPlanSteps(3))
	assert.Equal(t, flowtypes.StagePolicyFreeJump, engine.Policy())
	assert.Equal(t, 3, engine.maxPlanSteps)
}

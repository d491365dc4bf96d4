// Package workflow implements the conversational stage engine: it decides which stage a turn
// belongs to, renders the stage-aware system prompt and delegates generation to an LLM provider.
package workflow

import (
	"context"

	"github.com/charmbracelet/log"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// ErrorResponseText is the fixed reply shown when a provider call fails.
const ErrorResponseText = "I apologize, but I encountered an error while processing your request. Please try again."

// HistoryTrimmer shrinks the message list sent to the provider.
// Implementations must keep the last message.
type HistoryTrimmer interface {
	Trim(messages []flowtypes.Message) []flowtypes.Message
}

// Engine is the workflow stage engine. It holds no per-conversation state; callers own the
// ConversationContext and pass it in on every turn.
type Engine struct {
	client       flowtypes.LLMClient
	model        *flowtypes.ModelConfig
	rules        StageRules
	trimmer      HistoryTrimmer
	maxPlanSteps int
	log          *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStagePolicy selects free-jump or forward-only keyword overrides.
func WithStagePolicy(policy flowtypes.StagePolicy) Option {
	return func(e *Engine) {
		e.rules.Policy = policy
	}
}

// WithStageRules replaces the keyword sets and progression gates. The policy of rules is kept
// unless it is empty.
func WithStageRules(rules StageRules) Option {
	return func(e *Engine) {
		policy := e.rules.Policy
		e.rules = rules
		if e.rules.Policy == "" {
			e.rules.Policy = policy
		}
	}
}

// WithHistoryTrimmer limits the history sent to the provider.
func WithHistoryTrimmer(trimmer HistoryTrimmer) Option {
	return func(e *Engine) {
		e.trimmer = trimmer
	}
}

// WithMaxPlanSteps caps the number of steps the complex workflow announces.
func WithMaxPlanSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPlanSteps = n
		}
	}
}

// NewEngine creates an engine that generates text with client using model.
// A nil client yields an engine that only determines stages and builds prompts.
func NewEngine(client flowtypes.LLMClient, model *flowtypes.ModelConfig, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		model:        model,
		rules:        DefaultStageRules(),
		maxPlanSteps: defaultMaxPlanSteps,
		log:          logger.NewStyledLogger("workflow"),
	}
	if e.model == nil {
		e.model = &flowtypes.ModelConfig{}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rules = e.rules.normalized()
	return e
}

// Ready reports whether the engine has a configured provider client.
func (e *Engine) Ready() bool {
	return e.client != nil && e.client.IsConfigured()
}

// Policy returns the stage policy in effect.
func (e *Engine) Policy() flowtypes.StagePolicy {
	return e.rules.Policy
}

// DetermineStage decides the stage for message given the conversation so far.
func (e *Engine) DetermineStage(message string, conv flowtypes.ConversationContext) flowtypes.Stage {
	return e.determine(message, conv.Stage, len(conv.History))
}

func (e *Engine) determine(message string, current flowtypes.Stage, historyLen int) flowtypes.Stage {
	stage, reason := e.rules.Determine(message, current, historyLen)
	logger.StageTransition(current.String(), stage.String(), reason)
	return stage
}

// ProcessMessage runs one non-streaming turn. It never fails: provider errors are logged and
// turned into a reply of type error carrying ErrorResponseText.
func (e *Engine) ProcessMessage(ctx context.Context, message string, conv flowtypes.ConversationContext) flowtypes.Message {
	stage := e.DetermineStage(message, conv)

	if !e.Ready() {
		e.log.Error("Workflow engine has no configured provider", "stage", stage)
		return errorReply(stage)
	}

	req := e.buildRequest(stage, conv, conv.History, message, "")
	e.log.Debug("Sending workflow turn", "provider", e.client.GetProviderName(), "stage", stage, "message_count", len(req.Messages))

	text, err := e.client.SendChatCompletion(ctx, req, e.model)
	if err != nil {
		e.log.Error("Provider request failed", "provider", e.client.GetProviderName(), "stage", stage, "error", err)
		return errorReply(stage)
	}

	return assistantReply(text, stage)
}

// buildRequest composes the provider request for a turn answered in stage.
// extraInstructions is appended to the system prompt when non-empty.
func (e *Engine) buildRequest(stage flowtypes.Stage, conv flowtypes.ConversationContext, history []flowtypes.Message, message string, extraInstructions string) *flowtypes.ChatRequest {
	staged := conv
	staged.Stage = stage

	prompt := BuildSystemPrompt(staged)
	if extraInstructions != "" {
		prompt += "\n\n" + extraInstructions
	}

	messages := providerMessages(history)
	messages = append(messages, flowtypes.Message{Role: flowtypes.RoleUser, Content: message})
	if e.trimmer != nil {
		messages = e.trimmer.Trim(messages)
	}

	return &flowtypes.ChatRequest{
		SystemPrompt: prompt,
		Messages:     messages,
	}
}

// providerMessages keeps only the roles every provider understands.
func providerMessages(history []flowtypes.Message) []flowtypes.Message {
	messages := make([]flowtypes.Message, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case flowtypes.RoleUser, flowtypes.RoleAssistant, flowtypes.RoleSystem:
			messages = append(messages, flowtypes.Message{Role: msg.Role, Content: msg.Content})
		default:
			continue
		}
	}
	return messages
}

func assistantReply(text string, stage flowtypes.Stage) flowtypes.Message {
	reply := flowtypes.NewMessage(flowtypes.RoleAssistant, text)
	reply.Type = flowtypes.ClassifyContent(text)
	reply.Stage = stage
	return reply
}

func errorReply(stage flowtypes.Stage) flowtypes.Message {
	reply := flowtypes.NewMessage(flowtypes.RoleAssistant, ErrorResponseText)
	reply.Type = flowtypes.MessageTypeError
	reply.Stage = stage
	return reply
}

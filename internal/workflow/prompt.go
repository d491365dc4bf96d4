package workflow

import (
	"strings"
	"text/template"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// Fallbacks substituted when the conversation metadata lacks a value.
const (
	FallbackCurrentPage   = "unknown"
	FallbackUserRole      = "User"
	FallbackWorkspaceName = "Default"
)

const systemPromptTemplate = `You are a helpful AI assistant embedded in a workspace management application.
You guide users through their work with a structured, stage-based conversation.

Current context:
- Page: {{.CurrentPage}}
- User role: {{.UserRole}}
- Workspace: {{.WorkspaceName}}
- Conversation stage: {{.Stage}}

Stage guidance:
Understanding: Ask clarifying questions about the user's goal, constraints and context before proposing anything.
Planning: Propose a clear, numbered plan. Explain the trade-offs between alternative approaches.
Execution: Carry out the agreed plan step by step with concrete instructions, configuration or code.
Refinement: Review what was produced, point out improvements and fold in the user's feedback.
Completion: Summarize what was accomplished, list follow-up actions and confirm the user is satisfied.

Follow the guidance for the current stage while keeping the whole conversation in mind.`

var systemPrompt = template.Must(template.New("system").Parse(systemPromptTemplate))

type promptData struct {
	CurrentPage   string
	UserRole      string
	WorkspaceName string
	Stage         string
}

// BuildSystemPrompt renders the system prompt for a conversation context.
// All five stage paragraphs are always included; only the context lines vary.
func BuildSystemPrompt(conv flowtypes.ConversationContext) string {
	data := promptData{
		CurrentPage:   conv.MetadataValue(flowtypes.MetadataCurrentPage, FallbackCurrentPage),
		UserRole:      conv.MetadataValue(flowtypes.MetadataUserRole, FallbackUserRole),
		WorkspaceName: conv.MetadataValue(flowtypes.MetadataWorkspaceName, FallbackWorkspaceName),
		Stage:         conv.Stage.String(),
	}

	var sb strings.Builder
	if err := systemPrompt.Execute(&sb, data); err != nil {
		logger.Error("System prompt rendering failed", "error", err)
	}
	return sb.String()
}

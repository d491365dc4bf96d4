package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"stageflow/pkg/flowtypes"
)

func TestBuildSystemPrompt_SubstitutesContext(t *testing.T) {
	conv := flowtypes.ConversationContext{
		Stage: flowtypes.StageExecution,
		Metadata: map[string]string{
			flowtypes.MetadataCurrentPage:   "/workspaces/42/settings",
			flowtypes.MetadataUserRole:      "Admin",
			flowtypes.MetadataWorkspaceName: "Acme Research",
		},
	}

	prompt := BuildSystemPrompt(conv)
	assert.Contains(t, prompt, "- Page: /workspaces/42/settings")
	assert.Contains(t, prompt, "- User role: Admin")
	assert.Contains(t, prompt, "- Workspace: Acme Research")
	assert.Contains(t, prompt, "- Conversation stage: Execution")
}

func TestBuildSystemPrompt_Fallbacks(t *testing.T) {
	prompt := BuildSystemPrompt(flowtypes.ConversationContext{
		Stage:    flowtypes.StageInitial,
		Metadata: map[string]string{flowtypes.MetadataUserRole: "   "},
	})

	assert.Contains(t, prompt, "- Page: unknown")
	assert.Contains(t, prompt, "- User role: User")
	assert.Contains(t, prompt, "- Workspace: Default")
	assert.Contains(t, prompt, "- Conversation stage: Initial")
}

func TestBuildSystemPrompt_IncludesEveryStageParagraph(t *testing.T) {
	for _, stage := range flowtypes.AllStages {
		prompt := BuildSystemPrompt(flowtypes.ConversationContext{Stage: stage})
		for _, paragraph := range []string{"Understanding:", "Planning:", "Execution:", "Refinement:", "Completion:"} {
			assert.Equal(t, 1, strings.Count(prompt, "\n"+paragraph), "stage %s paragraph %s", stage, paragraph)
		}
	}
}

func TestBuildSystemPrompt_IgnoresUnknownMetadata(t *testing.T) {
	plain := BuildSystemPrompt(flowtypes.ConversationContext{Stage: flowtypes.StagePlanning})
	extra := BuildSystemPrompt(flowtypes.ConversationContext{
		Stage:    flowtypes.StagePlanning,
		Metadata: map[string]string{"theme": "dark"},
	})
	assert.Equal(t, plain, extra)
}

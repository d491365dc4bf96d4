package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"stageflow/pkg/flowtypes"
)

const (
	defaultMaxPlanSteps = 8
	workflowStepTool    = "workflow_step"
)

const plannerInstructions = `Before answering, break the user's request into a short numbered outline of concrete steps.
Reply with the outline only, one step per line, formatted as "1. step".`

const executorInstructions = `Work through the following outline in order. Refer to steps by number.

Outline:
%s`

var stepLinePattern = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+?)\s*$`)

func isComplexStage(stage flowtypes.Stage) bool {
	return stage == flowtypes.StagePlanning || stage == flowtypes.StageExecution
}

type stepArguments struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
}

// runComplexWorkflow runs the planner step, announces its outline as tool calls and then streams
// the executor step with the outline folded into the system prompt.
func (e *Engine) runComplexWorkflow(em *emitter, conv flowtypes.ConversationContext, history []flowtypes.Message, message string) {
	if !em.emit(flowtypes.StreamEvent{Kind: flowtypes.EventStart}) {
		return
	}

	plannerReq := e.buildRequest(em.stage, conv, history, message, plannerInstructions)
	outline, err := e.client.SendChatCompletion(em.ctx, plannerReq, e.model)
	if err != nil {
		em.fail(fmt.Errorf("planner step failed: %w", err))
		return
	}
	if em.ctx.Err() != nil {
		return
	}

	steps := ParseSteps(outline, e.maxPlanSteps)
	if len(steps) > 0 {
		calls := make([]flowtypes.ToolCall, 0, len(steps))
		for i, step := range steps {
			args, err := json.Marshal(stepArguments{Step: i + 1, Description: step})
			if err != nil {
				em.fail(err)
				return
			}
			calls = append(calls, flowtypes.ToolCall{
				ID:        fmt.Sprintf("step-%d", i+1),
				Name:      workflowStepTool,
				Arguments: string(args),
			})
		}
		if !em.emit(flowtypes.StreamEvent{Kind: flowtypes.EventToolCalls, ToolCalls: calls}) {
			return
		}
	}

	executorReq := e.buildRequest(em.stage, conv, history, message, fmt.Sprintf(executorInstructions, formatOutline(steps, outline)))
	if e.forwardProviderStream(em, executorReq) {
		em.emit(flowtypes.StreamEvent{Kind: flowtypes.EventEnd})
	}
}

// ParseSteps extracts numbered or bulleted lines from a planner outline, up to max entries.
func ParseSteps(outline string, max int) []string {
	var steps []string
	for _, line := range strings.Split(outline, "\n") {
		match := stepLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		steps = append(steps, match[1])
		if max > 0 && len(steps) >= max {
			break
		}
	}
	return steps
}

func formatOutline(steps []string, raw string) string {
	if len(steps) == 0 {
		return strings.TrimSpace(raw)
	}
	lines := make([]string, len(steps))
	for i, step := range steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, step)
	}
	return strings.Join(lines, "\n")
}

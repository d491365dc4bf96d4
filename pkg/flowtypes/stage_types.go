package flowtypes

import (
	"fmt"
	"strings"
)

// Stage is a named phase of a guided conversation.
// Stages are declared in their canonical progression order.
type Stage int

const (
	// StageInitial - conversation created, nothing exchanged yet
	StageInitial Stage = iota
	// StageUnderstanding - gathering requirements and clarifying the goal
	StageUnderstanding
	// StagePlanning - proposing a plan or strategy
	StagePlanning
	// StageExecution - carrying out the plan step by step
	StageExecution
	// StageRefinement - improving on what was produced
	StageRefinement
	// StageCompletion - summarising and closing the conversation
	StageCompletion
)

// AllStages lists every stage in canonical order.
var AllStages = []Stage{
	StageInitial,
	StageUnderstanding,
	StagePlanning,
	StageExecution,
	StageRefinement,
	StageCompletion,
}

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "Initial"
	case StageUnderstanding:
		return "Understanding"
	case StagePlanning:
		return "Planning"
	case StageExecution:
		return "Execution"
	case StageRefinement:
		return "Refinement"
	case StageCompletion:
		return "Completion"
	default:
		return "Unknown"
	}
}

// IsValid reports whether s is one of the declared stages.
func (s Stage) IsValid() bool {
	return s >= StageInitial && s <= StageCompletion
}

// Before reports whether s comes earlier than other in the canonical order.
func (s Stage) Before(other Stage) bool {
	return s < other
}

// MarshalText encodes the stage by name so JSON and YAML output stay readable.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name produced by MarshalText.
func (s *Stage) UnmarshalText(text []byte) error {
	stage, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

// ParseStage converts a stage name (case-insensitive) back into a Stage.
func ParseStage(name string) (Stage, error) {
	trimmed := strings.TrimSpace(name)
	for _, stage := range AllStages {
		if strings.EqualFold(stage.String(), trimmed) {
			return stage, nil
		}
	}
	return StageInitial, fmt.Errorf("unknown stage '%s'", name)
}

// StagePolicy controls whether keyword overrides may move a conversation backwards.
type StagePolicy string

const (
	// StagePolicyFreeJump lets a keyword override select any stage, including earlier ones.
	StagePolicyFreeJump StagePolicy = "free-jump"
	// StagePolicyForwardOnly ignores keyword overrides that would regress the stage.
	StagePolicyForwardOnly StagePolicy = "forward-only"
)

// ParseStagePolicy validates a policy name. An empty name selects StagePolicyFreeJump.
func ParseStagePolicy(name string) (StagePolicy, error) {
	switch StagePolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", StagePolicyFreeJump:
		return StagePolicyFreeJump, nil
	case StagePolicyForwardOnly:
		return StagePolicyForwardOnly, nil
	default:
		return StagePolicyFreeJump, fmt.Errorf("unsupported stage policy '%s'. Supported policies: %s, %s",
			name, StagePolicyFreeJump, StagePolicyForwardOnly)
	}
}

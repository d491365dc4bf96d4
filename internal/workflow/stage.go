package workflow

import (
	"sort"
	"strings"

	"stageflow/pkg/flowtypes"
)

// KeywordRule forces a stage when any of its keywords appears in a message.
type KeywordRule struct {
	Stage    flowtypes.Stage
	Keywords []string
}

// Transition advances a stage once the history reaches Threshold messages.
type Transition struct {
	Next      flowtypes.Stage
	Threshold int
}

// StageRules holds the keyword overrides, progression gates and policy used to pick a stage.
type StageRules struct {
	Keywords    []KeywordRule
	Transitions map[flowtypes.Stage]Transition
	Policy      flowtypes.StagePolicy
}

// DefaultStageRules returns the stock keyword sets and message-count gates.
func DefaultStageRules() StageRules {
	return StageRules{
		Keywords: []KeywordRule{
			{Stage: flowtypes.StagePlanning, Keywords: []string{"plan", "strategy", "approach"}},
			{Stage: flowtypes.StageExecution, Keywords: []string{"execute", "implement", "build"}},
			{Stage: flowtypes.StageRefinement, Keywords: []string{"refine", "improve"}},
			{Stage: flowtypes.StageCompletion, Keywords: []string{"complete", "summarize"}},
		},
		Transitions: map[flowtypes.Stage]Transition{
			flowtypes.StageInitial:       {Next: flowtypes.StageUnderstanding, Threshold: 0},
			flowtypes.StageUnderstanding: {Next: flowtypes.StagePlanning, Threshold: 2},
			flowtypes.StagePlanning:      {Next: flowtypes.StageExecution, Threshold: 4},
			flowtypes.StageExecution:     {Next: flowtypes.StageRefinement, Threshold: 6},
			flowtypes.StageRefinement:    {Next: flowtypes.StageCompletion, Threshold: 8},
		},
		Policy: flowtypes.StagePolicyFreeJump,
	}
}

// normalized returns a copy with keyword rules in stage declaration order and lowercased keywords.
// Rules for the same stage keep their relative order.
func (r StageRules) normalized() StageRules {
	rules := make([]KeywordRule, 0, len(r.Keywords))
	for _, rule := range r.Keywords {
		keywords := make([]string, 0, len(rule.Keywords))
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword != "" {
				keywords = append(keywords, keyword)
			}
		}
		rules = append(rules, KeywordRule{Stage: rule.Stage, Keywords: keywords})
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Stage < rules[j].Stage })

	transitions := make(map[flowtypes.Stage]Transition, len(r.Transitions))
	for stage, transition := range r.Transitions {
		transitions[stage] = transition
	}

	policy := r.Policy
	if policy == "" {
		policy = flowtypes.StagePolicyFreeJump
	}

	return StageRules{Keywords: rules, Transitions: transitions, Policy: policy}
}

// Determine picks the stage for a message given the current stage and history length.
// The second result names the rule that decided, for logging.
//
// Keyword overrides are checked first in stage declaration order. Under the free-jump policy a
// match wins even when it moves the conversation backwards; forward-only skips such matches.
// Without an override the current stage advances once its message-count gate is reached.
func (r StageRules) Determine(message string, current flowtypes.Stage, historyLen int) (flowtypes.Stage, string) {
	lowered := strings.ToLower(message)

	for _, rule := range r.Keywords {
		if !containsAny(lowered, rule.Keywords) {
			continue
		}
		if r.Policy == flowtypes.StagePolicyForwardOnly && rule.Stage.Before(current) {
			continue
		}
		return rule.Stage, "keyword"
	}

	if transition, ok := r.Transitions[current]; ok && historyLen >= transition.Threshold {
		return transition.Next, "threshold"
	}

	return current, "unchanged"
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

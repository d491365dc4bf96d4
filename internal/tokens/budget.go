package tokens

import (
	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// Budget trims provider payloads to a maximum token count.
// A zero or negative limit disables trimming.
type Budget struct {
	counter *Counter
	limit   int
}

// NewBudget creates a budget of limit tokens measured by counter.
func NewBudget(counter *Counter, limit int) *Budget {
	if counter == nil {
		counter = NewHeuristicCounter()
	}
	return &Budget{counter: counter, limit: limit}
}

// Limit returns the configured limit.
func (b *Budget) Limit() int {
	return b.limit
}

// Trim keeps the most recent messages that fit the budget. The last message is always kept,
// even when it alone exceeds the limit. A trimmed payload starts with a user turn.
func (b *Budget) Trim(messages []flowtypes.Message) []flowtypes.Message {
	if b.limit <= 0 || len(messages) == 0 {
		return messages
	}

	last := len(messages) - 1
	used := b.counter.CountMessage(messages[last])
	start := last
	for i := last - 1; i >= 0; i-- {
		cost := b.counter.CountMessage(messages[i])
		if used+cost > b.limit {
			break
		}
		used += cost
		start = i
	}
	if start > 0 {
		for start < last && messages[start].Role != flowtypes.RoleUser {
			used -= b.counter.CountMessage(messages[start])
			start++
		}
	}

	if start > 0 {
		logger.Debug("Trimmed history to token budget", "dropped", start, "kept", len(messages)-start, "tokens", used, "limit", b.limit)
	}
	return messages[start:]
}

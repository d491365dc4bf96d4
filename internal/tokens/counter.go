// Package tokens estimates prompt sizes and trims conversation history to a token budget.
package tokens

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

const (
	defaultEncoding = "cl100k_base"
	// messageOverhead approximates the per-message framing tokens providers add.
	messageOverhead = 4
)

// Counter counts tokens with tiktoken when the encoding is available and falls back to a
// character heuristic otherwise.
type Counter struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool
	mu           sync.RWMutex
}

// NewCounter creates a counter for the named encoding.
func NewCounter(encodingName string) *Counter {
	c := &Counter{encodingName: encodingName}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// offline environments may lack the BPE cache
		logger.Debug("Token encoding unavailable, using heuristic", "encoding", encodingName, "error", err)
		c.fallback = true
		return c
	}
	c.encoder = enc
	return c
}

// NewCounterForModel picks the encoding that matches model.
func NewCounterForModel(model string) *Counter {
	return NewCounter(EncodingForModel(model))
}

// NewHeuristicCounter creates a counter that never loads an encoding.
func NewHeuristicCounter() *Counter {
	return &Counter{encodingName: defaultEncoding, fallback: true}
}

// IsPrecise reports whether counts come from a real encoding.
func (c *Counter) IsPrecise() bool {
	return !c.fallback
}

// EncodingName returns the encoding name.
func (c *Counter) EncodingName() string {
	return c.encodingName
}

// CountText counts the tokens of a single string.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if c.fallback {
		return heuristicCount(text)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessage counts one message including framing overhead.
func (c *Counter) CountMessage(msg flowtypes.Message) int {
	return messageOverhead + c.CountText(string(msg.Role)) + c.CountText(msg.Content)
}

// Count returns the total for a message list.
func (c *Counter) Count(messages []flowtypes.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.CountMessage(msg)
	}
	return total
}

// heuristicCount estimates ~4 ASCII characters per token and ~1.5 tokens per CJK character.
func heuristicCount(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	estimate := int(float64(cjk)*1.5 + float64(other)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

// EncodingForModel maps a model name to its tiktoken encoding.
func EncodingForModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "chatgpt-4o"), strings.HasPrefix(m, "gpt-4.1"), strings.HasPrefix(m, "gpt-5"):
		return "o200k_base"
	default:
		return defaultEncoding
	}
}

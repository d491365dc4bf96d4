package store

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"stageflow/pkg/flowtypes"
)

// Transcript is the exported form of a conversation.
type Transcript struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name,omitempty"`
	Stage     string            `yaml:"stage"`
	CreatedAt time.Time         `yaml:"created_at"`
	UpdatedAt time.Time         `yaml:"updated_at"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
	Messages  []TranscriptEntry `yaml:"messages"`
}

// TranscriptEntry is one exported message.
type TranscriptEntry struct {
	Role      string    `yaml:"role"`
	Stage     string    `yaml:"stage"`
	Type      string    `yaml:"type"`
	Timestamp time.Time `yaml:"timestamp"`
	Content   string    `yaml:"content"`
}

// NewTranscript converts a conversation into its export form.
func NewTranscript(conv *flowtypes.Conversation) Transcript {
	t := Transcript{
		ID:        conv.ID,
		Name:      conv.Name,
		Stage:     conv.Stage.String(),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Metadata:  copyMetadata(conv.Metadata),
		Messages:  make([]TranscriptEntry, 0, len(conv.History)),
	}
	for _, msg := range conv.History {
		t.Messages = append(t.Messages, TranscriptEntry{
			Role:      string(msg.Role),
			Stage:     msg.Stage.String(),
			Type:      string(msg.Type),
			Timestamp: msg.Timestamp,
			Content:   msg.Content,
		})
	}
	return t
}

// ExportYAML writes conv as a YAML transcript.
func ExportYAML(w io.Writer, conv *flowtypes.Conversation) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(NewTranscript(conv)); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return encoder.Close()
}

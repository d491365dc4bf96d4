// Package store persists conversations: their stage, metadata and ordered message history.
package store

import (
	"fmt"
	"strings"

	"stageflow/pkg/flowtypes"
)

// Store backends.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// Open creates the store named by kind. dbPath is only used by the sqlite backend.
func Open(kind, dbPath string) (flowtypes.ConversationStore, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unsupported store %q (supported: %s, %s)", kind, KindMemory, KindSQLite)
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", flowtypes.ErrConversationNotFound, id)
}

func copyMetadata(metadata map[string]string) map[string]string {
	copied := make(map[string]string, len(metadata))
	for key, value := range metadata {
		copied[key] = value
	}
	return copied
}

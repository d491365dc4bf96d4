package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"stageflow/internal/version"
	"stageflow/pkg/flowtypes"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "stageflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s flowtypes.ConversationStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestStore_CreateAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()
		metadata := map[string]string{flowtypes.MetadataWorkspaceName: "Acme"}

		conv, err := s.Create(ctx, "launch", metadata)
		require.NoError(t, err)
		metadata[flowtypes.MetadataWorkspaceName] = "changed"

		assert.NotEmpty(t, conv.ID)
		assert.Equal(t, flowtypes.StageInitial, conv.Stage)
		assert.Empty(t, conv.History)

		loaded, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "launch", loaded.Name)
		assert.Equal(t, "Acme", loaded.Metadata[flowtypes.MetadataWorkspaceName])
		assert.Equal(t, flowtypes.StageInitial, loaded.Stage)
		assert.NotNil(t, loaded.History)
	})
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "", nil)
		require.NoError(t, err)

		for i, content := range []string{"first", "second", "third", "fourth"} {
			msg := flowtypes.NewMessage(flowtypes.RoleUser, content)
			if i%2 == 1 {
				msg.Role = flowtypes.RoleAssistant
				msg.Type = flowtypes.MessageTypeMarkdown
				msg.Stage = flowtypes.StagePlanning
			}
			require.NoError(t, s.AppendMessage(ctx, conv.ID, msg))
		}

		loaded, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, loaded.History, 4)
		for i, content := range []string{"first", "second", "third", "fourth"} {
			assert.Equal(t, content, loaded.History[i].Content)
		}
		assert.Equal(t, flowtypes.RoleAssistant, loaded.History[1].Role)
		assert.Equal(t, flowtypes.MessageTypeMarkdown, loaded.History[1].Type)
		assert.Equal(t, flowtypes.StagePlanning, loaded.History[1].Stage)
		assert.NotEmpty(t, loaded.History[0].ID)
		assert.False(t, loaded.History[0].Timestamp.IsZero())
	})
}

func TestStore_ReadsAreCopies(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "", map[string]string{"k": "v"})
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, conv.ID, flowtypes.NewMessage(flowtypes.RoleUser, "hi")))

		loaded, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		loaded.History[0].Content = "mutated"
		loaded.Metadata["k"] = "mutated"

		again, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "hi", again.History[0].Content)
		assert.Equal(t, "v", again.Metadata["k"])
	})
}

func TestStore_SetStageAndReset(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "", map[string]string{flowtypes.MetadataUserRole: "Admin"})
		require.NoError(t, err)

		require.NoError(t, s.SetStage(ctx, conv.ID, flowtypes.StageRefinement))
		require.NoError(t, s.AppendMessage(ctx, conv.ID, flowtypes.NewMessage(flowtypes.RoleUser, "hi")))

		loaded, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, flowtypes.StageRefinement, loaded.Stage)

		require.NoError(t, s.Reset(ctx, conv.ID))
		loaded, err = s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, flowtypes.StageInitial, loaded.Stage)
		assert.Empty(t, loaded.History)
		assert.Equal(t, "Admin", loaded.Metadata[flowtypes.MetadataUserRole])
	})
}

func TestStore_NotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, flowtypes.ErrConversationNotFound)
		assert.ErrorIs(t, s.AppendMessage(ctx, "missing", flowtypes.NewMessage(flowtypes.RoleUser, "x")), flowtypes.ErrConversationNotFound)
		assert.ErrorIs(t, s.SetStage(ctx, "missing", flowtypes.StagePlanning), flowtypes.ErrConversationNotFound)
		assert.ErrorIs(t, s.Reset(ctx, "missing"), flowtypes.ErrConversationNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "missing"), flowtypes.ErrConversationNotFound)
	})
}

func TestStore_ListAndDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()
		first, err := s.Create(ctx, "first", nil)
		require.NoError(t, err)
		second, err := s.Create(ctx, "second", nil)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, first.ID, flowtypes.NewMessage(flowtypes.RoleUser, "bump")))

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)

		require.NoError(t, s.Delete(ctx, first.ID))
		list, err = s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, second.ID, list[0].ID)

		_, err = s.Get(ctx, first.ID)
		assert.ErrorIs(t, err, flowtypes.ErrConversationNotFound)
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	eachStore(t, func(t *testing.T, s flowtypes.ConversationStore) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "", nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.AppendMessage(ctx, conv.ID, flowtypes.NewMessage(flowtypes.RoleUser, "msg")))
			}()
		}
		wg.Wait()

		loaded, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Len(t, loaded.History, 10)
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stageflow.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	conv, err := s.Create(ctx, "durable", nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, conv.ID, flowtypes.NewMessage(flowtypes.RoleUser, "remember me")))
	require.NoError(t, s.SetStage(ctx, conv.ID, flowtypes.StageCompletion))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, flowtypes.StageCompletion, loaded.Stage)
	require.Len(t, loaded.History, 1)
	assert.Equal(t, "remember me", loaded.History[0].Content)
	assert.Equal(t, path, reopened.Path())
}

func TestSQLiteStore_RecordsAppVersion(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		expected string
	}{
		{"fresh database", "", version.Version},
		{"older version is upgraded", "0.0.1", version.Version},
		{"newer version is kept", "99.0.0", "99.0.0"},
		{"unparsable version is replaced", "garbage", version.Version},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stageflow.db")
			s, err := NewSQLiteStore(path)
			require.NoError(t, err)
			if tt.stored != "" {
				_, err = s.db.Exec(`UPDATE meta SET value = ? WHERE key = 'app_version'`, tt.stored)
				require.NoError(t, err)
			}
			require.NoError(t, s.Close())

			reopened, err := NewSQLiteStore(path)
			require.NoError(t, err)
			defer reopened.Close()

			got, err := reopened.AppVersion()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open("SQLite", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("sqlite", " ")
	assert.Error(t, err)

	_, err = Open("postgres", "")
	assert.ErrorContains(t, err, "unsupported store")
}

func TestExportYAML(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.Create(ctx, "export me", map[string]string{flowtypes.MetadataCurrentPage: "/home"})
	require.NoError(t, err)

	reply := flowtypes.NewMessage(flowtypes.RoleAssistant, "```sh\nls\n```")
	reply.Type = flowtypes.MessageTypeMarkdown
	reply.Stage = flowtypes.StageExecution
	require.NoError(t, s.AppendMessage(ctx, conv.ID, flowtypes.NewMessage(flowtypes.RoleUser, "build it")))
	require.NoError(t, s.AppendMessage(ctx, conv.ID, reply))
	require.NoError(t, s.SetStage(ctx, conv.ID, flowtypes.StageExecution))

	loaded, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, ExportYAML(&out, loaded))

	var decoded Transcript
	require.NoError(t, yaml.Unmarshal([]byte(out.String()), &decoded))
	assert.Equal(t, conv.ID, decoded.ID)
	assert.Equal(t, "export me", decoded.Name)
	assert.Equal(t, "Execution", decoded.Stage)
	assert.Equal(t, "/home", decoded.Metadata[flowtypes.MetadataCurrentPage])
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "user", decoded.Messages[0].Role)
	assert.Equal(t, "Initial", decoded.Messages[0].Stage)
	assert.Equal(t, "markdown", decoded.Messages[1].Type)
	assert.Equal(t, "```sh\nls\n```", decoded.Messages[1].Content)
	assert.Contains(t, out.String(), "stage: Execution")
}

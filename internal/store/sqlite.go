package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"stageflow/internal/logger"
	"stageflow/internal/version"
	"stageflow/pkg/flowtypes"
)

// SQLiteStore persists conversations in a SQLite database in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Debug("Opened conversation database", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		stage      TEXT NOT NULL DEFAULT 'Initial',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		id              TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		type            TEXT NOT NULL DEFAULT 'text',
		stage           TEXT NOT NULL DEFAULT 'Initial',
		created_at      TEXT NOT NULL,
		PRIMARY KEY(conversation_id, seq)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.recordAppVersion()
}

// recordAppVersion stores the newest stageflow version that opened the database.
func (s *SQLiteStore) recordAppVersion() error {
	stored, err := s.AppVersion()
	if err != nil {
		return err
	}
	if stored != "" {
		cmp, err := version.CompareVersions(stored, version.Version)
		if err == nil && cmp > 0 {
			logger.Warn("Conversation database was written by a newer stageflow", "db_version", stored, "version", version.Version)
			return nil
		}
		if err == nil && cmp == 0 {
			return nil
		}
	}
	_, err = s.db.Exec(`
		INSERT INTO meta (key, value) VALUES ('app_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, version.Version)
	return err
}

// AppVersion returns the stageflow version recorded in the database, or "" if none.
func (s *SQLiteStore) AppVersion() (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'app_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read app version: %w", err)
	}
	return v, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, name string, metadata map[string]string) (*flowtypes.Conversation, error) {
	now := time.Now().UTC()
	conv := &flowtypes.Conversation{
		ID:                  uuid.New().String(),
		Name:                name,
		CreatedAt:           now,
		UpdatedAt:           now,
		ConversationContext: flowtypes.NewConversationContext(metadata),
	}

	metadataJSON, err := json.Marshal(conv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, name, stage, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Name, conv.Stage.String(), string(metadataJSON), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*flowtypes.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, stage, metadata, created_at, updated_at
		FROM conversations WHERE id=?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	history, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.History = history
	return conv, nil
}

// List returns conversations without their history, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]*flowtypes.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, stage, metadata, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	list := []*flowtypes.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, conv)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg flowtypes.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now().UTC())
	if err := touch(ctx, tx, id, now); err != nil {
		return err
	}

	var seq int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id=?", id).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	msgType := msg.Type
	if msgType == "" {
		msgType = flowtypes.MessageTypeText
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq, id, role, content, type, stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, seq, msg.ID, string(msg.Role), msg.Content, string(msgType), msg.Stage.String(), formatTime(timestamp.UTC()),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetStage(ctx context.Context, id string, stage flowtypes.Stage) error {
	return s.exec(ctx, id, "UPDATE conversations SET stage=?, updated_at=? WHERE id=?", stage.String())
}

// Reset clears the history and returns the conversation to the initial stage. Metadata is kept.
func (s *SQLiteStore) Reset(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET stage=?, updated_at=? WHERE id=?",
		flowtypes.StageInitial.String(), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	if err := expectRow(res, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id=?", id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return expectRow(res, id)
}

// exec runs an update of the form "SET col=?, updated_at=? WHERE id=?".
func (s *SQLiteStore) exec(ctx context.Context, id, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return expectRow(res, id)
}

func (s *SQLiteStore) loadMessages(ctx context.Context, id string) ([]flowtypes.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, type, stage, created_at
		FROM messages WHERE conversation_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []flowtypes.Message{}
	for rows.Next() {
		var msg flowtypes.Message
		var role, msgType, stage, created string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msgType, &stage, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = flowtypes.Role(role)
		msg.Type = flowtypes.MessageType(msgType)
		msg.Stage = parseStoredStage(stage)
		msg.Timestamp = parseTime(created)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*flowtypes.Conversation, error) {
	var conv flowtypes.Conversation
	var stage, metadata, created, updated string
	if err := row.Scan(&conv.ID, &conv.Name, &stage, &metadata, &created, &updated); err != nil {
		return nil, err
	}
	conv.Stage = parseStoredStage(stage)
	conv.History = []flowtypes.Message{}
	conv.Metadata = map[string]string{}
	if err := json.Unmarshal([]byte(metadata), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	conv.CreatedAt = parseTime(created)
	conv.UpdatedAt = parseTime(updated)
	return &conv, nil
}

func touch(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at=? WHERE id=?", now, id)
	if err != nil {
		return fmt.Errorf("update conversation timestamp: %w", err)
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func parseStoredStage(value string) flowtypes.Stage {
	stage, err := flowtypes.ParseStage(value)
	if err != nil {
		logger.Warn("Unknown stored stage, using Initial", "stage", value)
		return flowtypes.StageInitial
	}
	return stage
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

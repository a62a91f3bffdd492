package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentgrid/core"
)

// SQLite is a file-backed store. One instance wraps one database; the
// Conversations and Agents views expose the engine-facing interfaces.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer at a time keeps modernc's driver happy under concurrency.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	s := &SQLite{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) createSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS conversations (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created INTEGER NOT NULL,
	updated INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated DESC);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	agent_id        TEXT,
	agent_name      TEXT,
	error           TEXT,
	metadata        TEXT,
	timestamp       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS agents (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	type          TEXT NOT NULL,
	description   TEXT,
	capabilities  TEXT NOT NULL,
	config        TEXT NOT NULL,
	active        INTEGER NOT NULL,
	registered_at INTEGER NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// Conversations returns the conversation store view.
func (s *SQLite) Conversations() core.ConversationStore { return &sqliteConversations{db: s.db} }

// Agents returns the agent definition store view.
func (s *SQLite) Agents() core.AgentStore { return &sqliteAgents{db: s.db} }

type sqliteConversations struct {
	db *sql.DB
}

var _ core.ConversationStore = (*sqliteConversations)(nil)

func (s *sqliteConversations) Create(ctx context.Context, id, userID string) (*core.Conversation, error) {
	if id == "" {
		id = core.NewID()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created, updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, userID, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *sqliteConversations) Get(ctx context.Context, id string) (*core.Conversation, error) {
	var userID string
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, created, updated FROM conversations WHERE id = ?`, id,
	).Scan(&userID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewError(core.CodeNotFound, "conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	conv := &core.Conversation{
		ID:      id,
		UserID:  userID,
		Created: time.Unix(0, created).UTC(),
		Updated: time.Unix(0, updated).UTC(),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, agent_id, agent_name, error, metadata, timestamp
		 FROM messages WHERE conversation_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg core.Message
		var agentID, agentName, errText, metadata sql.NullString
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &agentID, &agentName, &errText, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ConversationID = id
		msg.AgentID = agentID.String
		msg.AgentName = agentName.String
		msg.Error = errText.String
		msg.Timestamp = time.Unix(0, ts).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return conv, nil
}

func (s *sqliteConversations) AppendMessage(ctx context.Context, conversationID string, msg core.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewError(core.CodeNotFound, "conversation %s not found", conversationID)
	}

	var metadata []byte
	if len(msg.Metadata) > 0 {
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, agent_id, agent_name, error, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Role, msg.Content, msg.AgentID, msg.AgentName, msg.Error, string(metadata), msg.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteConversations) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*core.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE user_id = ? ORDER BY updated DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	out := make([]*core.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

type sqliteAgents struct {
	db *sql.DB
}

var _ core.AgentStore = (*sqliteAgents)(nil)

func (s *sqliteAgents) Put(ctx context.Context, def *core.AgentDefinition) error {
	capabilities, err := json.Marshal(def.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	config, err := json.Marshal(def.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	active := 0
	if def.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, type, description, capabilities, config, active, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			description = excluded.description,
			capabilities = excluded.capabilities,
			config = excluded.config,
			active = excluded.active`,
		def.ID, def.Name, def.Type, def.Description, string(capabilities), string(config), active, def.RegisteredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

func (s *sqliteAgents) Get(ctx context.Context, id string) (*core.AgentDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, description, capabilities, config, active, registered_at
		 FROM agents WHERE id = ?`, id)
	def, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewError(core.CodeNotFound, "agent %s not found", id)
	}
	return def, err
}

func (s *sqliteAgents) List(ctx context.Context) ([]*core.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, description, capabilities, config, active, registered_at
		 FROM agents ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*core.AgentDefinition
	for rows.Next() {
		def, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*core.AgentDefinition, error) {
	var def core.AgentDefinition
	var description sql.NullString
	var capabilities, config string
	var active int
	var registeredAt int64
	if err := row.Scan(&def.ID, &def.Name, &def.Type, &description, &capabilities, &config, &active, &registeredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	def.Description = description.String
	if err := json.Unmarshal([]byte(capabilities), &def.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(config), &def.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	def.Active = active != 0
	def.RegisteredAt = time.Unix(0, registeredAt).UTC()
	return &def, nil
}

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/sqldb"
)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS agent_checkpoints (
	session_id TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	suspended  BOOLEAN NOT NULL,
	question   TEXT,
	messages   INTEGER NOT NULL,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLStore keeps checkpoints in the relational backend. Both sqlite and
// Postgres accept the same upsert.
type SQLStore struct {
	db  *sqldb.DB
	now func() time.Time
}

// NewSQLStore creates the checkpoint table if needed.
func NewSQLStore(ctx context.Context, db *sqldb.DB) (*SQLStore, error) {
	if _, err := db.SQL().ExecContext(ctx, checkpointSchema); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Save(ctx context.Context, st *engine.ConversationState) error {
	st.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	m := MetaOf(st)
	q := s.db.Rebind(`INSERT INTO agent_checkpoints
		(session_id, run_id, stage, suspended, question, messages, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			run_id = excluded.run_id,
			stage = excluded.stage,
			suspended = excluded.suspended,
			question = excluded.question,
			messages = excluded.messages,
			state = excluded.state,
			updated_at = excluded.updated_at`)
	_, err = s.db.SQL().ExecContext(ctx, q,
		m.SessionID, m.RunID, string(m.Stage), m.Suspended, m.Question, m.Messages, string(data), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", st.SessionID, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, sessionID string) (*engine.ConversationState, error) {
	var data string
	err := s.db.SQL().QueryRowContext(ctx,
		s.db.Rebind(`SELECT state FROM agent_checkpoints WHERE session_id = ?`), sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	var st engine.ConversationState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &st, nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.SQL().ExecContext(ctx,
		s.db.Rebind(`DELETE FROM agent_checkpoints WHERE session_id = ?`), sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT session_id, run_id, stage, suspended, question, messages, updated_at
		FROM agent_checkpoints ORDER BY updated_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	metas := []Meta{}
	for rows.Next() {
		var (
			m        Meta
			stage    string
			question sql.NullString
		)
		if err := rows.Scan(&m.SessionID, &m.RunID, &stage, &m.Suspended, &question, &m.Messages, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Stage = engine.Stage(stage)
		m.Question = question.String
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

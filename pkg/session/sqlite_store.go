package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sessionTable = "orchestrator_sessions"

// SQLiteStore persists session contexts in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed session store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			context_json BLOB NOT NULL
		);`, sessionTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at);`, sessionTable, sessionTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) a SQLite database at path and wraps it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Context, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT context_json FROM %s WHERE session_id = ?", sessionTable), sessionID)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var sc Context
	if err := json.Unmarshal(blob, &sc); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sc, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sc *Context) error {
	blob, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sc.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (session_id, user_id, updated_at, context_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				user_id = excluded.user_id,
				updated_at = excluded.updated_at,
				context_json = excluded.context_json`, sessionTable),
		sc.SessionID, sc.UserID, sc.LastUpdatedAt.Unix(), blob)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", sessionTable), sessionID)
	return err
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT session_id FROM %s ORDER BY session_id", sessionTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/pkg/errors"

	_ "modernc.org/sqlite"
)

const itemTable = "calendar_items"

// SQLiteStore persists calendar items in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed calendar store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			date TEXT NOT NULL,
			start TEXT NOT NULL,
			end TEXT NOT NULL,
			attendees_json BLOB,
			notes TEXT NOT NULL DEFAULT ''
		);`, itemTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_date ON %s(date);`, itemTable, itemTable),
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

func (s *SQLiteStore) Query(ctx context.Context, filter QueryFilter) ([]Item, error) {
	query := fmt.Sprintf("SELECT id, title, date, start, end, attendees_json, notes FROM %s", itemTable)
	var args []any
	if filter.Date != "" {
		query += " WHERE date = ?"
		args = append(args, filter.Date)
	}
	query += " ORDER BY date, start"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var item Item
		var attendees []byte
		if err := rows.Scan(&item.ID, &item.Title, &item.Date, &item.Start, &item.End, &attendees, &item.Notes); err != nil {
			return nil, err
		}
		if len(attendees) > 0 {
			if err := json.Unmarshal(attendees, &item.Attendees); err != nil {
				return nil, err
			}
		}
		if matches(item, filter) {
			out = append(out, item)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CheckConflict(ctx context.Context, date, start, end string) (*Item, error) {
	items, err := s.Query(ctx, QueryFilter{Date: date})
	if err != nil {
		return nil, err
	}
	probe := Item{Date: date, Start: start, End: end}
	for _, item := range items {
		if overlaps(item, probe) {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (s *SQLiteStore) Create(ctx context.Context, item Item) error {
	conflict, err := s.CheckConflict(ctx, item.Date, item.Start, item.End)
	if err != nil {
		return err
	}
	if conflict != nil {
		return errors.New(errors.CodeTimeConflict,
			fmt.Sprintf("%s overlaps %q (%s–%s)", item.Date, conflict.Title, conflict.Start, conflict.End), nil).
			WithContext("conflicting_item", conflict.ID)
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	attendees, err := json.Marshal(item.Attendees)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, title, date, start, end, attendees_json, notes) VALUES (?, ?, ?, ?, ?, ?, ?)", itemTable),
		item.ID, item.Title, item.Date, item.Start, item.End, attendees, item.Notes)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

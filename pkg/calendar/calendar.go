// Package calendar is the narrow boundary to the scheduled-item store used
// for conflict checks and item creation. Dates are ISO (2006-01-02), times
// are zero-padded 24h (15:04) so lexical comparison is chronological.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/pkg/errors"
)

// Item is one scheduled entry.
type Item struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Attendees []string `json:"attendees,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// QueryFilter narrows a query; zero values match everything.
type QueryFilter struct {
	Date    string
	Keyword string
}

// Store is the calendar/task store contract the orchestration core depends
// on.
type Store interface {
	// Query returns items matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Item, error)

	// CheckConflict returns the first item overlapping the window, or nil.
	CheckConflict(ctx context.Context, date, start, end string) (*Item, error)

	// Create adds an item, returning TIME_CONFLICT if it overlaps.
	Create(ctx context.Context, item Item) error
}

func overlaps(a, b Item) bool {
	return a.Date == b.Date && a.Start < b.End && b.Start < a.End
}

func matches(item Item, filter QueryFilter) bool {
	if filter.Date != "" && item.Date != filter.Date {
		return false
	}
	if filter.Keyword != "" {
		kw := strings.ToLower(filter.Keyword)
		if !strings.Contains(strings.ToLower(item.Title), kw) &&
			!strings.Contains(strings.ToLower(item.Notes), kw) {
			return false
		}
	}
	return true
}

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Item
}

// NewMemoryStore creates an empty in-memory calendar.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if matches(item, filter) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *MemoryStore) CheckConflict(_ context.Context, date, start, end string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	probe := Item{Date: date, Start: start, End: end}
	for _, item := range s.items {
		if overlaps(item, probe) {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Create(ctx context.Context, item Item) error {
	if conflict, err := s.CheckConflict(ctx, item.Date, item.Start, item.End); err != nil {
		return err
	} else if conflict != nil {
		return errors.New(errors.CodeTimeConflict,
			fmt.Sprintf("%s overlaps %q (%s–%s)", item.Date, conflict.Title, conflict.Start, conflict.End), nil).
			WithContext("conflicting_item", conflict.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.items = append(s.items, item)
	return nil
}

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence boundary for session state: get/set/delete by
// session key plus key enumeration for sweep purposes.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Context, error)
	Put(ctx context.Context, sc *Context) error
	Delete(ctx context.Context, sessionID string) error
	Keys(ctx context.Context) ([]string, error)
}

// InMemoryStore implements Store with in-process storage. Suitable for
// development, testing, and single-instance deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Context
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Context)}
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *sc
	return &clone, nil
}

func (s *InMemoryStore) Put(_ context.Context, sc *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sc
	s.sessions[sc.SessionID] = &clone
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ManagerConfig bounds session state growth.
type ManagerConfig struct {
	// MaxHistory caps execution history entries per session.
	MaxHistory int

	// IdleTimeout evicts sessions whose LastUpdatedAt is older than this.
	IdleTimeout time.Duration
}

// DefaultManagerConfig returns the defaults: 50 history entries, 30 minute
// idle eviction.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxHistory:  50,
		IdleTimeout: 30 * time.Minute,
	}
}

// Manager is the single authoritative mutation point for session state. It
// serializes turns per session key: at most one Update for a given session
// is in flight at a time.
type Manager struct {
	store  Store
	config ManagerConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wraps a store.
func NewManager(store Store, config ManagerConfig) *Manager {
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultManagerConfig().MaxHistory
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultManagerConfig().IdleTimeout
	}
	return &Manager{
		store:  store,
		config: config,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Config returns the manager configuration.
func (m *Manager) Config() ManagerConfig { return m.config }

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// GetOrCreate returns the session context, creating it lazily on first
// interaction.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID string, currentDate time.Time) (*Context, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sc, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		sc = NewContext(sessionID, userID, currentDate)
		if err := m.store.Put(ctx, sc); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// Update loads the session, applies fn under the session lock, stamps
// LastUpdatedAt and writes the new snapshot back. It returns the updated
// context.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(*Context) error) (*Context, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sc, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		sc = NewContext(sessionID, "", time.Now().UTC())
	}
	if err := fn(sc); err != nil {
		return nil, err
	}
	sc.LastUpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// AddHistory appends a history entry under the configured cap.
func (m *Manager) AddHistory(ctx context.Context, sessionID string, entry HistoryEntry) error {
	_, err := m.Update(ctx, sessionID, func(sc *Context) error {
		sc.AddHistory(entry, m.config.MaxHistory)
		return nil
	})
	return err
}

// Cleanup evicts idle sessions and prunes expired pendings. It locks only
// the session map per key, never blocking in-flight turns on other sessions.
// Returns (evicted sessions, pruned pendings).
func (m *Manager) Cleanup(ctx context.Context) (int, int, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	evicted, pruned := 0, 0
	for _, key := range keys {
		lock := m.sessionLock(key)
		lock.Lock()

		sc, err := m.store.Get(ctx, key)
		if err != nil || sc == nil {
			lock.Unlock()
			continue
		}
		if now.Sub(sc.LastUpdatedAt) > m.config.IdleTimeout {
			if err := m.store.Delete(ctx, key); err == nil {
				evicted++
			}
			lock.Unlock()
			m.dropLock(key)
			continue
		}
		if dropped := sc.PruneExpiredPendings(now); dropped > 0 {
			pruned += dropped
			_ = m.store.Put(ctx, sc)
		}
		lock.Unlock()
	}
	return evicted, pruned, nil
}

func (m *Manager) dropLock(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}

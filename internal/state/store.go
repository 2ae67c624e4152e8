// Package state persists each item's custom value and reconciliation state.
package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// KV defines the storage operations the Store needs.
// Implemented by storage.Store.
type KV interface {
	SetKey(key, value string) error
	AllKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func customKey(id string) string { return "custom_" + id }
func stateKey(id string) string  { return "state_" + id }

// Store provides cached access to per-item state. Every write is a single
// key upsert; no operation spans keys.
type Store struct {
	kv     KV
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	cached   map[string]string
	cachedAt time.Time
}

// NewStore creates a Store with a 60-second cache TTL.
func NewStore(kv KV, logger *slog.Logger) *Store {
	return NewStoreWithClock(kv, realClock{}, 60*time.Second, logger)
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(kv KV, clock Clock, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, clock: clock, ttl: ttl, logger: logger}
}

// snapshot returns all persisted keys, from cache when fresh.
func (s *Store) snapshot() (map[string]string, error) {
	s.mu.RLock()
	if s.cached != nil && s.clock.Now().Before(s.cachedAt.Add(s.ttl)) {
		m := s.cached
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.clock.Now().Before(s.cachedAt.Add(s.ttl)) {
		return s.cached, nil
	}

	keys, err := s.kv.AllKeys()
	if err != nil {
		return nil, fmt.Errorf("loading state keys: %w", err)
	}
	s.cached = keys
	s.cachedAt = s.clock.Now()
	return keys, nil
}

func (s *Store) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.SetKey(key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	s.cached = nil
	return nil
}

// CustomValue returns the saved custom value for id, with ok=false when none
// has been saved.
func (s *Store) CustomValue(id string) (string, bool, error) {
	keys, err := s.snapshot()
	if err != nil {
		return "", false, err
	}
	v, ok := keys[customKey(id)]
	return v, ok, nil
}

func (s *Store) SetCustomValue(id, value string) error {
	return s.set(customKey(id), value)
}

// State returns the persisted state for id. A missing or unreadable entry
// yields Default.
func (s *Store) State(id string) (State, error) {
	keys, err := s.snapshot()
	if err != nil {
		return Default, err
	}
	raw, ok := keys[stateKey(id)]
	if !ok {
		return Default, nil
	}
	st, err := ParseState(raw)
	if err != nil {
		s.logger.Warn("ignoring unknown persisted state", "item", id, "value", raw)
		return Default, nil
	}
	return st, nil
}

func (s *Store) SetState(id string, st State) error {
	return s.set(stateKey(id), st.String())
}

package cache

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/docflow/internal/metrics"
)

// Entry is one cached payload. Binary payloads are stored base64 encoded.
type Entry struct {
	Payload  string    `json:"payload"`
	MIME     string    `json:"mime,omitempty"`
	Binary   bool      `json:"binary,omitempty"`
	Modified time.Time `json:"modified"`
	StoredAt time.Time `json:"stored_at"`
}

// Backend persists namespaces between runs.
type Backend interface {
	Load(ns Namespace) (map[string]Entry, error)
	Save(ns Namespace, entries map[string]Entry) error
	Remove(ns Namespace) error
}

// Store is the content cache. It is created explicitly and handed to the
// components that need it; there is no package level instance.
type Store struct {
	mu        sync.RWMutex
	data      map[Namespace]map[string]Entry
	backend   Backend
	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger
	disposed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithBackend enables write-through persistence.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithFreshness overrides the eligibility threshold.
func WithFreshness(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for backend warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store and loads any persisted namespaces from the backend.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		data:      make(map[Namespace]map[string]Entry, 3),
		freshness: DefaultFreshness,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, ns := range Namespaces() {
		s.data[ns] = make(map[string]Entry)
		if s.backend == nil {
			continue
		}
		entries, err := s.backend.Load(ns)
		if err != nil {
			return nil, fmt.Errorf("load cache namespace %s: %w", ns, err)
		}
		for k, v := range entries {
			s.data[ns][k] = v
		}
	}
	return s, nil
}

// Freshness returns the configured eligibility threshold.
func (s *Store) Freshness() time.Duration { return s.freshness }

// Eligible applies the freshness policy using the store's clock.
func (s *Store) Eligible(modified time.Time) bool {
	return isEligible(modified, s.now(), s.freshness)
}

// Get returns the entry stored under key, if any.
func (s *Store) Get(ns Namespace, key Key) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ns); err != nil {
		return Entry{}, false, err
	}
	e, ok := s.data[ns][key.String()]
	if ok {
		metrics.CacheLookupsTotal.WithLabelValues(string(ns), "hit").Inc()
	} else {
		metrics.CacheLookupsTotal.WithLabelValues(string(ns), "miss").Inc()
	}
	return e, ok, nil
}

// Put stores e under key, replacing any previous entry.
func (s *Store) Put(ns Namespace, key Key, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ns); err != nil {
		return err
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = s.now()
	}
	s.data[ns][key.String()] = e
	return s.persist(ns)
}

// PutText stores a text payload.
func (s *Store) PutText(ns Namespace, key Key, text, mime string, modified time.Time) error {
	return s.Put(ns, key, Entry{Payload: text, MIME: mime, Modified: modified})
}

// GetText returns a text payload.
func (s *Store) GetText(ns Namespace, key Key) (string, bool, error) {
	e, ok, err := s.Get(ns, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return e.Payload, true, nil
}

// PutBytes stores a binary payload in its base64 text form.
func (s *Store) PutBytes(ns Namespace, key Key, data []byte, mime string, modified time.Time) error {
	return s.Put(ns, key, Entry{Payload: EncodeBinary(data), MIME: mime, Binary: true, Modified: modified})
}

// GetBytes returns a binary payload. A payload that does not decode yields ErrCacheCorrupt.
func (s *Store) GetBytes(ns Namespace, key Key) ([]byte, bool, error) {
	e, ok, err := s.Get(ns, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := DecodeBinary(e.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("%s %s: %w", ns, key, err)
	}
	return data, true, nil
}

// Delete removes a single entry.
func (s *Store) Delete(ns Namespace, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ns); err != nil {
		return err
	}
	delete(s.data[ns], key.String())
	return s.persist(ns)
}

// Len returns the number of entries in ns.
func (s *Store) Len(ns Namespace) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[ns])
}

// ClearNamespace drops every entry of one namespace.
func (s *Store) ClearNamespace(ns Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ns); err != nil {
		return err
	}
	return s.clear(ns)
}

// Clear drops every entry in every namespace.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	for _, ns := range Namespaces() {
		if err := s.clear(ns); err != nil {
			return err
		}
	}
	return nil
}

// Dispose releases the in-memory state. Persisted entries stay on the backend.
// Any later call returns ErrDisposed.
func (s *Store) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	s.disposed = true
	s.data = nil
	return nil
}

func (s *Store) clear(ns Namespace) error {
	s.data[ns] = make(map[string]Entry)
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Remove(ns); err != nil {
		return fmt.Errorf("remove cache namespace %s: %w", ns, err)
	}
	return nil
}

func (s *Store) check(ns Namespace) error {
	if s.disposed {
		return ErrDisposed
	}
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	return nil
}

// persist must be called with the write lock held.
func (s *Store) persist(ns Namespace) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Save(ns, s.data[ns]); err != nil {
		s.logger.Warn("cache write-through failed", "namespace", ns, "error", err)
		return fmt.Errorf("persist cache namespace %s: %w", ns, err)
	}
	return nil
}

// EncodeBinary converts arbitrary bytes to the cache's text form.
func EncodeBinary(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBinary reverses EncodeBinary.
func DecodeBinary(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
	}
	return data, nil
}

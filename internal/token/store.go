package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calnote/internal/kv"
)

const (
	// StorageKey is the key the token record is persisted under.
	StorageKey = "google-calendar-token"

	// ExpiryBuffer is how long before expiry a token is treated as expired,
	// so it is refreshed before the provider starts rejecting it.
	ExpiryBuffer = 5 * time.Minute
)

// Store persists the token record and keeps an in-memory copy.
type Store struct {
	logger *slog.Logger
	kv     kv.Store
	now    func() time.Time

	mu     sync.RWMutex
	cached *OAuthToken
}

// NewStore creates a token store over the given persistence.
func NewStore(logger *slog.Logger, store kv.Store) *Store {
	return &Store{logger: logger, kv: store, now: time.Now}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Save persists tok as a single record. A missing absolute expiry is derived
// from the lifetime.
func (s *Store) Save(tok *OAuthToken) error {
	if tok == nil {
		return errors.New("token cannot be nil")
	}
	record := *tok
	if record.ExpiresAt == nil && record.ExpiresIn > 0 {
		expiry := s.now().Add(time.Duration(record.ExpiresIn) * time.Second)
		record.ExpiresAt = &expiry
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.kv.Set(StorageKey, data); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}

	s.mu.Lock()
	s.cached = &record
	s.mu.Unlock()

	s.logger.Debug("Saved OAuth token.", "expiresAt", record.ExpiresAt)
	return nil
}

// Get returns the cached token when it is still fresh and otherwise reloads
// the persisted record. It returns nil without error when nothing is stored.
func (s *Store) Get() (*OAuthToken, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil && !s.IsExpired(cached) {
		return cached, nil
	}

	data, err := s.kv.Get(StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	tok, err := Validate(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = tok
	s.mu.Unlock()
	return tok, nil
}

// GetSync returns the in-memory token without touching persistence.
func (s *Store) GetSync() *OAuthToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// Clear removes the persisted record and the in-memory copy.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	if err := s.kv.Delete(StorageKey); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// IsExpired reports whether tok has no expiry or expires within ExpiryBuffer.
func (s *Store) IsExpired(tok *OAuthToken) bool {
	return s.expiresWithin(tok, ExpiryBuffer)
}

// IsExpiringSoon reports whether tok has no expiry or expires within the
// given number of minutes.
func (s *Store) IsExpiringSoon(tok *OAuthToken, thresholdMinutes int) bool {
	return s.expiresWithin(tok, time.Duration(thresholdMinutes)*time.Minute)
}

func (s *Store) expiresWithin(tok *OAuthToken, buffer time.Duration) bool {
	if tok == nil || tok.ExpiresAt == nil {
		return true
	}
	return !s.now().Add(buffer).Before(*tok.ExpiresAt)
}

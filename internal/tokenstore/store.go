package tokenstore

import (
	"context"
	"sync"

	"github.com/nkiryanov/partsearch/internal/logger"
)

// Slot is a durable place for the credential that survives a process restart
// within the same session (the equivalent of a browser tab's session storage)
type Slot interface {
	// Load returns the stored token or empty string if nothing is stored
	Load(ctx context.Context) (string, error)

	// Save overwrites the stored token
	Save(ctx context.Context, token string) error

	// Clear removes the token. Must not fail if nothing is stored
	Clear(ctx context.Context) error
}

// Store holds the current bearer credential.
// Memory is the source of truth; the slot is a best-effort mirror.
type Store struct {
	mu    sync.RWMutex
	token string
	// loaded is set once memory holds the authoritative value (a Set or a read from the slot)
	loaded bool

	slot   Slot
	logger logger.Logger
}

func New(slot Slot, l logger.Logger) *Store {
	if slot == nil {
		slot = NopSlot{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Store{slot: slot, logger: l}
}

// Set stores the token; empty token clears both memory and slot
func (s *Store) Set(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.loaded = true

	var err error
	if token == "" {
		err = s.slot.Clear(ctx)
	} else {
		err = s.slot.Save(ctx, token)
	}
	if err != nil {
		s.logger.Warn("Token slot write failed, keeping in-memory value only", "error", err)
	}
}

// Get returns the in-memory token. Until the first Set it falls back to the
// slot once, so a restarted process picks up the previous credential.
func (s *Store) Get(ctx context.Context) string {
	s.mu.RLock()
	token, loaded := s.token, s.loaded
	s.mu.RUnlock()

	if loaded {
		return token
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.token
	}

	token, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.Warn("Token slot read failed", "error", err)
		return ""
	}

	s.token = token
	s.loaded = true
	return token
}

// NopSlot keeps nothing
type NopSlot struct{}

func (NopSlot) Load(context.Context) (string, error) { return "", nil }
func (NopSlot) Save(context.Context, string) error   { return nil }
func (NopSlot) Clear(context.Context) error          { return nil }

package accounts

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory account store useful for tests.
// It is not intended for production use.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryStore(seed ...Account) *MemoryStore {
	s := &MemoryStore{accounts: make(map[string]Account, len(seed))}
	for _, a := range seed {
		s.Put(a)
	}
	return s
}

// Put inserts or replaces an account.
func (s *MemoryStore) Put(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := a.CallTaker(); ok {
		a.callTaker = &p
	}
	s.accounts[a.ID] = a
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if p, ok := a.CallTaker(); ok {
		a.callTaker = &p
	}
	return a, nil
}

func (s *MemoryStore) SetPresence(ctx context.Context, id string, p Presence) error {
	if !p.Valid() {
		return ErrInvalidPresence
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	prof, ok := a.CallTaker()
	if !ok {
		return ErrNotCallTaker
	}
	prof.Presence = p
	a.callTaker = &prof
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return nil
}

func (s *MemoryStore) ResetPresence(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.accounts {
		prof, ok := a.CallTaker()
		if !ok || prof.Presence == PresenceOffline {
			continue
		}
		prof.Presence = PresenceOffline
		a.callTaker = &prof
		s.accounts[id] = a
		n++
	}
	return n, nil
}

// Presence is a test helper returning a call-taker's current flag.
func (s *MemoryStore) Presence(id string) Presence {
	a, err := s.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	p, _ := a.CallTaker()
	return p.Presence
}

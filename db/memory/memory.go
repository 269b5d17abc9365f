package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ensclub/ens-verify/db"
)

type store struct {
	mutex  sync.Mutex
	tokens map[string]time.Time
}

// NewStore returns a process-local nonce store. It suits a single instance deployment only.
func NewStore() db.NonceStore {
	return &store{
		tokens: make(map[string]time.Time),
	}
}

func (s *store) Put(_ context.Context, token string, issuedAt time.Time, _ time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, present := s.tokens[token]; present {
		return db.ErrDuplicateToken
	}
	s.tokens[token] = issuedAt
	return nil
}

func (s *store) Take(_ context.Context, token string) (time.Time, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	issuedAt, present := s.tokens[token]
	if !present {
		return time.Time{}, false, nil
	}
	delete(s.tokens, token)
	return issuedAt, true, nil
}

func (s *store) ClearExpired(_ context.Context, issuedBefore time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var n int64
	for token, issuedAt := range s.tokens {
		if issuedAt.Before(issuedBefore) {
			delete(s.tokens, token)
			n++
		}
	}
	return n, nil
}

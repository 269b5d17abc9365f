package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ensclub/ens-verify/db"
	"github.com/ensclub/ens-verify/db/memory"
	"github.com/ensclub/ens-verify/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(store db.NonceStore, lifeTime time.Duration) (*nonceRegistry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewNonceRegistry(context.Background(), store, lifeTime, 0).(*nonceRegistry)
	r.now = clock.Now
	return r, clock
}

func Test_IssueNonce(t *testing.T) {
	r, _ := newTestRegistry(memory.NewStore(), time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		nonce, err := r.Issue(context.Background())
		require.Nil(t, err)
		require.Regexp(t, `^[0-9a-f]{32}$`, nonce)
		require.False(t, seen[nonce])
		seen[nonce] = true
	}
}

func Test_ConsumeNonceOnce(t *testing.T) {
	r, _ := newTestRegistry(memory.NewStore(), time.Minute)
	ctx := context.Background()
	nonce, err := r.Issue(ctx)
	require.Nil(t, err)

	// When
	err = r.Consume(ctx, nonce)
	// Then
	require.Nil(t, err)

	// When
	err = r.Consume(ctx, nonce)
	// Then
	require.Equal(t, types.ErrNonceUnknown, err)
	require.True(t, errors.Is(err, types.ErrInvalidNonce))
}

func Test_ConsumeNonceUpperCase(t *testing.T) {
	r, _ := newTestRegistry(memory.NewStore(), time.Minute)
	ctx := context.Background()
	nonce, _ := r.Issue(ctx)

	require.Nil(t, r.Consume(ctx, " "+strings.ToUpper(nonce)+" "))
}

func Test_ConsumeExpiredNonce(t *testing.T) {
	r, clock := newTestRegistry(memory.NewStore(), 5*time.Minute)
	ctx := context.Background()
	fresh, _ := r.Issue(ctx)
	stale, _ := r.Issue(ctx)

	// When
	clock.Advance(5 * time.Minute)
	err := r.Consume(ctx, fresh)
	// Then
	require.Nil(t, err)

	// When
	clock.Advance(time.Second)
	err = r.Consume(ctx, stale)
	// Then
	require.Equal(t, types.ErrNonceExpired, err)

	// When
	err = r.Consume(ctx, stale)
	// Then
	require.True(t, errors.Is(err, types.ErrInvalidNonce))
}

func Test_ConsumeInvalidNonce(t *testing.T) {
	r, _ := newTestRegistry(memory.NewStore(), time.Minute)
	ctx := context.Background()

	require.Equal(t, types.ErrNonceMissing, r.Consume(ctx, ""))
	require.Equal(t, types.ErrNonceMalformed, r.Consume(ctx, "signin-123"))
	require.Equal(t, types.ErrNonceUnknown, r.Consume(ctx, "0123456789abcdef0123456789abcdef"))
	require.Equal(t, types.ErrNonceUnknown, r.Consume(ctx, "0123456789abcdef0123456789abcdef"))
}

func Test_ConcurrentConsumeHasOneWinner(t *testing.T) {
	r, _ := newTestRegistry(memory.NewStore(), time.Minute)
	ctx := context.Background()
	nonce, _ := r.Issue(ctx)

	var wg sync.WaitGroup
	var mutex sync.Mutex
	winners := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Consume(ctx, nonce) == nil {
				mutex.Lock()
				winners++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
}

type failingStore struct {
	db.NonceStore
	puts int
}

func (s *failingStore) Put(ctx context.Context, token string, issuedAt time.Time, lifeTime time.Duration) error {
	s.puts++
	return db.ErrDuplicateToken
}

func (s *failingStore) Take(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("connection refused")
}

func Test_NonceStoreFailures(t *testing.T) {
	store := &failingStore{}
	r, _ := newTestRegistry(store, time.Minute)
	ctx := context.Background()

	// When
	_, err := r.Issue(ctx)
	// Then
	require.NotNil(t, err)
	require.Equal(t, maxIssueAttempts, store.puts)

	// When
	err = r.Consume(ctx, "0123456789abcdef0123456789abcdef")
	// Then
	require.NotNil(t, err)
	require.False(t, errors.Is(err, types.ErrInvalidNonce))
}

type countingStore struct {
	db.NonceStore
	mutex   sync.Mutex
	cleared int64
}

func (s *countingStore) ClearExpired(ctx context.Context, issuedBefore time.Time) (int64, error) {
	n, err := s.NonceStore.ClearExpired(ctx, issuedBefore)
	s.mutex.Lock()
	s.cleared += n
	s.mutex.Unlock()
	return n, err
}

func (s *countingStore) Cleared() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cleared
}

func Test_ClearExpiredLoop(t *testing.T) {
	store := &countingStore{NonceStore: memory.NewStore()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Nil(t, store.Put(ctx, "0123456789abcdef0123456789abcdef", time.Now().Add(-time.Hour), time.Minute))
	require.Nil(t, store.Put(ctx, "fedcba9876543210fedcba9876543210", time.Now(), time.Minute))

	NewNonceRegistry(ctx, store, time.Minute, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return store.Cleared() == 1
	}, time.Second, 10*time.Millisecond)
	_, found, _ := store.Take(ctx, "fedcba9876543210fedcba9876543210")
	require.True(t, found)
}

package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/ensclub/ens-verify/db"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

type store struct {
	client    goredis.UniversalClient
	keyPrefix string
}

// NewStore keeps tokens as redis keys whose TTL matches the token life time,
// so several service instances can share one set of live challenges.
func NewStore(client goredis.UniversalClient, keyPrefix string) db.NonceStore {
	return &store{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *store) key(token string) string {
	return s.keyPrefix + token
}

func (s *store) Put(ctx context.Context, token string, issuedAt time.Time, lifeTime time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.key(token), strconv.FormatInt(issuedAt.UnixNano(), 10), lifeTime).Result()
	if err != nil {
		return errors.Wrap(err, "redis setnx")
	}
	if !ok {
		return db.ErrDuplicateToken
	}
	return nil
}

func (s *store) Take(ctx context.Context, token string) (time.Time, bool, error) {
	value, err := s.client.GetDel(ctx, s.key(token)).Result()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "redis getdel")
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "corrupt nonce value %q", value)
	}
	return time.Unix(0, nanos), true, nil
}

// ClearExpired is a no-op: redis evicts keys once their TTL elapses.
func (s *store) ClearExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

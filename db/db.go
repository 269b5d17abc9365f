package db

import (
	"context"
	"time"
)

// NonceStore keeps issued challenge tokens until they are taken or swept.
type NonceStore interface {
	// Put records a freshly issued token. It fails if the token is already live.
	Put(ctx context.Context, token string, issuedAt time.Time, lifeTime time.Duration) error
	// Take atomically removes the token and returns its issue time.
	// Of any number of concurrent calls for the same token at most one reports found.
	Take(ctx context.Context, token string) (issuedAt time.Time, found bool, err error)
	// ClearExpired removes tokens issued before the given timestamp.
	ClearExpired(ctx context.Context, issuedBefore time.Time) (int64, error)
}

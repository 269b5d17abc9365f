package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ensclub/ens-verify/db"
	"github.com/ensclub/ens-verify/types"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

const (
	nonceBytes        = 16
	maxIssueAttempts  = 3
	DefaultNonceTTL   = 5 * time.Minute
	clearStoreTimeout = 30 * time.Second
)

var nonceRegexp = regexp.MustCompile(`^[0-9a-f]{32}$`)

type NonceRegistry interface {
	Issue(ctx context.Context) (string, error)
	// Consume succeeds at most once per issued token and only within its life time.
	// Every rejection matches types.ErrInvalidNonce.
	Consume(ctx context.Context, token string) error
}

func NewNonceRegistry(ctx context.Context, store db.NonceStore, lifeTime, clearExpiredInterval time.Duration) NonceRegistry {
	if lifeTime <= 0 {
		lifeTime = DefaultNonceTTL
	}
	r := &nonceRegistry{
		store:    store,
		lifeTime: lifeTime,
		now:      time.Now,
	}
	if clearExpiredInterval > 0 {
		go r.loopClearExpired(ctx, clearExpiredInterval)
	}
	return r
}

type nonceRegistry struct {
	store    db.NonceStore
	lifeTime time.Duration
	now      func() time.Time
}

func (r *nonceRegistry) loopClearExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		clearCtx, cancel := context.WithTimeout(ctx, clearStoreTimeout)
		n, err := r.store.ClearExpired(clearCtx, r.now().Add(-r.lifeTime))
		cancel()
		if err != nil {
			log.Error(fmt.Sprintf("Unable to clear expired nonces: %v", err))
		} else {
			log.Debug("Expired nonces cleared", "count", n)
		}
	}
}

func (r *nonceRegistry) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		token, err := generateNonce()
		if err != nil {
			return "", err
		}
		err = r.store.Put(ctx, token, r.now(), r.lifeTime)
		if err == db.ErrDuplicateToken {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "unable to store nonce")
		}
		noncesIssued.Inc()
		return token, nil
	}
	return "", errors.New("unable to generate unique nonce")
}

func generateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "unable to read random bytes")
	}
	return hex.EncodeToString(b), nil
}

func (r *nonceRegistry) Consume(ctx context.Context, token string) error {
	token = strings.ToLower(strings.TrimSpace(token))
	if len(token) == 0 {
		return types.ErrNonceMissing
	}
	if !nonceRegexp.MatchString(token) {
		return types.ErrNonceMalformed
	}
	issuedAt, found, err := r.store.Take(ctx, token)
	if err != nil {
		return errors.Wrap(err, "unable to take nonce")
	}
	if !found {
		return types.ErrNonceUnknown
	}
	if r.now().Sub(issuedAt) > r.lifeTime {
		return types.ErrNonceExpired
	}
	return nil
}

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ensclub/ens-verify/types"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

const (
	DefaultPageSize   = 100
	DefaultMaxPages   = 50
	DefaultSampleSize = 5
)

// LedgerClient lists tokens of one contract held by an owner, one page per call.
// An empty PageKey in the result means there are no more pages.
type LedgerClient interface {
	OwnedTokens(ctx context.Context, owner, contract, pageKey string, pageSize int) (types.TokenPage, error)
}

type OwnershipResolver interface {
	Resolve(ctx context.Context, address string) (types.AuthorizationDecision, error)
}

type OwnershipConfig struct {
	Contract     string
	ParentSuffix string
	PageSize     int
	// MaxPages bounds the number of pages fetched for one decision.
	MaxPages   int
	SampleSize int
	Timeout    time.Duration
}

func NewOwnershipResolver(ledger LedgerClient, conf OwnershipConfig) OwnershipResolver {
	if conf.PageSize <= 0 {
		conf.PageSize = DefaultPageSize
	}
	if conf.MaxPages <= 0 {
		conf.MaxPages = DefaultMaxPages
	}
	if conf.SampleSize <= 0 {
		conf.SampleSize = DefaultSampleSize
	}
	return &ownershipResolver{
		ledger: ledger,
		conf:   conf,
		parent: domainLabels(conf.ParentSuffix),
	}
}

type ownershipResolver struct {
	ledger LedgerClient
	conf   OwnershipConfig
	parent []string
}

func (r *ownershipResolver) Resolve(ctx context.Context, address string) (types.AuthorizationDecision, error) {
	if r.conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.conf.Timeout)
		defer cancel()
	}
	decision := types.AuthorizationDecision{
		Address: CanonicalAddress(address),
	}
	pageKey := ""
	for page := 0; ; page++ {
		if page == r.conf.MaxPages {
			decision.Truncated = true
			break
		}
		start := time.Now()
		res, err := r.ledger.OwnedTokens(ctx, decision.Address, r.conf.Contract, pageKey, r.conf.PageSize)
		upstreamDuration.WithLabelValues("ledger", resultLabel(err)).Observe(time.Since(start).Seconds())
		if err != nil {
			return types.AuthorizationDecision{}, errors.Wrapf(types.ErrLedgerUnavailable, "page %d: %v", page, err)
		}
		for _, token := range res.Tokens {
			name := DisplayName(token)
			if r.matches(name) {
				decision.MatchedNames = append(decision.MatchedNames, name)
			} else if name != "" && len(decision.UnmatchedSample) < r.conf.SampleSize {
				decision.UnmatchedSample = append(decision.UnmatchedSample, name)
			}
		}
		if res.PageKey == "" {
			break
		}
		pageKey = res.PageKey
	}
	decision.MatchedCount = len(decision.MatchedNames)
	if decision.Truncated {
		log.Warn(fmt.Sprintf("Ownership lookup for %v stopped after %d pages", decision.Address, r.conf.MaxPages))
		if decision.MatchedCount == 0 {
			return types.AuthorizationDecision{}, errors.Wrapf(types.ErrLedgerUnavailable,
				"page limit %d reached without a match", r.conf.MaxPages)
		}
	}
	return decision, nil
}

func (r *ownershipResolver) matches(name string) bool {
	return IsSubdomainOf(name, r.parent)
}

// DisplayName picks the first populated name field, or "" when the token has none.
func DisplayName(token types.OwnedToken) string {
	for _, name := range []string{
		token.Metadata.RawName,
		token.Metadata.Title,
		token.Metadata.Name,
		token.Metadata.ContractName,
	} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return ""
}

func domainLabels(suffix string) []string {
	suffix = strings.Trim(strings.ToLower(strings.TrimSpace(suffix)), ".")
	if suffix == "" {
		return nil
	}
	return strings.Split(suffix, ".")
}

// IsSubdomainOf compares labels from the right, so "evilemperor.club.agi.eth"
// is not under "emperor.club.agi.eth". The parent name itself does not match.
func IsSubdomainOf(name string, parent []string) bool {
	if len(parent) == 0 {
		return false
	}
	labels := strings.Split(strings.ToLower(strings.TrimSpace(name)), ".")
	offset := len(labels) - len(parent)
	if offset < 1 {
		return false
	}
	for i, label := range parent {
		if labels[offset+i] != label {
			return false
		}
	}
	for _, label := range labels[:offset] {
		if label == "" {
			return false
		}
	}
	return true
}

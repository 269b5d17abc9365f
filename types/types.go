package types

import (
	"fmt"

	"github.com/pkg/errors"
)

type NonceResponse struct {
	Nonce string `json:"nonce"`
}

type VerifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Uid       string `json:"uid"`
	Guild     string `json:"guild"`
}

type VerifyResponse struct {
	Ok      bool     `json:"ok"`
	Address string   `json:"address,omitempty"`
	Matched int      `json:"matched"`
	Sample  []string `json:"sample,omitempty"`
	Note    string   `json:"note,omitempty"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type ErrorResponse struct {
	Ok    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// OwnedToken is one token of the target contract as reported by the indexing provider.
type OwnedToken struct {
	TokenId      string
	OwnerAddress string
	Metadata     TokenMetadata
}

// TokenMetadata holds the name-bearing metadata fields the provider may populate.
// Any of them may be empty.
type TokenMetadata struct {
	RawName      string
	Title        string
	Name         string
	ContractName string
}

type TokenPage struct {
	Tokens  []OwnedToken
	PageKey string
}

type AuthorizationDecision struct {
	Address      string
	MatchedCount int
	MatchedNames []string
	// UnmatchedSample lists names seen on the owner's tokens when nothing matched.
	UnmatchedSample []string
	Truncated       bool
}

func (d AuthorizationDecision) Authorized() bool {
	return d.MatchedCount > 0
}

var (
	ErrInvalidNonce      = errors.New("invalid nonce")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrNotAuthorized     = errors.New("no matching ENS subdomain found")
	ErrGrantFailed       = errors.New("role grant failed")
	ErrBusy              = errors.New("too many verifications in flight")
)

type nonceError struct {
	reason string
}

func (e *nonceError) Error() string {
	return e.reason
}

func (e *nonceError) Is(target error) bool {
	return target == ErrInvalidNonce
}

// Diagnostic variants of ErrInvalidNonce. All of them match ErrInvalidNonce with errors.Is.
var (
	ErrNonceMissing   error = &nonceError{"nonce missing"}
	ErrNonceMalformed error = &nonceError{"nonce malformed"}
	ErrNonceUnknown   error = &nonceError{"nonce unknown"}
	ErrNonceExpired   error = &nonceError{"nonce expired"}
)

// GrantError reports a non-success answer of the role API.
type GrantError struct {
	Status int
	Body   string
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("role add failed: %d %s", e.Status, e.Body)
}

func (e *GrantError) Is(target error) bool {
	return target == ErrGrantFailed
}

// UpstreamError reports a non-success HTTP answer of an external API.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Body)
}

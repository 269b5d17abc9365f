package core

import (
	"context"
	"fmt"

	"github.com/ensclub/ens-verify/types"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrentVerifications = 64

type State int

const (
	StateAwaitingChallenge State = iota
	StateNonceValidated
	StateAddressRecovered
	StateOwnershipChecked
	StateGranted
	StateRejected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateNonceValidated:
		return "nonce_validated"
	case StateAddressRecovered:
		return "address_recovered"
	case StateOwnershipChecked:
		return "ownership_checked"
	case StateGranted:
		return "granted"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidNonce      Reason = "invalid_nonce"
	ReasonInvalidSignature  Reason = "invalid_signature"
	ReasonNotAuthorized     Reason = "not_authorized"
	ReasonLedgerUnavailable Reason = "ledger_unavailable"
	ReasonGrantFailed       Reason = "grant_failed"
	ReasonBusy              Reason = "busy"
	ReasonInternal          Reason = "internal"
)

// Outcome is the terminal state of one verification attempt.
type Outcome struct {
	State    State
	Reason   Reason
	Address  string
	Decision types.AuthorizationDecision
	Err      error
	// Last is the last non-terminal state reached.
	Last State
}

func (o Outcome) Ok() bool {
	return o.State == StateGranted
}

func (o Outcome) Response(sampleSize int) types.VerifyResponse {
	resp := types.VerifyResponse{
		Ok:      o.Ok(),
		Address: o.Address,
		Matched: o.Decision.MatchedCount,
	}
	switch {
	case o.Ok():
		resp.Sample = head(o.Decision.MatchedNames, sampleSize)
		resp.Note = "Role granted"
	case o.Reason == ReasonNotAuthorized:
		resp.Sample = head(o.Decision.UnmatchedSample, sampleSize)
		resp.Code = string(o.Reason)
		resp.Error = types.ErrNotAuthorized.Error()
	default:
		resp.Code = string(o.Reason)
		if msg, ok := failureMessages[o.Reason]; ok {
			resp.Error = msg
		} else if o.Err != nil {
			resp.Error = o.Err.Error()
		}
	}
	return resp
}

// failureMessages replace error text for failures on the service side;
// the underlying error is only logged.
var failureMessages = map[Reason]string{
	ReasonLedgerUnavailable: "Ownership lookup is unavailable, try again later",
	ReasonGrantFailed:       "Unable to grant the role, try again later",
	ReasonBusy:              "Too many verifications in progress, try again later",
	ReasonInternal:          "Internal error",
}

func head(names []string, n int) []string {
	if len(names) > n {
		return names[:n]
	}
	return names
}

type Verifier interface {
	Verify(ctx context.Context, request types.VerifyRequest) Outcome
}

func NewVerifier(nonces NonceRegistry, signatures SignatureVerifier, ownership OwnershipResolver,
	grants GrantService, maxConcurrent int) Verifier {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentVerifications
	}
	return &verifier{
		nonces:     nonces,
		signatures: signatures,
		ownership:  ownership,
		grants:     grants,
		inFlight:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

type verifier struct {
	nonces     NonceRegistry
	signatures SignatureVerifier
	ownership  OwnershipResolver
	grants     GrantService
	inFlight   *semaphore.Weighted
}

// Verify runs one attempt from AwaitingChallenge to a terminal state.
// The recovered address is the only address used for the ownership check.
func (v *verifier) Verify(ctx context.Context, request types.VerifyRequest) Outcome {
	o := v.verify(ctx, request)
	verificationsTotal.WithLabelValues(o.State.String(), string(o.Reason)).Inc()
	if o.State == StateFailed {
		log.Error("Verification failed", "reason", o.Reason, "last", o.Last, "address", o.Address,
			"uid", request.Uid, "guild", request.Guild, "err", o.Err)
	} else {
		log.Info("Verification finished", "state", o.State, "reason", o.Reason, "address", o.Address,
			"matched", o.Decision.MatchedCount, "uid", request.Uid, "guild", request.Guild)
	}
	return o
}

func (v *verifier) verify(ctx context.Context, request types.VerifyRequest) Outcome {
	o := Outcome{Last: StateAwaitingChallenge}
	// Checked before the nonce is consumed so a busy answer leaves the challenge usable.
	if !v.inFlight.TryAcquire(1) {
		return o.fail(ReasonBusy, types.ErrBusy)
	}
	defer v.inFlight.Release(1)

	challenge, err := DecodeChallenge(request.Message)
	if err != nil {
		return o.reject(ReasonInvalidNonce, err)
	}
	if err := v.nonces.Consume(ctx, challenge.Nonce); err != nil {
		if errors.Is(err, types.ErrInvalidNonce) {
			return o.reject(ReasonInvalidNonce, err)
		}
		return o.fail(ReasonInternal, err)
	}
	o.Last = StateNonceValidated

	address, err := v.signatures.RecoverAddress(request.Message, request.Signature)
	if err != nil {
		return o.reject(ReasonInvalidSignature, err)
	}
	o.Address = address
	o.Last = StateAddressRecovered

	decision, err := v.ownership.Resolve(ctx, address)
	if err != nil {
		return o.fail(ReasonLedgerUnavailable, err)
	}
	o.Decision = decision
	o.Last = StateOwnershipChecked
	if !decision.Authorized() {
		return o.reject(ReasonNotAuthorized, types.ErrNotAuthorized)
	}

	if err := v.grants.Grant(ctx, request.Guild, request.Uid); err != nil {
		return o.fail(ReasonGrantFailed, err)
	}
	o.State = StateGranted
	return o
}

func (o Outcome) reject(reason Reason, err error) Outcome {
	o.State = StateRejected
	o.Reason = reason
	o.Err = err
	return o
}

func (o Outcome) fail(reason Reason, err error) Outcome {
	o.State = StateFailed
	o.Reason = reason
	o.Err = err
	return o
}

package core

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ensclub/ens-verify/db/memory"
	"github.com/ensclub/ens-verify/types"
	"github.com/idena-network/idena-go/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeOwnership struct {
	decision types.AuthorizationDecision
	err      error
	address  string
	entered  chan struct{}
	release  chan struct{}
}

func (o *fakeOwnership) Resolve(ctx context.Context, address string) (types.AuthorizationDecision, error) {
	o.address = address
	if o.entered != nil {
		o.entered <- struct{}{}
		<-o.release
	}
	decision := o.decision
	decision.Address = address
	return decision, o.err
}

type fakeGrants struct {
	err     error
	granted []string
}

func (g *fakeGrants) Grant(ctx context.Context, guildId, userId string) error {
	if g.err != nil {
		return g.err
	}
	g.granted = append(g.granted, guildId+"/"+userId)
	return nil
}

type verifierTest struct {
	nonces    NonceRegistry
	ownership *fakeOwnership
	grants    *fakeGrants
	verifier  Verifier
}

func newVerifierTest(maxConcurrent int) *verifierTest {
	nonces := NewNonceRegistry(context.Background(), memory.NewStore(), time.Minute, 0)
	ownership := &fakeOwnership{
		decision: types.AuthorizationDecision{
			MatchedCount: 1,
			MatchedNames: []string{"alice.emperor.club.agi.eth"},
		},
	}
	grants := &fakeGrants{}
	return &verifierTest{
		nonces:    nonces,
		ownership: ownership,
		grants:    grants,
		verifier:  NewVerifier(nonces, NewSignatureVerifier(), ownership, grants, maxConcurrent),
	}
}

// signedRequest issues a nonce and returns a request signed by a fresh key.
func (vt *verifierTest) signedRequest(t *testing.T) (types.VerifyRequest, string) {
	key, _ := crypto.GenerateKey()
	nonce, err := vt.nonces.Issue(context.Background())
	require.Nil(t, err)
	message := EncodeChallenge(Challenge{Address: keyAddress(key), Nonce: nonce})
	return types.VerifyRequest{
		Message:   message,
		Signature: signMessage(message, key),
		Uid:       "user-1",
		Guild:     "guild-1",
	}, keyAddress(key)
}

func Test_VerifyGranted(t *testing.T) {
	vt := newVerifierTest(0)
	request, address := vt.signedRequest(t)

	o := vt.verifier.Verify(context.Background(), request)

	require.True(t, o.Ok())
	require.Equal(t, StateGranted, o.State)
	require.Equal(t, ReasonNone, o.Reason)
	require.Equal(t, StateOwnershipChecked, o.Last)
	require.Equal(t, address, o.Address)
	require.Equal(t, address, vt.ownership.address)
	require.Equal(t, []string{"guild-1/user-1"}, vt.grants.granted)

	resp := o.Response(5)
	require.Equal(t, types.VerifyResponse{
		Ok:      true,
		Address: address,
		Matched: 1,
		Sample:  []string{"alice.emperor.club.agi.eth"},
		Note:    "Role granted",
	}, resp)
}

func Test_VerifyReplayedNonce(t *testing.T) {
	vt := newVerifierTest(0)
	request, _ := vt.signedRequest(t)

	// When
	o := vt.verifier.Verify(context.Background(), request)
	// Then
	require.True(t, o.Ok())

	// When
	o = vt.verifier.Verify(context.Background(), request)
	// Then
	require.Equal(t, StateRejected, o.State)
	require.Equal(t, ReasonInvalidNonce, o.Reason)
	require.Equal(t, StateAwaitingChallenge, o.Last)
	require.Equal(t, types.ErrNonceUnknown, o.Err)
	require.Len(t, vt.grants.granted, 1)
	require.Equal(t, "invalid_nonce", o.Response(5).Code)
}

func Test_VerifyMalformedChallenge(t *testing.T) {
	vt := newVerifierTest(0)

	o := vt.verifier.Verify(context.Background(), types.VerifyRequest{Message: "hello", Signature: "0x00"})

	require.Equal(t, StateRejected, o.State)
	require.Equal(t, ReasonInvalidNonce, o.Reason)
	require.True(t, errors.Is(o.Err, types.ErrInvalidNonce))
	require.Equal(t, "", vt.ownership.address)
}

func Test_VerifyInvalidSignatureConsumesNonce(t *testing.T) {
	vt := newVerifierTest(0)
	request, _ := vt.signedRequest(t)
	valid := request.Signature
	request.Signature = "0xdeadbeef"

	// When
	o := vt.verifier.Verify(context.Background(), request)
	// Then
	require.Equal(t, StateRejected, o.State)
	require.Equal(t, ReasonInvalidSignature, o.Reason)
	require.Equal(t, StateNonceValidated, o.Last)
	require.True(t, errors.Is(o.Err, types.ErrInvalidSignature))

	// When
	request.Signature = valid
	o = vt.verifier.Verify(context.Background(), request)
	// Then
	require.Equal(t, ReasonInvalidNonce, o.Reason)
	require.Empty(t, vt.grants.granted)
}

func Test_VerifyNotAuthorized(t *testing.T) {
	vt := newVerifierTest(0)
	vt.ownership.decision = types.AuthorizationDecision{UnmatchedSample: []string{"a.eth", "b.eth", "c.eth"}}
	request, address := vt.signedRequest(t)

	o := vt.verifier.Verify(context.Background(), request)

	require.Equal(t, StateRejected, o.State)
	require.Equal(t, ReasonNotAuthorized, o.Reason)
	require.Equal(t, StateOwnershipChecked, o.Last)
	require.Empty(t, vt.grants.granted)
	require.Equal(t, types.VerifyResponse{
		Address: address,
		Sample:  []string{"a.eth", "b.eth"},
		Code:    "not_authorized",
		Error:   "no matching ENS subdomain found",
	}, o.Response(2))
}

func Test_VerifyLedgerUnavailable(t *testing.T) {
	vt := newVerifierTest(0)
	vt.ownership.err = errors.Wrap(types.ErrLedgerUnavailable, "Get https://ledger.example/secret-api-key/getNFTsForOwner")
	request, _ := vt.signedRequest(t)

	o := vt.verifier.Verify(context.Background(), request)

	require.Equal(t, StateFailed, o.State)
	require.Equal(t, ReasonLedgerUnavailable, o.Reason)
	require.Equal(t, StateAddressRecovered, o.Last)
	require.Empty(t, vt.grants.granted)
	resp := o.Response(5)
	require.Equal(t, "ledger_unavailable", resp.Code)
	require.Equal(t, "Ownership lookup is unavailable, try again later", resp.Error)
	require.NotContains(t, resp.Error, "secret-api-key")
}

func Test_FailureResponseHidesError(t *testing.T) {
	o := Outcome{
		State:  StateFailed,
		Reason: ReasonInternal,
		Err:    errors.New("dial tcp 10.0.0.5:6379: connection refused"),
	}

	resp := o.Response(5)

	require.Equal(t, "internal", resp.Code)
	require.Equal(t, "Internal error", resp.Error)

	o = Outcome{State: StateRejected, Reason: ReasonInvalidSignature, Err: types.ErrInvalidSignature}
	require.Equal(t, "invalid signature", o.Response(5).Error)
}

func Test_VerifyGrantFailed(t *testing.T) {
	vt := newVerifierTest(0)
	vt.grants.err = &types.GrantError{Status: http.StatusForbidden, Body: "Missing Permissions"}
	request, address := vt.signedRequest(t)

	o := vt.verifier.Verify(context.Background(), request)

	require.False(t, o.Ok())
	require.Equal(t, StateFailed, o.State)
	require.Equal(t, ReasonGrantFailed, o.Reason)
	require.Equal(t, StateOwnershipChecked, o.Last)
	resp := o.Response(5)
	require.Equal(t, address, resp.Address)
	require.Equal(t, 1, resp.Matched)
	require.Equal(t, "grant_failed", resp.Code)
	require.Equal(t, "Unable to grant the role, try again later", resp.Error)
	require.NotContains(t, resp.Error, "Missing Permissions")
}

func Test_VerifyBusy(t *testing.T) {
	vt := newVerifierTest(1)
	vt.ownership.entered = make(chan struct{})
	vt.ownership.release = make(chan struct{})
	first, _ := vt.signedRequest(t)
	second, _ := vt.signedRequest(t)

	done := make(chan Outcome)
	go func() {
		done <- vt.verifier.Verify(context.Background(), first)
	}()
	<-vt.ownership.entered

	// When
	o := vt.verifier.Verify(context.Background(), second)
	// Then
	require.Equal(t, StateFailed, o.State)
	require.Equal(t, ReasonBusy, o.Reason)
	require.Equal(t, types.ErrBusy, o.Err)

	close(vt.ownership.release)
	require.True(t, (<-done).Ok())

	// When
	vt.ownership.entered = nil
	o = vt.verifier.Verify(context.Background(), second)
	// Then
	require.True(t, o.Ok())
}

func Test_StateString(t *testing.T) {
	require.Equal(t, "awaiting_challenge", StateAwaitingChallenge.String())
	require.Equal(t, "granted", StateGranted.String())
	require.Equal(t, "state(42)", State(42).String())
}

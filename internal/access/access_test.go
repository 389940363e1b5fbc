package access_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Klingon-tech/nodereg/internal/access"
	"github.com/Klingon-tech/nodereg/internal/ledger"
	"github.com/Klingon-tech/nodereg/internal/registry"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/stretchr/testify/require"
)

var (
	from = types.Signature{0xf0}
	to   = types.Signature{0xc0}
)

// fakeTokens is an in-memory token table for a single pair.
type fakeTokens struct {
	registered bool
	issued     bool
	revoked    bool
	expired    bool
	policy     string

	issueErr error
	issues   int
	validity uint64
}

func (f *fakeTokens) IsNodeRegistered(context.Context, types.Signature) (bool, error) {
	return f.registered, nil
}

func (f *fakeTokens) CheckToken(context.Context, types.Signature, types.Signature) (bool, error) {
	return f.issued && !f.revoked, nil
}

func (f *fakeTokens) IsTokenExpired(_ context.Context, _, _ types.Signature, validity uint64) (bool, error) {
	f.validity = validity
	return f.expired, nil
}

func (f *fakeTokens) IssueToken(context.Context, types.Signature, types.Signature) (*registry.TokenIssued, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issues++
	f.issued, f.revoked, f.expired = true, false, false
	return &registry.TokenIssued{From: from, To: to, Policy: f.policy}, nil
}

func (f *fakeTokens) GetToken(context.Context, types.Signature, types.Signature) (*registry.CapabilityToken, error) {
	return &registry.CapabilityToken{From: from, To: to, Policy: f.policy, IsIssued: f.issued, IsRevoked: f.revoked}, nil
}

func TestAuthorizeUnregistered(t *testing.T) {
	f := &fakeTokens{}
	d, err := access.NewAuthorizer(f).Authorize(context.Background(), from, to, access.Read, 0)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "sender is not registered", d.Reason)
	require.Zero(t, f.issues)
}

func TestAuthorizeIssuesMissingToken(t *testing.T) {
	f := &fakeTokens{registered: true, policy: "FOG_TO_CLOUD:READ,WRITE,TRANSMIT"}
	d, err := access.NewAuthorizer(f).Authorize(context.Background(), from, to, "write", 0)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.True(t, d.Renewed)
	require.Equal(t, access.Write, d.Action)
	require.Equal(t, "FOG_TO_CLOUD", d.Policy.Flow)
	require.Equal(t, 1, f.issues)
}

func TestAuthorizeRenewsExpiredToken(t *testing.T) {
	f := &fakeTokens{registered: true, issued: true, expired: true, policy: "EDGE_TO_FOG:READ,WRITE"}
	d, err := access.NewAuthorizer(f).Authorize(context.Background(), from, to, access.Read, 60)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.True(t, d.Renewed)
	require.EqualValues(t, 60, f.validity)
	require.Equal(t, 1, f.issues)
}

func TestAuthorizeValidToken(t *testing.T) {
	f := &fakeTokens{registered: true, issued: true, policy: "EDGE_TO_FOG:READ,WRITE"}
	a := access.NewAuthorizer(f)

	d, err := a.Authorize(context.Background(), from, to, access.Read, 0)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.False(t, d.Renewed)
	require.EqualValues(t, access.DefaultValidity, f.validity)

	d, err = a.Authorize(context.Background(), from, to, access.Execute, 0)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "EXECUTE not in policy EDGE_TO_FOG:READ,WRITE", d.Reason)
	require.Zero(t, f.issues)
}

func TestAuthorizeErrors(t *testing.T) {
	_, err := access.NewAuthorizer(&fakeTokens{}).Authorize(context.Background(), from, to, "DELETE", 0)
	require.Equal(t, ledger.KindValidation, ledger.KindOf(err))

	boom := &ledger.Error{Kind: ledger.KindTransaction, Op: "issueToken", Err: errors.New("reverted")}
	f := &fakeTokens{registered: true, issueErr: boom}
	_, err = access.NewAuthorizer(f).Authorize(context.Background(), from, to, access.Read, 0)
	require.ErrorIs(t, err, boom)

	f = &fakeTokens{registered: true, issued: true, policy: "garbage"}
	_, err = access.NewAuthorizer(f).Authorize(context.Background(), from, to, access.Read, 0)
	require.Equal(t, ledger.KindContractCall, ledger.KindOf(err))
}

func TestParsePolicy(t *testing.T) {
	p, err := access.ParsePolicy(" FOG_TO_CLOUD: read, WRITE ,,transmit ")
	require.NoError(t, err)
	require.Equal(t, "FOG_TO_CLOUD", p.Flow)
	require.Equal(t, []string{"READ", "WRITE", "TRANSMIT"}, p.Permissions)
	require.True(t, p.Allows(access.Transmit))
	require.False(t, p.Allows(access.Execute))
	require.Equal(t, "FOG_TO_CLOUD:READ,WRITE,TRANSMIT", p.String())

	p, err = access.ParsePolicy("DEFAULT:")
	require.NoError(t, err)
	require.Empty(t, p.Permissions)

	_, err = access.ParsePolicy("READ")
	require.Error(t, err)
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]access.Action{
		"read":     access.Read,
		" Write ":  access.Write,
		"EXECUTE":  access.Execute,
		"transmit": access.Transmit,
	} {
		got, err := access.ParseAction(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := access.ParseAction("")
	require.Error(t, err)
}

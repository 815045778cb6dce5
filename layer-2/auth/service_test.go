package auth

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/agritracechain/layer-2/apperror"
)

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// sign produces what a browser wallet returns for personal_sign
func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryNonceStore(), NewJWTManager(testJWTConfig()), 5*time.Minute, cmtlog.NewNopLogger())
	require.NoError(t, err)
	return svc
}

func TestLoginRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := newWallet(t)

	nonce, err := svc.IssueNonce(ctx, w.address)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(nonce, NoncePrefix))

	session, err := svc.VerifySignature(ctx, w.address, nonce, w.sign(t, nonce))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, int64(3600), session.ExpiresIn)

	claims, err := svc.Authenticate("Bearer " + session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(w.address), claims.AddressWallet)
}

func TestNonceIsSingleUse(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := newWallet(t)

	nonce, err := svc.IssueNonce(ctx, w.address)
	require.NoError(t, err)
	sig := w.sign(t, nonce)

	_, err = svc.VerifySignature(ctx, w.address, nonce, sig)
	require.NoError(t, err)

	_, err = svc.VerifySignature(ctx, w.address, nonce, sig)
	require.Error(t, err)
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))
}

func TestStaleNonceRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	w := newWallet(t)

	stale, err := svc.IssueNonce(ctx, w.address)
	require.NoError(t, err)
	_, err = svc.IssueNonce(ctx, w.address)
	require.NoError(t, err)

	_, err = svc.VerifySignature(ctx, w.address, stale, w.sign(t, stale))
	require.Error(t, err)
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))
}

func TestSignatureFromOtherWalletRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := newWallet(t)
	attacker := newWallet(t)

	nonce, err := svc.IssueNonce(ctx, owner.address)
	require.NoError(t, err)

	_, err = svc.VerifySignature(ctx, owner.address, nonce, attacker.sign(t, nonce))
	require.Error(t, err)
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))

	// the failed attempt consumed the challenge
	_, err = svc.VerifySignature(ctx, owner.address, nonce, owner.sign(t, nonce))
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))
}

func TestNonceForOtherAddressRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := newWallet(t)
	bob := newWallet(t)

	aliceNonce, err := svc.IssueNonce(ctx, alice.address)
	require.NoError(t, err)
	_, err = svc.IssueNonce(ctx, bob.address)
	require.NoError(t, err)

	_, err = svc.VerifySignature(ctx, bob.address, aliceNonce, bob.sign(t, aliceNonce))
	require.Error(t, err)
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))
}

func TestVerifySignatureValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		address   string
		nonce     string
		signature string
	}{
		{"missing address", "", "n", "0x00"},
		{"missing nonce", "0x1111111111111111111111111111111111111111", "", "0x00"},
		{"missing signature", "0x1111111111111111111111111111111111111111", "n", ""},
		{"bad address", "not-an-address", "n", "0x00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.VerifySignature(ctx, tt.address, tt.nonce, tt.signature)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
		})
	}

	_, err := svc.IssueNonce(ctx, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestMalformedSignature(t *testing.T) {
	w := newWallet(t)
	assert.ErrorIs(t, VerifyWalletSignature(w.address, "hello", "0xzz"), ErrMalformedSignature)
	assert.ErrorIs(t, VerifyWalletSignature(w.address, "hello", "0x1234"), ErrMalformedSignature)
	assert.NoError(t, VerifyWalletSignature(strings.ToLower(w.address), "hello", w.sign(t, "hello")))
}

func TestAuthenticateHeader(t *testing.T) {
	svc := newTestService(t)

	for _, header := range []string{"", "Token abc", "Bearer ", "Bearer nope"} {
		_, err := svc.Authenticate(header)
		assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err), header)
	}
}

package walletauth

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	"github.com/smallbiznis/agentgate/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(t *testing.T) (*Authenticator, *clock.FakeClock) {
	t.Helper()

	client, _ := storetest.NewRedis(t)
	fake := clock.NewFakeClock(testNow)
	cfg := config.Config{DashboardName: "AgentGate"}
	cfg.Registration.SignatureMaxAge = 5 * time.Minute
	cfg.Registration.ReplayProtection = true

	return New(Params{Cfg: cfg, Log: zap.NewNop(), Clock: fake, Redis: client}), fake
}

func sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func address(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestVerifyFreshSignature(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := Message("AgentGate", testNow.Add(-time.Minute))
	sig := sign(t, key, msg)

	assert.True(t, auth.Verify(context.Background(), address(key), msg, sig))
	assert.True(t, auth.Verify(context.Background(), strings.ToLower(address(key)), msg, sig), "address comparison is case-insensitive")
}

func TestCheckFreshnessBoundaries(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		ts      time.Time
		wantErr error
	}{
		{name: "now", ts: testNow, wantErr: nil},
		{name: "exactly five minutes", ts: testNow.Add(-5 * time.Minute), wantErr: nil},
		{name: "one ms past window", ts: testNow.Add(-5*time.Minute - time.Millisecond), wantErr: ErrExpiredSignature},
		{name: "future dated", ts: testNow.Add(time.Millisecond), wantErr: ErrFutureTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message("AgentGate", tt.ts)
			err := auth.Check(address(key), msg, sign(t, key, msg))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckRejectsMalformedInput(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	valid := Message("AgentGate", testNow)

	tests := []struct {
		name    string
		address string
		message string
		sig     string
		wantErr error
	}{
		{name: "wrong app", address: address(key), message: Message("OtherApp", testNow), sig: sign(t, key, Message("OtherApp", testNow)), wantErr: ErrMalformedMessage},
		{name: "missing timestamp", address: address(key), message: "AgentGate Dashboard\n", sig: sign(t, key, "AgentGate Dashboard\n"), wantErr: ErrMissingTimestamp},
		{name: "non numeric timestamp", address: address(key), message: "AgentGate Dashboard\nTimestamp: soon", sig: sign(t, key, "AgentGate Dashboard\nTimestamp: soon"), wantErr: ErrMissingTimestamp},
		{name: "garbage signature", address: address(key), message: valid, sig: "0xdeadbeef", wantErr: ErrInvalidSignature},
		{name: "not hex", address: address(key), message: valid, sig: "signature", wantErr: ErrInvalidSignature},
		{name: "other signer", address: address(key), message: valid, sig: sign(t, other, valid), wantErr: ErrSignerMismatch},
		{name: "bad address", address: "0x1234", message: valid, sig: sign(t, key, valid), wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, auth.Check(tt.address, tt.message, tt.sig), tt.wantErr)
			assert.False(t, auth.Verify(context.Background(), tt.address, tt.message, tt.sig))
		})
	}
}

func TestVerifyExpiresAsClockAdvances(t *testing.T) {
	auth, fake := newTestAuthenticator(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := Message("AgentGate", testNow)
	sig := sign(t, key, msg)
	require.True(t, auth.Verify(context.Background(), address(key), msg, sig))

	fake.Advance(5*time.Minute + time.Second)
	assert.False(t, auth.Verify(context.Background(), address(key), msg, sig))
}

func TestConsumeRejectsReplay(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := Message("AgentGate", testNow)
	later := Message("AgentGate", testNow.Add(time.Second))

	require.NoError(t, auth.Consume(ctx, address(key), msg))
	assert.ErrorIs(t, auth.Consume(ctx, address(key), msg), ErrSignatureReplayed)
	assert.ErrorIs(t, auth.Consume(ctx, strings.ToLower(address(key)), msg), ErrSignatureReplayed)
	assert.NoError(t, auth.Consume(ctx, address(key), later))
}

func TestConsumeRejectsReencodedSignature(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := Message("AgentGate", testNow)
	sig := sign(t, key, msg)

	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	raw[crypto.RecoveryIDOffset] -= 27
	reencoded := hexutil.Encode(raw)
	require.NotEqual(t, sig, reencoded)

	require.True(t, auth.Verify(ctx, address(key), msg, sig))
	require.NoError(t, auth.Consume(ctx, address(key), msg))

	require.True(t, auth.Verify(ctx, address(key), msg, reencoded), "both v encodings recover the signer")
	assert.ErrorIs(t, auth.Consume(ctx, address(key), msg), ErrSignatureReplayed)
}

func TestNormalizeAddress(t *testing.T) {
	got, ok := NormalizeAddress("0xAbCdEf0123456789abcdef0123456789ABCDEF01")
	require.True(t, ok)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", got)

	_, ok = NormalizeAddress("abcdef0123456789abcdef0123456789abcdef01")
	assert.False(t, ok)
	_, ok = NormalizeAddress("0xnothex")
	assert.False(t, ok)
}

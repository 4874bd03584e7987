// Package walletauth verifies dashboard messages signed with an Ethereum wallet.
//
// The signed message has the fixed form
//
//	<App> Dashboard
//	Timestamp: <unix-ms>
//
// and is hashed with the EIP-191 personal_sign prefix before signer recovery.
package walletauth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

const DefaultMaxAge = 5 * time.Minute

var (
	ErrMalformedMessage  = errors.New("malformed_message")
	ErrMissingTimestamp  = errors.New("missing_timestamp")
	ErrFutureTimestamp   = errors.New("future_timestamp")
	ErrExpiredSignature  = errors.New("expired_signature")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidAddress    = errors.New("invalid_address")
	ErrSignerMismatch    = errors.New("signer_mismatch")
	ErrSignatureReplayed = errors.New("signature_replayed")
)

var timestampPattern = regexp.MustCompile(`(?m)^Timestamp:\s*(\S+)\s*$`)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Redis   *redis.Client
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Authenticator struct {
	prefix  string
	maxAge  time.Duration
	replay  bool
	clock   clock.Clock
	redis   *redis.Client
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func New(p Params) *Authenticator {
	maxAge := p.Cfg.Registration.SignatureMaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Authenticator{
		prefix:  messagePrefix(p.Cfg.DashboardName),
		maxAge:  maxAge,
		replay:  p.Cfg.Registration.ReplayProtection,
		clock:   p.Clock,
		redis:   p.Redis,
		log:     p.Log.Named("walletauth"),
		metrics: p.Metrics,
	}
}

// Message builds the dashboard message a wallet is expected to sign at ts.
func Message(appName string, ts time.Time) string {
	return fmt.Sprintf("%sTimestamp: %d", messagePrefix(appName), ts.UnixMilli())
}

func messagePrefix(appName string) string {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		appName = "AgentGate"
	}
	return appName + " Dashboard\n"
}

// Verify reports whether signature is a fresh signature of message by address.
// It never returns an error: every parse or crypto failure is a rejection.
func (a *Authenticator) Verify(ctx context.Context, address, message, signature string) bool {
	if err := a.Check(address, message, signature); err != nil {
		a.log.Debug("wallet signature rejected", zap.String("reason", err.Error()))
		a.metrics.RecordWalletAuthFailure(ctx, err.Error())
		return false
	}
	return true
}

// Check is Verify with the rejection reason.
func (a *Authenticator) Check(address, message, signature string) error {
	claimed, ok := NormalizeAddress(address)
	if !ok {
		return ErrInvalidAddress
	}
	if !strings.HasPrefix(message, a.prefix) {
		return ErrMalformedMessage
	}

	match := timestampPattern.FindStringSubmatch(message)
	if match == nil {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	age := a.clock.Now().UnixMilli() - ts
	if age < 0 {
		return ErrFutureTimestamp
	}
	if age > a.maxAge.Milliseconds() {
		return ErrExpiredSignature
	}

	signer, err := RecoverAddress(message, signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if signer != claimed {
		return ErrSignerMismatch
	}
	return nil
}

// Consume marks the signed message of address as spent for the freshness
// window. A second Consume of the same (signer, message) pair returns
// ErrSignatureReplayed, whatever encoding the signature was sent in.
func (a *Authenticator) Consume(ctx context.Context, address, message string) error {
	if !a.replay || a.redis == nil {
		return nil
	}
	key := replayKey(address, message)

	ok, err := a.redis.SetNX(ctx, key, 1, a.maxAge).Result()
	if err != nil {
		return err
	}
	if !ok {
		a.metrics.RecordWalletAuthFailure(ctx, ErrSignatureReplayed.Error())
		return ErrSignatureReplayed
	}
	return nil
}

// replayKey identifies a signed authorization by signer and message, not by
// signature bytes: v may be sent as 0/1 or 27/28 and s has a malleable twin.
func replayKey(address, message string) string {
	signer := strings.ToLower(strings.TrimSpace(address))
	sum := sha3.Sum256([]byte(signer + "\n" + message))
	return "walletauth:sig:" + hex.EncodeToString(sum[:])
}

// RecoverAddress returns the lower-cased address that produced signature
// over the EIP-191 hash of message.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return "", err
	}
	if len(sig) != crypto.SignatureLength {
		return "", ErrInvalidSignature
	}

	// wallets emit v as 27/28, recovery expects 0/1
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", ErrInvalidSignature
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// NormalizeAddress validates a 0x-prefixed hex address and lower-cases it.
func NormalizeAddress(address string) (string, bool) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", false
	}
	if !common.IsHexAddress(address) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), true
}

package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	GetByClaimID(ctx context.Context, claimID string) (*StatusResponse, error)
	// Verify checks the social proof and moves a pending claim to verified.
	// owner is the wallet-authenticated caller, or empty for bearer-only calls.
	Verify(ctx context.Context, claimID string, req VerifyRequest, owner string) (*StatusResponse, error)
	// Revoke returns the registration as it was before revocation.
	Revoke(ctx context.Context, claimID, owner string) (*Registration, error)
	ListByOwner(ctx context.Context, owner string) ([]OwnerView, error)
	Stats(ctx context.Context) (*StatsResponse, error)
}

// VerifyResult is the outcome of the verify compare-and-set.
type VerifyResult int

const (
	VerifyOK VerifyResult = iota
	VerifyNotFound
	VerifyNotPending
	VerifyExpired
)

// RevokeResult is the outcome of the revoke compare-and-set.
type RevokeResult int

const (
	RevokeOK RevokeResult = iota
	RevokeNotFound
	RevokeAlreadyRevoked
)

// AgentKey is the key record materialized when a claim is verified.
type AgentKey struct {
	Label     string
	CreatedAt time.Time
}

type Repository interface {
	// Create claims the agent name and writes reg in one step. A live holder
	// of the name is reported as (false, nil).
	Create(ctx context.Context, reg *Registration, now time.Time) (bool, error)
	Get(ctx context.Context, claimID string) (*Registration, error)
	MarkVerified(ctx context.Context, claimID, tweetURL string, now time.Time, key AgentKey) (VerifyResult, error)
	Revoke(ctx context.Context, claimID, owner string, now time.Time) (RevokeResult, *Registration, error)
	ListByOwner(ctx context.Context, owner string) ([]Registration, error)
	Stats(ctx context.Context) (*StatsResponse, error)
}

type CreateRequest struct {
	AgentName    string `json:"agent_name"`
	OwnerAddress string `json:"owner_address"`
	TelegramID   string `json:"telegram_id"`
	Description  string `json:"description"`
	WebhookURL   string `json:"webhook_url"`
}

type CreateResponse struct {
	AgentName        string    `json:"agent_name"`
	APIKey           string    `json:"api_key"`
	APIKeyPrefix     string    `json:"api_key_prefix"`
	ClaimID          string    `json:"claim_id"`
	ClaimURL         string    `json:"claim_url"`
	VerificationCode string    `json:"verification_code"`
	Status           Status    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type VerifyRequest struct {
	TweetURL string `json:"tweet_url"`
}

// StatusResponse is the bearer view of a claim. VerificationCode and
// OwnerAddress are only filled while the claim is pending.
type StatusResponse struct {
	ClaimID          string     `json:"claim_id"`
	AgentName        string     `json:"agent_name"`
	Status           Status     `json:"status"`
	OwnerAddress     string     `json:"owner_address,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
	TweetURL         string     `json:"tweet_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

type OwnerView struct {
	ClaimID          string     `json:"claim_id"`
	AgentName        string     `json:"agent_name"`
	Status           Status     `json:"status"`
	Description      string     `json:"description,omitempty"`
	TelegramID       string     `json:"telegram_id,omitempty"`
	APIKeyPrefix     string     `json:"api_key_prefix"`
	VerificationCode string     `json:"verification_code,omitempty"`
	TweetURL         string     `json:"tweet_url,omitempty"`
	WebhookURL       string     `json:"webhook_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
}

// EventData is the webhook payload for registration events. It never carries
// the claim id, which is a bearer credential.
type EventData struct {
	AgentName    string     `json:"agent_name"`
	OwnerAddress string     `json:"owner_address"`
	Status       Status     `json:"status"`
	APIKeyPrefix string     `json:"api_key_prefix"`
	TweetURL     string     `json:"tweet_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

type StatsResponse struct {
	Created  int64 `json:"registrations_created"`
	Verified int64 `json:"registrations_verified"`
	Revoked  int64 `json:"registrations_revoked"`
}

var (
	ErrInvalidAgentName   = errors.New("invalid_agent_name")
	ErrInvalidOwner       = errors.New("invalid_owner_address")
	ErrInvalidTelegramID  = errors.New("invalid_telegram_id")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidWebhookURL  = errors.New("invalid_webhook_url")
	ErrInvalidTweetURL    = errors.New("invalid_tweet_url")
	ErrNameTaken          = errors.New("agent_name_taken")
	ErrNotFound           = errors.New("not_found")
	ErrAlreadyVerified    = errors.New("claim_already_verified")
	ErrAlreadyRevoked     = errors.New("claim_revoked")
	ErrClaimExpired       = errors.New("claim_expired")
	ErrOwnerMismatch      = errors.New("owner_mismatch")
	ErrVerifyInProgress   = errors.New("verification_in_progress")
)

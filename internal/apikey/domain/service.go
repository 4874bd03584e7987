package domain

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultLabel   = "default"
	MaxLabelLength = 64
)

type Service interface {
	Generate(ctx context.Context, wallet, label string) (*SecretResponse, error)
	List(ctx context.Context, wallet string) ([]Response, error)
	Revoke(ctx context.Context, wallet, keyID string) error
	// Get returns the key owned by wallet, ErrNotFound otherwise.
	Get(ctx context.Context, wallet, keyID string) (*Key, error)
	Authenticate(ctx context.Context, rawKey string) (*Key, error)
}

type Repository interface {
	// Create inserts key unless the wallet already holds maxPerWallet
	// dashboard keys. A full wallet is reported as (false, nil).
	Create(ctx context.Context, key *Key, maxPerWallet int) (bool, error)
	List(ctx context.Context, wallet string) ([]Key, error)
	// Revoke deletes a dashboard key owned by wallet. Agent keys are left
	// in place and reported as ErrAgentKey.
	Revoke(ctx context.Context, keyID, wallet string) (bool, error)
	Get(ctx context.Context, keyID string) (*Key, error)
	Touch(ctx context.Context, keyID string, at time.Time) error
}

type GenerateRequest struct {
	Label string `json:"label"`
}

type Response struct {
	KeyID        string     `json:"key_id"`
	Label        string     `json:"label"`
	KeyPrefix    string     `json:"key_prefix"`
	Kind         string     `json:"kind"`
	AgentName    string     `json:"agent_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	RequestCount int64      `json:"request_count"`
}

type SecretResponse struct {
	KeyID     string    `json:"key_id"`
	APIKey    string    `json:"api_key"`
	KeyPrefix string    `json:"key_prefix"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	KindDashboard = "dashboard"
	KindAgent     = "agent"
)

var (
	ErrInvalidWallet   = errors.New("invalid_wallet_address")
	ErrInvalidLabel    = errors.New("invalid_label")
	ErrInvalidKeyID    = errors.New("invalid_key_id")
	ErrInvalidKey      = errors.New("invalid_api_key")
	ErrNotFound        = errors.New("not_found")
	ErrKeyLimitReached = errors.New("key_limit_reached")
	// ErrAgentKey marks a key owned by an agent registration; it goes away
	// only with that registration.
	ErrAgentKey = errors.New("agent_key_requires_registration_revoke")
)

package domain

import "time"

type Status string

const (
	StatusPending  Status = "pending_claim"
	StatusVerified Status = "verified"
	StatusRevoked  Status = "revoked"

	// StatusExpired is derived at read time and never stored.
	StatusExpired Status = "expired"
)

// Registration is an agent's claim on a name, pending until its owner proves
// control of the wallet.
type Registration struct {
	ClaimID          string
	AgentName        string
	OwnerAddress     string
	TelegramID       string
	Description      string
	APIKeyHash       string
	APIKeyPrefix     string
	Status           Status
	VerificationCode string
	TweetURL         string
	WebhookURL       string
	CreatedAt        time.Time
	VerifiedAt       *time.Time
	RevokedAt        *time.Time
	ExpiresAt        time.Time
}

// EffectiveStatus reports a pending claim past its expiry as expired.
func (r Registration) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusPending && now.After(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

func RecordKey(claimID string) string {
	return "registration:" + claimID
}

// NameKey indexes active claims by lower-cased agent name.
func NameKey(lowerName string) string {
	return "agentname:" + lowerName
}

func OwnerKey(wallet string) string {
	return "wallet:registrations:" + wallet
}

func VerifyLockKey(claimID string) string {
	return "lock:verify:" + claimID
}

const (
	StatsCreatedKey  = "stats:registrations:created"
	StatsVerifiedKey = "stats:registrations:verified"
	StatsRevokedKey  = "stats:registrations:revoked"
)

package domain

import "time"

// Key is the stored record of an issued API key. KeyID is the SHA-256 hash of
// the key material; the cleartext is never persisted.
type Key struct {
	KeyID         string
	WalletAddress string
	Label         string
	KeyPrefix     string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
	RequestCount  int64

	// ClaimID and AgentName are set only for keys issued through a verified
	// agent registration.
	ClaimID   string
	AgentName string
}

func (k Key) IsAgentKey() bool {
	return k.ClaimID != ""
}

// Redis layout shared with the registration store, which materializes agent
// keys inside its own scripts.
const (
	FieldWalletAddress = "walletAddress"
	FieldLabel         = "label"
	FieldKeyPrefix     = "keyPrefix"
	FieldCreatedAt     = "createdAt"
	FieldLastUsedAt    = "lastUsedAt"
	FieldRequestCount  = "requestCount"
	FieldClaimID       = "claimId"
	FieldAgentName     = "agentName"
)

func RecordKey(keyHash string) string {
	return "apikey:" + keyHash
}

// WalletKeysKey lists dashboard keys; it is the set the per-wallet cap counts.
func WalletKeysKey(wallet string) string {
	return "wallet:keys:" + wallet
}

func WalletAgentKeysKey(wallet string) string {
	return "wallet:agentkeys:" + wallet
}

package domain

import "time"

// Entry is one reputation check recorded against the calling wallet.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	KeyPrefix  string    `json:"key_prefix"`
	Subject    string    `json:"subject"`
	Context    string    `json:"context,omitempty"`
	Decision   string    `json:"decision"`
	Confidence float64   `json:"confidence"`
}

// FeedEntry is a public, redacted record of an agent action.
type FeedEntry struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Subject   string    `json:"subject"`
	Context   string    `json:"context,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActivityCap = 1000
	FeedCap     = 100

	DefaultListLimit = 50
	MaxListLimit     = 100

	GlobalFeedKey = "global:feed"
)

func ActivityKey(wallet string) string {
	return "activity:" + wallet
}

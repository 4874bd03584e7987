package domain

import (
	"context"
	"errors"
)

type Service interface {
	LogActivity(ctx context.Context, wallet string, req LogActivityRequest) (*Entry, error)
	LogFeed(ctx context.Context, req LogFeedRequest) (*FeedEntry, error)
	ListActivity(ctx context.Context, wallet string, limit int) ([]Entry, error)
	ListFeed(ctx context.Context, limit int) ([]FeedEntry, error)
}

// Repository stores JSON members in capped sorted sets scored by unix ms.
type Repository interface {
	Append(ctx context.Context, key string, score int64, member []byte, capacity int64) error
	Range(ctx context.Context, key string, limit int) ([]string, error)
}

type LogActivityRequest struct {
	KeyPrefix  string  `json:"-"`
	Subject    string  `json:"subject"`
	Context    string  `json:"context"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
}

type LogFeedRequest struct {
	AgentName string `json:"-"`
	Subject   string `json:"subject"`
	Context   string `json:"context"`
	TxHash    string `json:"tx_hash"`
}

var (
	ErrInvalidWallet     = errors.New("invalid_wallet_address")
	ErrInvalidSubject    = errors.New("invalid_subject")
	ErrInvalidContext    = errors.New("invalid_context")
	ErrInvalidDecision   = errors.New("invalid_decision")
	ErrInvalidConfidence = errors.New("invalid_confidence")
	ErrInvalidTxHash     = errors.New("invalid_tx_hash")
	ErrInvalidAgentName  = errors.New("invalid_agent_name")
)

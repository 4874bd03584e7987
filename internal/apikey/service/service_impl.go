package service

import (
	"context"
	"strings"
	"unicode/utf8"

	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    apikeydomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	repo         apikeydomain.Repository
	metrics      *obsmetrics.Metrics
	maxPerWallet int
}

func New(p Params) apikeydomain.Service {
	maxPerWallet := p.Cfg.Keys.MaxPerWallet
	if maxPerWallet <= 0 {
		maxPerWallet = 20
	}
	return &Service{
		log:          p.Log.Named("apikey.service"),
		clock:        p.Clock,
		repo:         p.Repo,
		metrics:      p.Metrics,
		maxPerWallet: maxPerWallet,
	}
}

func (s *Service) Generate(ctx context.Context, wallet, label string) (*apikeydomain.SecretResponse, error) {
	wallet, ok := walletauth.NormalizeAddress(wallet)
	if !ok {
		return nil, apikeydomain.ErrInvalidWallet
	}

	label = strings.TrimSpace(label)
	if label == "" {
		label = apikeydomain.DefaultLabel
	}
	if utf8.RuneCountInString(label) > apikeydomain.MaxLabelLength {
		return nil, apikeydomain.ErrInvalidLabel
	}

	plain, hash, prefix, err := apikeydomain.GenerateKey()
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.Key{
		KeyID:         hash,
		WalletAddress: wallet,
		Label:         label,
		KeyPrefix:     prefix,
		CreatedAt:     s.clock.Now(),
	}

	created, err := s.repo.Create(ctx, key, s.maxPerWallet)
	if err != nil {
		return nil, err
	}
	if !created {
		s.metrics.RecordAPIKeyEvent(ctx, "limit_reached")
		return nil, apikeydomain.ErrKeyLimitReached
	}

	s.metrics.RecordAPIKeyEvent(ctx, "created")
	s.log.Info("api key created",
		zap.String("wallet_address", wallet),
		zap.String("key_prefix", prefix),
	)

	return &apikeydomain.SecretResponse{
		KeyID:     key.KeyID,
		APIKey:    plain,
		KeyPrefix: key.KeyPrefix,
		Label:     key.Label,
		CreatedAt: key.CreatedAt,
	}, nil
}

func (s *Service) List(ctx context.Context, wallet string) ([]apikeydomain.Response, error) {
	wallet, ok := walletauth.NormalizeAddress(wallet)
	if !ok {
		return nil, apikeydomain.ErrInvalidWallet
	}

	items, err := s.repo.List(ctx, wallet)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Revoke(ctx context.Context, wallet, keyID string) error {
	wallet, ok := walletauth.NormalizeAddress(wallet)
	if !ok {
		return apikeydomain.ErrInvalidWallet
	}

	keyID = strings.ToLower(strings.TrimSpace(keyID))
	if !apikeydomain.IsKeyID(keyID) {
		return apikeydomain.ErrInvalidKeyID
	}

	revoked, err := s.repo.Revoke(ctx, keyID, wallet)
	if err != nil {
		return err
	}
	if !revoked {
		return apikeydomain.ErrNotFound
	}

	s.metrics.RecordAPIKeyEvent(ctx, "revoked")
	s.log.Info("api key revoked",
		zap.String("wallet_address", wallet),
		zap.String("key_id", keyID[:12]),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, wallet, keyID string) (*apikeydomain.Key, error) {
	wallet, ok := walletauth.NormalizeAddress(wallet)
	if !ok {
		return nil, apikeydomain.ErrInvalidWallet
	}

	keyID = strings.ToLower(strings.TrimSpace(keyID))
	if !apikeydomain.IsKeyID(keyID) {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || key.WalletAddress != wallet {
		return nil, apikeydomain.ErrNotFound
	}
	return key, nil
}

// Authenticate resolves raw key material to its record and counts the use.
// Usage bookkeeping failures do not fail the request.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*apikeydomain.Key, error) {
	rawKey = strings.TrimSpace(rawKey)
	if !apikeydomain.LooksLikeKey(rawKey) {
		return nil, apikeydomain.ErrInvalidKey
	}

	keyID := apikeydomain.HashAPIKey(rawKey)
	key, err := s.repo.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrInvalidKey
	}

	if err := s.repo.Touch(ctx, keyID, s.clock.Now()); err != nil {
		s.log.Warn("failed to record api key usage", zap.String("key_prefix", key.KeyPrefix), zap.Error(err))
	}
	return key, nil
}

func toResponse(key *apikeydomain.Key) apikeydomain.Response {
	kind := apikeydomain.KindDashboard
	if key.IsAgentKey() {
		kind = apikeydomain.KindAgent
	}
	return apikeydomain.Response{
		KeyID:        key.KeyID,
		Label:        key.Label,
		KeyPrefix:    key.KeyPrefix,
		Kind:         kind,
		AgentName:    key.AgentName,
		CreatedAt:    key.CreatedAt,
		LastUsedAt:   key.LastUsedAt,
		RequestCount: key.RequestCount,
	}
}

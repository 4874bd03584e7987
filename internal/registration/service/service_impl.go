package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	"github.com/smallbiznis/agentgate/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/agentgate/internal/registration/domain"
	"github.com/smallbiznis/agentgate/internal/socialproof"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"github.com/smallbiznis/agentgate/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	claimIDBytes         = 32
	maxTelegramIDLength  = 128
	maxDescriptionLength = 500
	defaultClaimTTL      = 24 * time.Hour
	defaultVerifyLockTTL = 30 * time.Second

	// No 0/O or 1/I. 32 symbols keep the byte-to-symbol mapping unbiased.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,64}$`)
	claimIDPattern   = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Notifier delivers owner webhooks.
type Notifier interface {
	Validate(url string) error
	Send(ctx context.Context, url, event string, data any)
}

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     registrationdomain.Repository
	Locker   *ratelimit.Locker
	Proof    socialproof.Verifier
	Notifier Notifier
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	repo     registrationdomain.Repository
	locker   *ratelimit.Locker
	proof    socialproof.Verifier
	notifier Notifier
	metrics  *obsmetrics.Metrics

	publicBaseURL string
	claimTTL      time.Duration
	verifyLockTTL time.Duration
}

func New(p Params) registrationdomain.Service {
	claimTTL := p.Cfg.Registration.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	lockTTL := p.Cfg.Registration.VerifyLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultVerifyLockTTL
	}

	return &Service{
		log:           p.Log.Named("registration.service"),
		clock:         p.Clock,
		repo:          p.Repo,
		locker:        p.Locker,
		proof:         p.Proof,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
		publicBaseURL: strings.TrimRight(p.Cfg.PublicBaseURL, "/"),
		claimTTL:      claimTTL,
		verifyLockTTL: lockTTL,
	}
}

func (s *Service) Create(ctx context.Context, req registrationdomain.CreateRequest) (*registrationdomain.CreateResponse, error) {
	name := strings.TrimSpace(req.AgentName)
	if !agentNamePattern.MatchString(name) {
		return nil, registrationdomain.ErrInvalidAgentName
	}
	owner, ok := walletauth.NormalizeAddress(req.OwnerAddress)
	if !ok {
		return nil, registrationdomain.ErrInvalidOwner
	}
	telegramID := strings.TrimSpace(req.TelegramID)
	if utf8.RuneCountInString(telegramID) > maxTelegramIDLength {
		return nil, registrationdomain.ErrInvalidTelegramID
	}
	description := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, registrationdomain.ErrInvalidDescription
	}
	webhookURL := strings.TrimSpace(req.WebhookURL)
	if webhookURL != "" {
		if err := s.notifier.Validate(webhookURL); err != nil {
			return nil, registrationdomain.ErrInvalidWebhookURL
		}
	}

	claimID, err := newClaimID()
	if err != nil {
		return nil, err
	}
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}
	plain, keyHash, keyPrefix, err := apikeydomain.GenerateKey()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	reg := &registrationdomain.Registration{
		ClaimID:          claimID,
		AgentName:        name,
		OwnerAddress:     owner,
		TelegramID:       telegramID,
		Description:      description,
		APIKeyHash:       keyHash,
		APIKeyPrefix:     keyPrefix,
		Status:           registrationdomain.StatusPending,
		VerificationCode: code,
		WebhookURL:       webhookURL,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.claimTTL),
	}

	created, err := s.repo.Create(ctx, reg, now)
	if err != nil {
		return nil, err
	}
	if !created {
		s.metrics.RecordRegistrationEvent(ctx, "name_conflict")
		return nil, registrationdomain.ErrNameTaken
	}

	s.metrics.RecordRegistrationEvent(ctx, "created")
	s.log.Info("agent registered",
		zap.String("agent_name", name),
		zap.String("owner_address", owner),
		zap.String("key_prefix", keyPrefix),
	)

	return &registrationdomain.CreateResponse{
		AgentName:        name,
		APIKey:           plain,
		APIKeyPrefix:     keyPrefix,
		ClaimID:          claimID,
		ClaimURL:         s.publicBaseURL + "/claim/" + claimID,
		VerificationCode: code,
		Status:           registrationdomain.StatusPending,
		ExpiresAt:        reg.ExpiresAt,
	}, nil
}

func (s *Service) GetByClaimID(ctx context.Context, claimID string) (*registrationdomain.StatusResponse, error) {
	reg, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return s.toStatusResponse(reg), nil
}

func (s *Service) Verify(ctx context.Context, claimID string, req registrationdomain.VerifyRequest, owner string) (*registrationdomain.StatusResponse, error) {
	reg, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVerifiable(reg); err != nil {
		return nil, err
	}

	if owner != "" {
		normalized, ok := walletauth.NormalizeAddress(owner)
		if !ok || normalized != reg.OwnerAddress {
			return nil, registrationdomain.ErrOwnerMismatch
		}
	}

	tweetURL, err := socialproof.NormalizePostURL(req.TweetURL)
	if err != nil {
		return nil, registrationdomain.ErrInvalidTweetURL
	}

	var result registrationdomain.VerifyResult
	err = s.locker.WithLock(ctx, registrationdomain.VerifyLockKey(reg.ClaimID), s.verifyLockTTL, func(ctx context.Context) error {
		if _, err := s.proof.Verify(ctx, tweetURL, reg.VerificationCode, reg.OwnerAddress); err != nil {
			return err
		}

		now := s.clock.Now()
		var err error
		result, err = s.repo.MarkVerified(ctx, reg.ClaimID, tweetURL, now, registrationdomain.AgentKey{
			Label:     "agent:" + reg.AgentName,
			CreatedAt: now,
		})
		return err
	})
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		return nil, registrationdomain.ErrVerifyInProgress
	case err != nil:
		if errors.Is(err, socialproof.ErrProofRejected) {
			s.metrics.RecordRegistrationEvent(ctx, "proof_rejected")
		}
		return nil, err
	}

	switch result {
	case registrationdomain.VerifyOK:
	case registrationdomain.VerifyNotFound:
		return nil, registrationdomain.ErrNotFound
	case registrationdomain.VerifyExpired:
		return nil, registrationdomain.ErrClaimExpired
	default:
		// lost a race with another verify or a revoke
		current, err := s.load(ctx, claimID)
		if err != nil {
			return nil, err
		}
		if err := s.checkVerifiable(current); err != nil {
			return nil, err
		}
		return nil, registrationdomain.ErrVerifyInProgress
	}

	verified, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRegistrationEvent(ctx, "verified")
	s.log.Info("agent verified",
		zap.String("agent_name", verified.AgentName),
		zap.String("owner_address", verified.OwnerAddress),
	)
	s.notify(ctx, verified, webhook.EventAgentVerified)

	return s.toStatusResponse(verified), nil
}

func (s *Service) Revoke(ctx context.Context, claimID, owner string) (*registrationdomain.Registration, error) {
	owner, ok := walletauth.NormalizeAddress(owner)
	if !ok {
		return nil, registrationdomain.ErrInvalidOwner
	}
	claimID = strings.ToLower(strings.TrimSpace(claimID))
	if !claimIDPattern.MatchString(claimID) {
		return nil, registrationdomain.ErrNotFound
	}

	now := s.clock.Now()
	result, snapshot, err := s.repo.Revoke(ctx, claimID, owner, now)
	if err != nil {
		return nil, err
	}

	switch result {
	case registrationdomain.RevokeOK:
	case registrationdomain.RevokeAlreadyRevoked:
		return nil, registrationdomain.ErrAlreadyRevoked
	default:
		return nil, registrationdomain.ErrNotFound
	}

	s.metrics.RecordRegistrationEvent(ctx, "revoked")
	s.log.Info("agent registration revoked",
		zap.String("agent_name", snapshot.AgentName),
		zap.String("owner_address", owner),
		zap.String("previous_status", string(snapshot.Status)),
	)

	revoked := *snapshot
	revoked.Status = registrationdomain.StatusRevoked
	revoked.RevokedAt = &now
	s.notify(ctx, &revoked, webhook.EventAgentRevoked)

	return snapshot, nil
}

func (s *Service) ListByOwner(ctx context.Context, owner string) ([]registrationdomain.OwnerView, error) {
	owner, ok := walletauth.NormalizeAddress(owner)
	if !ok {
		return nil, registrationdomain.ErrInvalidOwner
	}

	items, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]registrationdomain.OwnerView, 0, len(items))
	for i := range items {
		reg := &items[i]
		status := reg.EffectiveStatus(now)
		view := registrationdomain.OwnerView{
			ClaimID:      reg.ClaimID,
			AgentName:    reg.AgentName,
			Status:       status,
			Description:  reg.Description,
			TelegramID:   reg.TelegramID,
			APIKeyPrefix: reg.APIKeyPrefix,
			TweetURL:     reg.TweetURL,
			WebhookURL:   reg.WebhookURL,
			CreatedAt:    reg.CreatedAt,
			ExpiresAt:    reg.ExpiresAt,
			VerifiedAt:   reg.VerifiedAt,
		}
		if status == registrationdomain.StatusPending {
			view.VerificationCode = reg.VerificationCode
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*registrationdomain.StatsResponse, error) {
	return s.repo.Stats(ctx)
}

func (s *Service) load(ctx context.Context, claimID string) (*registrationdomain.Registration, error) {
	claimID = strings.ToLower(strings.TrimSpace(claimID))
	if !claimIDPattern.MatchString(claimID) {
		return nil, registrationdomain.ErrNotFound
	}
	reg, err := s.repo.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, registrationdomain.ErrNotFound
	}
	return reg, nil
}

func (s *Service) checkVerifiable(reg *registrationdomain.Registration) error {
	switch reg.EffectiveStatus(s.clock.Now()) {
	case registrationdomain.StatusPending:
		return nil
	case registrationdomain.StatusVerified:
		return registrationdomain.ErrAlreadyVerified
	case registrationdomain.StatusRevoked:
		return registrationdomain.ErrAlreadyRevoked
	case registrationdomain.StatusExpired:
		return registrationdomain.ErrClaimExpired
	default:
		return registrationdomain.ErrNotFound
	}
}

func (s *Service) toStatusResponse(reg *registrationdomain.Registration) *registrationdomain.StatusResponse {
	status := reg.EffectiveStatus(s.clock.Now())
	resp := &registrationdomain.StatusResponse{
		ClaimID:    reg.ClaimID,
		AgentName:  reg.AgentName,
		Status:     status,
		TweetURL:   reg.TweetURL,
		CreatedAt:  reg.CreatedAt,
		ExpiresAt:  reg.ExpiresAt,
		VerifiedAt: reg.VerifiedAt,
		RevokedAt:  reg.RevokedAt,
	}
	if status == registrationdomain.StatusPending {
		resp.VerificationCode = reg.VerificationCode
		resp.OwnerAddress = reg.OwnerAddress
	}
	return resp
}

func (s *Service) notify(ctx context.Context, reg *registrationdomain.Registration, event string) {
	if reg.WebhookURL == "" || s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, reg.WebhookURL, event, registrationdomain.EventData{
		AgentName:    reg.AgentName,
		OwnerAddress: reg.OwnerAddress,
		Status:       reg.Status,
		APIKeyPrefix: reg.APIKeyPrefix,
		TweetURL:     reg.TweetURL,
		CreatedAt:    reg.CreatedAt,
		VerifiedAt:   reg.VerifiedAt,
		RevokedAt:    reg.RevokedAt,
	})
}

func newClaimID() (string, error) {
	buf := make([]byte, claimIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func newVerificationCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, 9)
	for i, b := range buf {
		if i == 4 {
			out = append(out, '-')
		}
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out), nil
}

package service

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	activitydomain "github.com/smallbiznis/agentgate/internal/activity/domain"
	"github.com/smallbiznis/agentgate/internal/clock"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	maxSubjectLength  = 128
	maxContextLength  = 64
	maxDecisionLength = 32
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Repo    activitydomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	repo    activitydomain.Repository
	metrics *obsmetrics.Metrics
}

func New(p Params) activitydomain.Service {
	return &Service{
		log:     p.Log.Named("activity.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) LogActivity(ctx context.Context, wallet string, req activitydomain.LogActivityRequest) (*activitydomain.Entry, error) {
	wallet, ok := walletauth.NormalizeAddress(wallet)
	if !ok {
		return nil, activitydomain.ErrInvalidWallet
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" || utf8.RuneCountInString(subject) > maxSubjectLength {
		return nil, activitydomain.ErrInvalidSubject
	}
	label := strings.TrimSpace(req.Context)
	if utf8.RuneCountInString(label) > maxContextLength {
		return nil, activitydomain.ErrInvalidContext
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision == "" || len(decision) > maxDecisionLength {
		return nil, activitydomain.ErrInvalidDecision
	}
	if math.IsNaN(req.Confidence) || req.Confidence < 0 || req.Confidence > 1 {
		return nil, activitydomain.ErrInvalidConfidence
	}

	now := s.clock.Now()
	entry := &activitydomain.Entry{
		ID:         newID(now),
		Timestamp:  now,
		KeyPrefix:  req.KeyPrefix,
		Subject:    subject,
		Context:    label,
		Decision:   decision,
		Confidence: req.Confidence,
	}

	if err := s.append(ctx, activitydomain.ActivityKey(wallet), now.UnixMilli(), entry, activitydomain.ActivityCap); err != nil {
		return nil, err
	}
	s.metrics.RecordLedgerEntry(ctx, "activity")
	return entry, nil
}

func (s *Service) LogFeed(ctx context.Context, req activitydomain.LogFeedRequest) (*activitydomain.FeedEntry, error) {
	agentName := strings.TrimSpace(req.AgentName)
	if agentName == "" {
		return nil, activitydomain.ErrInvalidAgentName
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" || utf8.RuneCountInString(subject) > maxSubjectLength {
		return nil, activitydomain.ErrInvalidSubject
	}
	label := strings.TrimSpace(req.Context)
	if utf8.RuneCountInString(label) > maxContextLength {
		return nil, activitydomain.ErrInvalidContext
	}
	txHash := strings.TrimSpace(req.TxHash)
	if txHash != "" && !txHashPattern.MatchString(txHash) {
		return nil, activitydomain.ErrInvalidTxHash
	}

	now := s.clock.Now()
	entry := &activitydomain.FeedEntry{
		ID:        newID(now),
		AgentName: agentName,
		Subject:   TruncateSubject(subject),
		Context:   label,
		TxHash:    strings.ToLower(txHash),
		Timestamp: now,
	}

	if err := s.append(ctx, activitydomain.GlobalFeedKey, now.UnixMilli(), entry, activitydomain.FeedCap); err != nil {
		return nil, err
	}
	s.metrics.RecordLedgerEntry(ctx, "feed")
	return entry, nil
}

func (s *Service) ListActivity(ctx context.Context, wallet string, limit int) ([]activitydomain.Entry, error) {
	wallet, ok := walletauth.NormalizeAddress(wallet)
	if !ok {
		return nil, activitydomain.ErrInvalidWallet
	}

	members, err := s.repo.Range(ctx, activitydomain.ActivityKey(wallet), clampLimit(limit))
	if err != nil {
		return nil, err
	}

	out := make([]activitydomain.Entry, 0, len(members))
	for _, member := range members {
		var entry activitydomain.Entry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			s.log.Warn("skipping undecodable activity entry", zap.Error(err))
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) ListFeed(ctx context.Context, limit int) ([]activitydomain.FeedEntry, error) {
	members, err := s.repo.Range(ctx, activitydomain.GlobalFeedKey, clampLimit(limit))
	if err != nil {
		return nil, err
	}

	out := make([]activitydomain.FeedEntry, 0, len(members))
	for _, member := range members {
		var entry activitydomain.FeedEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			s.log.Warn("skipping undecodable feed entry", zap.Error(err))
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) append(ctx context.Context, key string, score int64, entry any, capacity int64) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.repo.Append(ctx, key, score, member, capacity)
}

// TruncateSubject shortens addresses and hashes to 0x1234...abcd for the
// public feed.
func TruncateSubject(subject string) string {
	if strings.HasPrefix(subject, "0x") && len(subject) > 14 {
		return subject[:6] + "..." + subject[len(subject)-4:]
	}
	if utf8.RuneCountInString(subject) > 32 {
		runes := []rune(subject)
		return string(runes[:29]) + "..."
	}
	return subject
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return activitydomain.DefaultListLimit
	}
	if limit > activitydomain.MaxListLimit {
		return activitydomain.MaxListLimit
	}
	return limit
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

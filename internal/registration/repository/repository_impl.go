package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	registrationdomain "github.com/smallbiznis/agentgate/internal/registration/domain"
	"go.uber.org/zap"
)

const (
	// pendingRetention keeps an expired claim pollable for a while before
	// Redis drops it.
	pendingRetention = 7 * 24 * time.Hour
	revokedRetention = 30 * 24 * time.Hour
)

const (
	fieldClaimID          = "claimId"
	fieldAgentName        = "agentName"
	fieldOwnerAddress     = "ownerAddress"
	fieldTelegramID       = "telegramId"
	fieldDescription      = "description"
	fieldAPIKeyHash       = "apiKeyHash"
	fieldAPIKeyPrefix     = "apiKeyPrefix"
	fieldStatus           = "status"
	fieldVerificationCode = "verificationCode"
	fieldTweetURL         = "tweetUrl"
	fieldWebhookURL       = "webhookUrl"
	fieldCreatedAt        = "createdAt"
	fieldVerifiedAt       = "verifiedAt"
	fieldRevokedAt        = "revokedAt"
	fieldExpiresAt        = "expiresAt"
)

type repo struct {
	client *redis.Client
	log    *zap.Logger

	create *redis.Script
	verify *redis.Script
	revoke *redis.Script
}

func Provide(client *redis.Client, log *zap.Logger) registrationdomain.Repository {
	return &repo{
		client: client,
		log:    log.Named("registration.repository"),
		create: redis.NewScript(createScript),
		verify: redis.NewScript(verifyScript),
		revoke: redis.NewScript(revokeScript),
	}
}

func (r *repo) Create(ctx context.Context, reg *registrationdomain.Registration, now time.Time) (bool, error) {
	ttl := reg.ExpiresAt.Sub(now) + pendingRetention

	args := []interface{}{
		now.UnixMilli(),
		reg.ClaimID,
		ttl.Milliseconds(),
	}
	args = append(args, encodeRegistration(reg)...)

	res, err := r.create.Run(ctx, r.client,
		[]string{
			registrationdomain.RecordKey(reg.ClaimID),
			registrationdomain.NameKey(strings.ToLower(reg.AgentName)),
			registrationdomain.OwnerKey(reg.OwnerAddress),
			registrationdomain.StatsCreatedKey,
		},
		args...,
	).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("claim id collision for agent %s", reg.AgentName)
	}
}

func (r *repo) Get(ctx context.Context, claimID string) (*registrationdomain.Registration, error) {
	fields, err := r.client.HGetAll(ctx, registrationdomain.RecordKey(claimID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRegistration(fields)
}

func (r *repo) MarkVerified(ctx context.Context, claimID, tweetURL string, now time.Time, key registrationdomain.AgentKey) (registrationdomain.VerifyResult, error) {
	current, err := r.Get(ctx, claimID)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return registrationdomain.VerifyNotFound, nil
	}

	res, err := r.verify.Run(ctx, r.client,
		[]string{
			registrationdomain.RecordKey(claimID),
			registrationdomain.NameKey(strings.ToLower(current.AgentName)),
			registrationdomain.StatsVerifiedKey,
			apikeydomain.RecordKey(current.APIKeyHash),
			apikeydomain.WalletAgentKeysKey(current.OwnerAddress),
		},
		now.UnixMilli(),
		tweetURL,
		key.Label,
		key.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return 0, err
	}

	switch res {
	case 0:
		return registrationdomain.VerifyOK, nil
	case 1:
		return registrationdomain.VerifyNotFound, nil
	case 2:
		return registrationdomain.VerifyNotPending, nil
	case 3:
		return registrationdomain.VerifyExpired, nil
	default:
		return 0, fmt.Errorf("unexpected verify script result %d", res)
	}
}

func (r *repo) Revoke(ctx context.Context, claimID, owner string, now time.Time) (registrationdomain.RevokeResult, *registrationdomain.Registration, error) {
	current, err := r.Get(ctx, claimID)
	if err != nil {
		return 0, nil, err
	}
	if current == nil || current.OwnerAddress != owner {
		return registrationdomain.RevokeNotFound, nil, nil
	}

	res, err := r.revoke.Run(ctx, r.client,
		[]string{
			registrationdomain.RecordKey(claimID),
			registrationdomain.NameKey(strings.ToLower(current.AgentName)),
			registrationdomain.OwnerKey(owner),
			apikeydomain.RecordKey(current.APIKeyHash),
			apikeydomain.WalletAgentKeysKey(owner),
			registrationdomain.StatsRevokedKey,
		},
		owner,
		now.UnixMilli(),
		claimID,
		current.APIKeyHash,
		revokedRetention.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, nil, err
	}
	if len(res) == 0 {
		return 0, nil, fmt.Errorf("empty revoke script result")
	}

	switch code, _ := res[0].(int64); code {
	case 0:
	case 1:
		return registrationdomain.RevokeNotFound, nil, nil
	case 2:
		return registrationdomain.RevokeAlreadyRevoked, nil, nil
	default:
		return 0, nil, fmt.Errorf("unexpected revoke script result %v", res[0])
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	snapshot, err := decodeRegistration(fields)
	if err != nil {
		return 0, nil, err
	}
	return registrationdomain.RevokeOK, snapshot, nil
}

func (r *repo) ListByOwner(ctx context.Context, owner string) ([]registrationdomain.Registration, error) {
	ownerKey := registrationdomain.OwnerKey(owner)
	ids, err := r.client.SMembers(ctx, ownerKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []registrationdomain.Registration{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, registrationdomain.RecordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var stale []interface{}
	out := make([]registrationdomain.Registration, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		reg, err := decodeRegistration(fields)
		if err != nil {
			r.log.Warn("skipping undecodable registration", zap.Error(err))
			continue
		}
		if reg.Status == registrationdomain.StatusRevoked {
			continue
		}
		out = append(out, *reg)
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, ownerKey, stale...).Err(); err != nil {
			r.log.Warn("failed to prune expired registrations from owner index", zap.Error(err))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *repo) Stats(ctx context.Context) (*registrationdomain.StatsResponse, error) {
	values, err := r.client.MGet(ctx,
		registrationdomain.StatsCreatedKey,
		registrationdomain.StatsVerifiedKey,
		registrationdomain.StatsRevokedKey,
	).Result()
	if err != nil {
		return nil, err
	}

	counts := make([]int64, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stats counter: %w", err)
		}
		counts[i] = n
	}

	return &registrationdomain.StatsResponse{
		Created:  counts[0],
		Verified: counts[1],
		Revoked:  counts[2],
	}, nil
}

func encodeRegistration(reg *registrationdomain.Registration) []interface{} {
	out := []interface{}{
		fieldClaimID, reg.ClaimID,
		fieldAgentName, reg.AgentName,
		fieldOwnerAddress, reg.OwnerAddress,
		fieldTelegramID, reg.TelegramID,
		fieldDescription, reg.Description,
		fieldAPIKeyHash, reg.APIKeyHash,
		fieldAPIKeyPrefix, reg.APIKeyPrefix,
		fieldStatus, string(reg.Status),
		fieldVerificationCode, reg.VerificationCode,
		fieldTweetURL, reg.TweetURL,
		fieldWebhookURL, reg.WebhookURL,
		fieldCreatedAt, reg.CreatedAt.UnixMilli(),
		fieldExpiresAt, reg.ExpiresAt.UnixMilli(),
	}
	if reg.VerifiedAt != nil {
		out = append(out, fieldVerifiedAt, reg.VerifiedAt.UnixMilli())
	}
	if reg.RevokedAt != nil {
		out = append(out, fieldRevokedAt, reg.RevokedAt.UnixMilli())
	}
	return out
}

func decodeRegistration(fields map[string]string) (*registrationdomain.Registration, error) {
	createdAt, err := parseMillis(fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	expiresAt, err := parseMillis(fields[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("expiresAt: %w", err)
	}
	verifiedAt, err := parseOptionalMillis(fields[fieldVerifiedAt])
	if err != nil {
		return nil, fmt.Errorf("verifiedAt: %w", err)
	}
	revokedAt, err := parseOptionalMillis(fields[fieldRevokedAt])
	if err != nil {
		return nil, fmt.Errorf("revokedAt: %w", err)
	}

	return &registrationdomain.Registration{
		ClaimID:          fields[fieldClaimID],
		AgentName:        fields[fieldAgentName],
		OwnerAddress:     fields[fieldOwnerAddress],
		TelegramID:       fields[fieldTelegramID],
		Description:      fields[fieldDescription],
		APIKeyHash:       fields[fieldAPIKeyHash],
		APIKeyPrefix:     fields[fieldAPIKeyPrefix],
		Status:           registrationdomain.Status(fields[fieldStatus]),
		VerificationCode: fields[fieldVerificationCode],
		TweetURL:         fields[fieldTweetURL],
		WebhookURL:       fields[fieldWebhookURL],
		CreatedAt:        createdAt,
		VerifiedAt:       verifiedAt,
		RevokedAt:        revokedAt,
		ExpiresAt:        expiresAt,
	}, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseOptionalMillis(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseMillis(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	"go.uber.org/zap"
)

// KEYS: record, wallet dashboard set
// ARGV: max, wallet, label, prefix, createdAt(ms), keyId
const createScript = `
if redis.call("SCARD", KEYS[2]) >= tonumber(ARGV[1]) then
  return 0
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  return -1
end
redis.call("HSET", KEYS[1],
  "walletAddress", ARGV[2],
  "label", ARGV[3],
  "keyPrefix", ARGV[4],
  "createdAt", ARGV[5],
  "requestCount", 0)
redis.call("SADD", KEYS[2], ARGV[6])
return 1
`

// KEYS: record, wallet dashboard set, wallet agent set
// ARGV: wallet, keyId
const revokeScript = `
if redis.call("HGET", KEYS[1], "walletAddress") ~= ARGV[1] then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "claimId") == 1 then
  return -1
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
redis.call("SREM", KEYS[3], ARGV[2])
return 1
`

// A revoked record must not be recreated by a late touch.
const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "lastUsedAt", ARGV[1])
redis.call("HINCRBY", KEYS[1], "requestCount", 1)
return 1
`

type repo struct {
	client *redis.Client
	log    *zap.Logger

	create *redis.Script
	revoke *redis.Script
	touch  *redis.Script
}

func Provide(client *redis.Client, log *zap.Logger) apikeydomain.Repository {
	return &repo{
		client: client,
		log:    log.Named("apikey.repository"),
		create: redis.NewScript(createScript),
		revoke: redis.NewScript(revokeScript),
		touch:  redis.NewScript(touchScript),
	}
}

func (r *repo) Create(ctx context.Context, key *apikeydomain.Key, maxPerWallet int) (bool, error) {
	res, err := r.create.Run(ctx, r.client,
		[]string{
			apikeydomain.RecordKey(key.KeyID),
			apikeydomain.WalletKeysKey(key.WalletAddress),
		},
		maxPerWallet,
		key.WalletAddress,
		key.Label,
		key.KeyPrefix,
		key.CreatedAt.UnixMilli(),
		key.KeyID,
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
		return false, fmt.Errorf("api key %s already exists", key.KeyPrefix)
	}
}

func (r *repo) List(ctx context.Context, wallet string) ([]apikeydomain.Key, error) {
	ids, err := r.client.SUnion(ctx,
		apikeydomain.WalletKeysKey(wallet),
		apikeydomain.WalletAgentKeysKey(wallet),
	).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []apikeydomain.Key{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, apikeydomain.RecordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	keys := make([]apikeydomain.Key, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		key, err := decodeKey(ids[i], fields)
		if err != nil {
			r.log.Warn("skipping undecodable api key record", zap.String("key_prefix", fields[apikeydomain.FieldKeyPrefix]), zap.Error(err))
			continue
		}
		keys = append(keys, *key)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (r *repo) Revoke(ctx context.Context, keyID, wallet string) (bool, error) {
	res, err := r.revoke.Run(ctx, r.client,
		[]string{
			apikeydomain.RecordKey(keyID),
			apikeydomain.WalletKeysKey(wallet),
			apikeydomain.WalletAgentKeysKey(wallet),
		},
		wallet,
		keyID,
	).Int()
	if err != nil {
		return false, err
	}
	if res == -1 {
		return false, apikeydomain.ErrAgentKey
	}
	return res == 1, nil
}

func (r *repo) Get(ctx context.Context, keyID string) (*apikeydomain.Key, error) {
	fields, err := r.client.HGetAll(ctx, apikeydomain.RecordKey(keyID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeKey(keyID, fields)
}

func (r *repo) Touch(ctx context.Context, keyID string, at time.Time) error {
	return r.touch.Run(ctx, r.client,
		[]string{apikeydomain.RecordKey(keyID)},
		at.UnixMilli(),
	).Err()
}

func decodeKey(keyID string, fields map[string]string) (*apikeydomain.Key, error) {
	createdAt, err := parseMillis(fields[apikeydomain.FieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}

	key := &apikeydomain.Key{
		KeyID:         keyID,
		WalletAddress: fields[apikeydomain.FieldWalletAddress],
		Label:         fields[apikeydomain.FieldLabel],
		KeyPrefix:     fields[apikeydomain.FieldKeyPrefix],
		CreatedAt:     createdAt,
		ClaimID:       fields[apikeydomain.FieldClaimID],
		AgentName:     fields[apikeydomain.FieldAgentName],
	}

	if raw := fields[apikeydomain.FieldLastUsedAt]; raw != "" {
		lastUsed, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("lastUsedAt: %w", err)
		}
		key.LastUsedAt = &lastUsed
	}
	if raw := fields[apikeydomain.FieldRequestCount]; raw != "" {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("requestCount: %w", err)
		}
		key.RequestCount = count
	}
	return key, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

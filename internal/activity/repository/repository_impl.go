package repository

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	activitydomain "github.com/smallbiznis/agentgate/internal/activity/domain"
)

type repo struct {
	client *redis.Client
}

func Provide(client *redis.Client) activitydomain.Repository {
	return &repo{client: client}
}

// Append adds member and trims the set to its newest capacity entries in the
// same MULTI block.
func (r *repo) Append(ctx context.Context, key string, score int64, member []byte, capacity int64) error {
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
	pipe.ZRemRangeByRank(ctx, key, 0, -(capacity + 1))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *repo) Range(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	return r.client.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
}

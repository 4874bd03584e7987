package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agentgate/internal/config"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrUnknownScope = errors.New("unknown_rate_limit_scope")

type Params struct {
	fx.In

	Redis    *redis.Client
	Policies *config.RateLimitHolder
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Limiter checks named scopes of the rate limit catalogue. The scope cache is
// process-local; counters live only in Redis.
type Limiter struct {
	client   *redis.Client
	policies *config.RateLimitHolder
	log      *zap.Logger
	metrics  *obsmetrics.Metrics

	mu     sync.Mutex
	scopes map[string]*scopeLimiter
}

type scopeLimiter struct {
	scope  string
	window *SlidingWindow
}

func New(p Params) *Limiter {
	return &Limiter{
		client:   p.Redis,
		policies: p.Policies,
		log:      p.Log.Named("ratelimit"),
		metrics:  p.Metrics,
		scopes:   make(map[string]*scopeLimiter),
	}
}

// Check counts one request for identifier under scope. A denial is a normal
// result, not an error.
func (l *Limiter) Check(ctx context.Context, scope, identifier string) (Result, error) {
	policy, ok := l.policies.Get(scope)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return Result{}, errors.New("rate limiter identifier is empty")
	}

	limiter := l.forScope(scope)
	res, err := limiter.window.Allow(ctx, policy.Prefix+":"+identifier, policy.Limit, policy.Window)
	if err != nil {
		return Result{}, err
	}

	if res.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, scope)
	} else {
		l.metrics.RecordRateLimitDenied(ctx, scope)
		l.log.Debug("rate limit exceeded",
			zap.String("scope", scope),
			zap.Int("retry_after_seconds", res.RetryAfterSeconds()),
		)
	}
	return res, nil
}

func (l *Limiter) forScope(scope string) *scopeLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.scopes[scope]; ok {
		return existing
	}
	created := &scopeLimiter{scope: scope, window: NewSlidingWindow(l.client)}
	l.scopes[scope] = created
	return created
}

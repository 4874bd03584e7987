package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RateLimitPolicy is the sliding-window budget for a single scope.
type RateLimitPolicy struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Prefix string        `mapstructure:"prefix"`
}

// Scope names of the rate limit catalogue.
const (
	ScopeAPIKey             = "apikey"
	ScopeRegistrationIP     = "registration_ip"
	ScopeRegistrationWallet = "registration_wallet"
	ScopeVerifyIP           = "verify_ip"
	ScopeVerifyClaim        = "verify_claim"
	ScopeKeygenWallet       = "keygen_wallet"
	ScopeFeed               = "feed"
	ScopeStats              = "stats"
)

func DefaultRateLimitPolicies() map[string]RateLimitPolicy {
	return map[string]RateLimitPolicy{
		ScopeAPIKey:             {Limit: 100, Window: time.Minute, Prefix: "rl:apikey"},
		ScopeRegistrationIP:     {Limit: 10, Window: time.Hour, Prefix: "rl:reg:ip"},
		ScopeRegistrationWallet: {Limit: 5, Window: time.Hour, Prefix: "rl:reg:wallet"},
		ScopeVerifyIP:           {Limit: 20, Window: time.Hour, Prefix: "rl:verify:ip"},
		ScopeVerifyClaim:        {Limit: 20, Window: time.Hour, Prefix: "rl:verify:claim"},
		ScopeKeygenWallet:       {Limit: 10, Window: time.Hour, Prefix: "rl:keygen:wallet"},
		ScopeFeed:               {Limit: 60, Window: time.Minute, Prefix: "rl:feed"},
		ScopeStats:              {Limit: 30, Window: time.Minute, Prefix: "rl:stats"},
	}
}

// RateLimitHolder serves the current policy catalogue. File overrides are
// hot reloaded; a rejected reload keeps the previous catalogue.
type RateLimitHolder struct {
	current atomic.Value // holds map[string]RateLimitPolicy
}

// NewStaticRateLimitHolder returns a holder that never reloads.
func NewStaticRateLimitHolder(policies map[string]RateLimitPolicy) *RateLimitHolder {
	holder := &RateLimitHolder{}
	holder.current.Store(policies)
	return holder
}

func NewRateLimitHolder(cfg Config, log *zap.Logger) (*RateLimitHolder, error) {
	log = log.Named("config.ratelimit")

	v := viper.New()
	if cfg.RateLimitConfigPath != "" {
		v.SetConfigFile(cfg.RateLimitConfigPath)
	} else {
		v.SetConfigName("ratelimit")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/agentgate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Info("no rate limit config file, using defaults")
			return NewStaticRateLimitHolder(DefaultRateLimitPolicies()), nil
		}
		return nil, err
	}

	policies, err := decodeRateLimitPolicies(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRateLimitHolder(policies)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRateLimitPolicies(v)
		if err != nil {
			log.Warn("rate limit config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rate limit config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Get returns the policy for scope.
func (h *RateLimitHolder) Get(scope string) (RateLimitPolicy, bool) {
	policies, _ := h.current.Load().(map[string]RateLimitPolicy)
	policy, ok := policies[scope]
	return policy, ok
}

func decodeRateLimitPolicies(v *viper.Viper) (map[string]RateLimitPolicy, error) {
	overrides := map[string]RateLimitPolicy{}
	if err := v.UnmarshalKey("ratelimit", &overrides); err != nil {
		return nil, err
	}

	merged := DefaultRateLimitPolicies()
	for scope, override := range overrides {
		scope = strings.ToLower(strings.TrimSpace(scope))
		base := merged[scope]
		if override.Limit != 0 {
			base.Limit = override.Limit
		}
		if override.Window != 0 {
			base.Window = override.Window
		}
		if strings.TrimSpace(override.Prefix) != "" {
			base.Prefix = strings.TrimSpace(override.Prefix)
		}
		if base.Prefix == "" {
			base.Prefix = "rl:" + scope
		}
		merged[scope] = base
	}

	if err := validateRateLimitPolicies(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func validateRateLimitPolicies(policies map[string]RateLimitPolicy) error {
	for scope, policy := range policies {
		if policy.Limit <= 0 {
			return fmt.Errorf("ratelimit.%s.limit must be positive", scope)
		}
		if policy.Window < time.Second {
			return fmt.Errorf("ratelimit.%s.window must be at least 1s", scope)
		}
	}
	return nil
}

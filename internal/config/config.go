package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// PublicBaseURL is used to build claim page links handed back to agents.
	PublicBaseURL string

	// DashboardName is the "<App>" part of the signed dashboard message.
	DashboardName string

	OTLPEndpoint string

	// SnowflakeNodeID must be unique per running instance.
	SnowflakeNodeID int64

	Redis        RedisConfig
	Registration RegistrationConfig
	Keys         KeysConfig
	Webhook      WebhookConfig
	SocialProof  SocialProofConfig

	// RateLimitConfigPath points at an optional ratelimit.yml override.
	RateLimitConfigPath string

	MaxRequestBodyBytes int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RegistrationConfig struct {
	ClaimTTL         time.Duration
	VerifyLockTTL    time.Duration
	SignatureMaxAge  time.Duration
	ReplayProtection bool
}

type KeysConfig struct {
	MaxPerWallet int
}

type WebhookConfig struct {
	Timeout      time.Duration
	MaxURLLength int
}

type SocialProofConfig struct {
	OEmbedEndpoint string
	Timeout        time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "agentgate"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DashboardName: getenv("DASHBOARD_NAME", "AgentGate"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Registration: RegistrationConfig{
			ClaimTTL:         getenvDuration("REGISTRATION_CLAIM_TTL", 24*time.Hour),
			VerifyLockTTL:    getenvDuration("REGISTRATION_VERIFY_LOCK_TTL", 30*time.Second),
			SignatureMaxAge:  getenvDuration("WALLET_SIGNATURE_MAX_AGE", 5*time.Minute),
			ReplayProtection: getenvBool("WALLET_REPLAY_PROTECTION", true),
		},
		Keys: KeysConfig{
			MaxPerWallet: getenvInt("MAX_KEYS_PER_WALLET", 20),
		},
		Webhook: WebhookConfig{
			Timeout:      getenvDuration("WEBHOOK_TIMEOUT", 5*time.Second),
			MaxURLLength: getenvInt("WEBHOOK_MAX_URL_LENGTH", 512),
		},
		SocialProof: SocialProofConfig{
			OEmbedEndpoint: getenv("SOCIAL_PROOF_OEMBED_ENDPOINT", "https://publish.twitter.com/oembed"),
			Timeout:        getenvDuration("SOCIAL_PROOF_TIMEOUT", 10*time.Second),
		},
		RateLimitConfigPath: strings.TrimSpace(getenv("RATE_LIMIT_CONFIG_PATH", "")),
		MaxRequestBodyBytes: int64(getenvInt("MAX_REQUEST_BODY_BYTES", 16<<10)),
		SnowflakeNodeID:     int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

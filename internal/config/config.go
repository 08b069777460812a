// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	LogLevel  string
	LogFormat string

	TwitterClientID     string
	TwitterClientSecret string
	TwitterTokenURL     string

	TokenRefreshThreshold time.Duration
	TokenSweepEnabled     bool
	TokenSweepInterval    time.Duration

	OutboundTimeout    time.Duration
	PublishConcurrency int
	RateLimits         map[string]publish.RateLimitConfig

	OpenAIKey      string
	OpenAIBaseURL  string
	GoogleAIKey    string
	AnthropicKey   string
	AIDefaultModel string

	JWTSecret        string
	InternalWSSecret string

	MetricsEnabled         bool
	ScheduledPostsEnabled  bool
	ScheduledPostsInterval time.Duration
	MigrationsPath         string
}

var defaults = map[string]any{
	"PORT":                     "18911",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "text",
	"TWITTER_TOKEN_URL":        "https://api.twitter.com/2/oauth2/token",
	"TOKEN_REFRESH_THRESHOLD":  "10m",
	"TOKEN_SWEEP_ENABLED":      true,
	"TOKEN_SWEEP_INTERVAL":     "5m",
	"OUTBOUND_TIMEOUT":         "20s",
	"PUBLISH_CONCURRENCY":      4,
	"AI_DEFAULT_MODEL":         "gpt-4o-mini",
	"METRICS_ENABLED":          true,
	"SCHEDULED_POSTS_ENABLED":  false,
	"SCHEDULED_POSTS_INTERVAL": "60s",
	"MIGRATIONS_PATH":          "file://db/migrations",
}

var envKeys = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "LOG_FORMAT",
	"TWITTER_CLIENT_ID", "TWITTER_CLIENT_SECRET", "TWITTER_TOKEN_URL",
	"TOKEN_REFRESH_THRESHOLD", "TOKEN_SWEEP_ENABLED", "TOKEN_SWEEP_INTERVAL",
	"OUTBOUND_TIMEOUT", "PUBLISH_CONCURRENCY",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "GOOGLE_AI_API_KEY", "ANTHROPIC_API_KEY", "AI_DEFAULT_MODEL",
	"SUPABASE_JWT_SECRET", "INTERNAL_WS_SECRET",
	"METRICS_ENABLED", "SCHEDULED_POSTS_ENABLED", "SCHEDULED_POSTS_INTERVAL", "MIGRATIONS_PATH",
}

// New returns a viper instance holding the defaults overlaid with every non-empty value getenv reports.
func New(getenv func(string) string) *viper.Viper {
	if getenv == nil {
		getenv = os.Getenv
	}
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range envKeys {
		if val := strings.TrimSpace(getenv(k)); val != "" {
			v.Set(k, val)
		}
	}
	return v
}

// Load reads settings through getenv (os.Getenv when nil). DATABASE_URL is the only required key.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	return fromViper(New(getenv), getenv)
}

func fromViper(v *viper.Viper, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:                strings.TrimSpace(v.GetString("PORT")),
		DatabaseURL:         strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisURL:            strings.TrimSpace(v.GetString("REDIS_URL")),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		TwitterClientID:     v.GetString("TWITTER_CLIENT_ID"),
		TwitterClientSecret: v.GetString("TWITTER_CLIENT_SECRET"),
		TwitterTokenURL:     v.GetString("TWITTER_TOKEN_URL"),
		TokenSweepEnabled:   v.GetBool("TOKEN_SWEEP_ENABLED"),
		OpenAIKey:           v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:       v.GetString("OPENAI_BASE_URL"),
		GoogleAIKey:         v.GetString("GOOGLE_AI_API_KEY"),
		AnthropicKey:        v.GetString("ANTHROPIC_API_KEY"),
		AIDefaultModel:      v.GetString("AI_DEFAULT_MODEL"),
		JWTSecret:           v.GetString("SUPABASE_JWT_SECRET"),
		InternalWSSecret:    v.GetString("INTERNAL_WS_SECRET"),
		MetricsEnabled:      v.GetBool("METRICS_ENABLED"),
		MigrationsPath:      v.GetString("MIGRATIONS_PATH"),
		RateLimits:          publish.RateLimitsFromEnv(getenv),
	}
	cfg.ScheduledPostsEnabled = v.GetBool("SCHEDULED_POSTS_ENABLED")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if cfg.Port == "" {
		cfg.Port = "18911"
	}

	var err error
	if cfg.TokenRefreshThreshold, err = Duration(v, "TOKEN_REFRESH_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.TokenSweepInterval, err = Duration(v, "TOKEN_SWEEP_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.OutboundTimeout, err = Duration(v, "OUTBOUND_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.ScheduledPostsInterval, err = Duration(v, "SCHEDULED_POSTS_INTERVAL"); err != nil {
		return nil, err
	}

	cfg.PublishConcurrency = v.GetInt("PUBLISH_CONCURRENCY")
	if cfg.PublishConcurrency <= 0 {
		cfg.PublishConcurrency = 4
	}
	return cfg, nil
}

// Duration accepts Go duration strings ("90s", "5m") or a bare integer number of seconds.
// Zero or negative values fall back to the key's default.
func Duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := parseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		def, _ := defaults[key].(string)
		if d, err = parseDuration(def); err != nil || d <= 0 {
			return 0, fmt.Errorf("%s must be positive", key)
		}
	}
	return d, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	_, err := Load(envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"DATABASE_URL": "postgres://localhost/social"}))
	require.NoError(t, err)
	assert.Equal(t, "18911", cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.TokenRefreshThreshold)
	assert.Equal(t, 5*time.Minute, cfg.TokenSweepInterval)
	assert.Equal(t, 20*time.Second, cfg.OutboundTimeout)
	assert.Equal(t, 60*time.Second, cfg.ScheduledPostsInterval)
	assert.Equal(t, 4, cfg.PublishConcurrency)
	assert.True(t, cfg.TokenSweepEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.ScheduledPostsEnabled)
	assert.Equal(t, "https://api.twitter.com/2/oauth2/token", cfg.TwitterTokenURL)
	assert.Equal(t, "file://db/migrations", cfg.MigrationsPath)
	assert.Contains(t, cfg.RateLimits, "twitter")
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"DATABASE_URL":              "postgres://localhost/social",
		"PORT":                      "9000",
		"TOKEN_REFRESH_THRESHOLD":   "300",
		"SCHEDULED_POSTS_INTERVAL":  "90s",
		"SCHEDULED_POSTS_ENABLED":   "true",
		"TOKEN_SWEEP_ENABLED":       "false",
		"PUBLISH_CONCURRENCY":       "-2",
		"PUBLISH_TWITTER_DAILY_MAX": "300",
		"SUPABASE_JWT_SECRET":       "shh",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.TokenRefreshThreshold)
	assert.Equal(t, 90*time.Second, cfg.ScheduledPostsInterval)
	assert.True(t, cfg.ScheduledPostsEnabled)
	assert.False(t, cfg.TokenSweepEnabled)
	assert.Equal(t, 4, cfg.PublishConcurrency)
	assert.Equal(t, int64(300), cfg.RateLimits["twitter"].DailyRequestsMax)
	assert.Equal(t, "shh", cfg.JWTSecret)
}

func TestDuration(t *testing.T) {
	d, err := Duration(New(envMap(map[string]string{"TOKEN_SWEEP_INTERVAL": "0"})), "TOKEN_SWEEP_INTERVAL")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d, "non-positive falls back to default")

	_, err = Duration(New(envMap(map[string]string{"TOKEN_SWEEP_INTERVAL": "soon"})), "TOKEN_SWEEP_INTERVAL")
	assert.Error(t, err)

	_, err = Load(envMap(map[string]string{"DATABASE_URL": "x", "OUTBOUND_TIMEOUT": "fast"}))
	assert.Error(t, err)
}

package publish

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	DailyRequestsMax  int64 // 0 means unlimited
}

func DefaultRateLimits() map[string]RateLimitConfig {
	// Conservative defaults; override via env per platform to match each network's posting policy.
	return map[string]RateLimitConfig{
		"facebook":  {RequestsPerSecond: 1, Burst: 2},
		"instagram": {RequestsPerSecond: 1, Burst: 2},
		"twitter":   {RequestsPerSecond: 1, Burst: 1},
		"linkedin":  {RequestsPerSecond: 1, Burst: 2},
		"reddit":    {RequestsPerSecond: 1, Burst: 1},
	}
}

// RateLimitsFromEnv overlays PUBLISH_<PLATFORM>_RPS, _BURST and _DAILY_MAX on the defaults.
//
//	PUBLISH_TWITTER_RPS=0.5
//	PUBLISH_TWITTER_BURST=2
//	PUBLISH_TWITTER_DAILY_MAX=300
func RateLimitsFromEnv(getenv func(string) string) map[string]RateLimitConfig {
	out := DefaultRateLimits()
	for name, def := range out {
		prefix := "PUBLISH_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		if v := getenv(prefix + "RPS"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				def.RequestsPerSecond = f
			}
		}
		if v := getenv(prefix + "BURST"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				def.Burst = n
			}
		}
		if v := getenv(prefix + "DAILY_MAX"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				def.DailyRequestsMax = n
			}
		}
		out[name] = def
	}
	return out
}

// QuotaStore counts provider requests per UTC day.
type QuotaStore interface {
	ConsumeRequests(ctx context.Context, provider string, add int64, dailyMax int64) (ok bool, used int64, err error)
}

// QuotaExceededError means the platform's daily request budget is spent.
type QuotaExceededError struct {
	Platform string
	Used     int64
	Max      int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s quota exceeded (%d/%d requests); try again tomorrow", e.Platform, e.Used, e.Max)
}

type pacer struct {
	mu       sync.Mutex
	limits   map[string]RateLimitConfig
	limiters map[string]*rate.Limiter
	quota    QuotaStore
}

func newPacer(limits map[string]RateLimitConfig, quota QuotaStore) *pacer {
	return &pacer{limits: limits, limiters: map[string]*rate.Limiter{}, quota: quota}
}

func (p *pacer) limiter(platform string) (*rate.Limiter, RateLimitConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.limits[platform]
	if !ok || cfg.RequestsPerSecond <= 0 {
		return nil, cfg
	}
	lim, ok := p.limiters[platform]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		p.limiters[platform] = lim
	}
	return lim, cfg
}

// wait blocks until the platform's limiter admits one request and the daily quota allows it.
func (p *pacer) wait(ctx context.Context, platform string) error {
	lim, cfg := p.limiter(platform)
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if p.quota == nil || cfg.DailyRequestsMax <= 0 {
		return nil
	}
	ok, used, err := p.quota.ConsumeRequests(ctx, platform, 1, cfg.DailyRequestsMax)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if !ok {
		return &QuotaExceededError{Platform: platform, Used: used, Max: cfg.DailyRequestsMax}
	}
	return nil
}

package workers

import (
	"context"
	"time"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/sirupsen/logrus"
)

type ExpiringConnectionStore interface {
	ListExpiringConnections(ctx context.Context, provider string, before time.Time, limit int) ([]*models.SocialConnection, error)
}

// TokenRefresher is the subset of tokens.Manager the sweeper drives.
type TokenRefresher interface {
	Providers() []string
	Threshold() time.Duration
	EnsureValid(ctx context.Context, cred *credentials.Credential) (string, error)
}

// TokenRefreshSweeper refreshes tokens that are about to expire before a publish needs them.
type TokenRefreshSweeper struct {
	Store     ExpiringConnectionStore
	Tokens    TokenRefresher
	Interval  time.Duration // default: 5m
	BatchSize int           // per provider and sweep, default: 100
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Checked   int
	Refreshed int
	Failed    int
}

// Start runs a sweep immediately and then on every tick until ctx is done.
func (w *TokenRefreshSweeper) Start(ctx context.Context) {
	w.defaults()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Logger.WithFields(logrus.Fields{"interval": w.Interval.String(), "batch": w.BatchSize}).Info("[TokenSweeper] started")
	w.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("[TokenSweeper] stopped")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce refreshes every connection whose token expires within the manager's threshold.
func (w *TokenRefreshSweeper) SweepOnce(ctx context.Context) SweepResult {
	w.defaults()
	var res SweepResult
	if w.Store == nil || w.Tokens == nil {
		return res
	}
	cutoff := w.Now().Add(w.Tokens.Threshold())
	for _, provider := range w.Tokens.Providers() {
		if ctx.Err() != nil {
			return res
		}
		log := w.Logger.WithField("provider", provider)
		conns, err := w.Store.ListExpiringConnections(ctx, provider, cutoff, w.BatchSize)
		if err != nil {
			log.WithError(err).Error("[TokenSweeper] list expiring connections failed")
			continue
		}
		for _, conn := range conns {
			res.Checked++
			cred, err := credentials.FromConnection(conn)
			if err != nil {
				log.WithError(err).WithField("connection_id", conn.ID).Debug("[TokenSweeper] skipped")
				continue
			}
			if _, err := w.Tokens.EnsureValid(ctx, cred); err != nil {
				res.Failed++
				log.WithError(err).WithField("connection_id", conn.ID).Warn("[TokenSweeper] refresh failed")
				continue
			}
			res.Refreshed++
		}
	}
	if res.Checked > 0 {
		w.Logger.WithFields(logrus.Fields{
			"checked":   res.Checked,
			"refreshed": res.Refreshed,
			"failed":    res.Failed,
		}).Info("[TokenSweeper] sweep done")
	}
	return res
}

func (w *TokenRefreshSweeper) defaults() {
	if w.Interval <= 0 {
		w.Interval = 5 * time.Minute
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 100
	}
	if w.Logger == nil {
		w.Logger = logrus.StandardLogger()
	}
	if w.Now == nil {
		w.Now = time.Now
	}
}

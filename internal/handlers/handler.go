// Package handlers exposes the publish orchestrator, API tester and content generation over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/PortNumber53/social-publisher/internal/ai"
	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/metrics"
	"github.com/PortNumber53/social-publisher/internal/middleware"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the handlers read campaigns and brands from and record posts into.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	GetBrand(ctx context.Context, id string) (*models.Brand, error)
	GetBrandForUser(ctx context.Context, userID string) (*models.Brand, error)
	ListPublishTargets(ctx context.Context, userID string, platforms []string) ([]models.PublishTarget, error)
	InsertPost(ctx context.Context, p *models.Post) error
}

type CredentialResolver interface {
	Resolve(ctx context.Context, platform string, t credentials.Target) (*credentials.Credential, error)
}

// Deps wires the handler to its collaborators. Nil fields disable the endpoints that need them.
type Deps struct {
	Store            Store
	Orchestrator     *publish.Orchestrator
	Resolver         CredentialResolver
	Refresher        publish.Refresher
	Generator        ai.Generator
	Verifier         middleware.TokenVerifier
	Logger           logrus.FieldLogger
	Metrics          metrics.Recorder
	MetricsHandler   http.Handler
	InternalWSSecret string
	Now              func() time.Time
}

type Handler struct {
	store        Store
	orchestrator *publish.Orchestrator
	resolver     CredentialResolver
	refresher    publish.Refresher
	generator    ai.Generator
	verifier     middleware.TokenVerifier
	logger       logrus.FieldLogger
	metrics      metrics.Recorder
	metricsHTTP  http.Handler
	wsSecret     string
	now          func() time.Time
	rt           *realtimeHub
}

func New(d Deps) *Handler {
	h := &Handler{
		store:        d.Store,
		orchestrator: d.Orchestrator,
		resolver:     d.Resolver,
		refresher:    d.Refresher,
		generator:    d.Generator,
		verifier:     d.Verifier,
		logger:       d.Logger,
		metrics:      d.Metrics,
		metricsHTTP:  d.MetricsHandler,
		wsSecret:     d.InternalWSSecret,
		now:          d.Now,
		rt:           newRealtimeHub(),
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.metrics == nil {
		h.metrics = metrics.NewNoop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Package tokens keeps OAuth2 connection tokens usable by refreshing them before they expire.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/metrics"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/store"
	"github.com/PortNumber53/social-publisher/internal/textutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultThreshold = 10 * time.Minute
	TwitterTokenURL  = "https://api.twitter.com/2/oauth2/token"

	defaultLeaseTTL  = 30 * time.Second
	defaultPeerPoll  = 250 * time.Millisecond
	maxErrorBodySize = 500
)

type Store interface {
	GetConnection(ctx context.Context, id string) (*models.SocialConnection, error)
	UpdateConnectionTokens(ctx context.Context, id string, u store.TokenUpdate) (bool, error)
}

// ProviderConfig holds the OAuth2 client used for a provider's refresh grant.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

type Manager struct {
	store     Store
	configs   map[string]*oauth2.Config
	managed   map[string]bool
	threshold time.Duration
	client    *http.Client
	locker    Locker
	leaseTTL  time.Duration
	peerPoll  time.Duration
	logger    logrus.FieldLogger
	metrics   metrics.Recorder
	now       func() time.Time

	group singleflight.Group
}

type Option func(*Manager)

func WithProvider(name string, pc ProviderConfig) Option {
	return func(m *Manager) {
		tokenURL := pc.TokenURL
		if tokenURL == "" && strings.EqualFold(name, models.ProviderTwitter) {
			tokenURL = TwitterTokenURL
		}
		m.configs[strings.ToLower(name)] = &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
	}
}

// WithManagedProviders marks providers whose access tokens expire and must be
// checked before use, whether or not a refresh client is configured for them.
func WithManagedProviders(names ...string) Option {
	return func(m *Manager) {
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				m.managed[n] = true
			}
		}
	}
}

func WithThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.threshold = d
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

// WithLocker enables the cross-instance refresh lease.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = l
		if ttl > 0 {
			m.leaseTTL = ttl
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		configs:   map[string]*oauth2.Config{},
		managed:   map[string]bool{models.ProviderTwitter: true},
		threshold: DefaultThreshold,
		client:    &http.Client{Timeout: 20 * time.Second},
		leaseTTL:  defaultLeaseTTL,
		peerPoll:  defaultPeerPoll,
		logger:    logrus.StandardLogger(),
		metrics:   metrics.NewNoop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Supports reports whether the provider's connection tokens expire and go
// through EnsureValid before use.
func (m *Manager) Supports(provider string) bool {
	p := strings.ToLower(provider)
	if m.managed[p] {
		return true
	}
	_, ok := m.configs[p]
	return ok
}

// Providers lists providers with a refresh grant configured.
func (m *Manager) Providers() []string {
	out := make([]string, 0, len(m.configs))
	for p := range m.configs {
		out = append(out, p)
	}
	return out
}

func (m *Manager) Threshold() time.Duration { return m.threshold }

// NeedsRefresh is true when expiresAt falls within the threshold of now.
// A nil expiry means the provider never reported one; the token is used as-is.
func (m *Manager) NeedsRefresh(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !m.now().Add(m.threshold).Before(*expiresAt)
}

type refreshed struct {
	accessToken  string
	refreshToken string
	expiresAt    *time.Time
}

// EnsureValid returns a usable access token for cred, refreshing it first when it
// is within the threshold of expiry. On success cred is updated in place.
func (m *Manager) EnsureValid(ctx context.Context, cred *credentials.Credential) (string, error) {
	if cred == nil {
		return "", errors.New("nil credential")
	}
	if cred.Kind != credentials.KindConnection || !m.Supports(cred.Platform) {
		return cred.AccessToken, nil
	}
	if !m.NeedsRefresh(cred.ExpiresAt) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		m.metrics.RecordTokenRefresh(cred.Platform, "unavailable")
		return "", &RefreshUnavailableError{Provider: cred.Platform, ConnectionID: cred.ConnectionID, Reason: ReasonNoRefreshToken}
	}
	if _, ok := m.configs[strings.ToLower(cred.Platform)]; !ok {
		m.metrics.RecordTokenRefresh(cred.Platform, "unavailable")
		return "", &RefreshUnavailableError{Provider: cred.Platform, ConnectionID: cred.ConnectionID, Reason: ReasonNoClient}
	}

	// The shared refresh outlives any single caller's cancellation.
	snapshot := *cred
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(cred.ConnectionID, func() (any, error) {
		rctx, cancel := context.WithTimeout(shared, m.refreshTimeout())
		defer cancel()
		return m.refresh(rctx, &snapshot)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", &RefreshFailedError{Provider: cred.Platform, ConnectionID: cred.ConnectionID, Err: ctx.Err()}
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}
	r := res.Val.(*refreshed)
	if res.Shared {
		m.logger.WithFields(logrus.Fields{"provider": cred.Platform, "connection_id": cred.ConnectionID}).
			Debug("[TokenRefresh] joined in-flight refresh")
	}
	cred.AccessToken = r.accessToken
	cred.RefreshToken = r.refreshToken
	cred.ExpiresAt = r.expiresAt
	return r.accessToken, nil
}

func (m *Manager) refreshTimeout() time.Duration {
	d := m.client.Timeout
	if d <= 0 {
		d = 20 * time.Second
	}
	if m.locker != nil {
		d += m.leaseTTL
	}
	return d
}

func (m *Manager) refresh(ctx context.Context, cred *credentials.Credential) (*refreshed, error) {
	log := m.logger.WithFields(logrus.Fields{"provider": cred.Platform, "connection_id": cred.ConnectionID})

	if m.locker != nil {
		release, ok, err := m.locker.TryLock(ctx, "token-refresh:"+cred.ConnectionID, m.leaseTTL)
		switch {
		case err != nil:
			log.WithError(err).Warn("[TokenRefresh] lease unavailable, refreshing without it")
		case !ok:
			log.Info("[TokenRefresh] refresh in progress elsewhere, waiting for it")
			return m.awaitPeer(ctx, cred)
		default:
			defer release()
		}
	}

	conf := m.configs[strings.ToLower(cred.Platform)]
	hctx := context.WithValue(ctx, oauth2.HTTPClient, m.client)
	start := m.now()
	tok, err := conf.TokenSource(hctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		m.metrics.RecordTokenRefresh(cred.Platform, "failed")
		rf := &RefreshFailedError{Provider: cred.Platform, ConnectionID: cred.ConnectionID, Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.Response != nil {
				rf.StatusCode = re.Response.StatusCode
			}
			rf.Body = textutil.Truncate(strings.TrimSpace(string(re.Body)), maxErrorBodySize)
		}
		log.WithFields(logrus.Fields{"status": rf.StatusCode}).WithError(err).Warn("[TokenRefresh] refresh grant failed")
		return nil, rf
	}

	out := &refreshed{accessToken: tok.AccessToken, refreshToken: cred.RefreshToken}
	var rotated *string
	if tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken {
		rt := tok.RefreshToken
		rotated = &rt
		out.refreshToken = rt
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.expiresAt = &exp
	}

	applied, perr := m.store.UpdateConnectionTokens(ctx, cred.ConnectionID, store.TokenUpdate{
		AccessToken:   out.accessToken,
		RefreshToken:  rotated,
		ExpiresAt:     out.expiresAt,
		PrevExpiresAt: cred.ExpiresAt,
	})
	switch {
	case perr != nil:
		log.WithError(perr).Error("[TokenRefresh] refreshed token could not be persisted")
	case !applied:
		log.Warn("[TokenRefresh] stored token changed during refresh, update skipped")
	}
	m.metrics.RecordTokenRefresh(cred.Platform, "refreshed")
	log.WithFields(logrus.Fields{"rotated": rotated != nil, "duration": m.now().Sub(start).String()}).
		Info("[TokenRefresh] token refreshed")
	return out, nil
}

// awaitPeer polls storage until another holder's refresh lands or the lease expires.
func (m *Manager) awaitPeer(ctx context.Context, cred *credentials.Credential) (*refreshed, error) {
	deadline := time.NewTimer(m.leaseTTL)
	defer deadline.Stop()
	ticker := time.NewTicker(m.peerPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, &RefreshFailedError{Provider: cred.Platform, ConnectionID: cred.ConnectionID, Err: ctx.Err()}
		case <-deadline.C:
			m.metrics.RecordTokenRefresh(cred.Platform, "failed")
			return nil, &RefreshFailedError{
				Provider:     cred.Platform,
				ConnectionID: cred.ConnectionID,
				Err:          fmt.Errorf("timed out after %s waiting for concurrent refresh", m.leaseTTL),
			}
		case <-ticker.C:
			conn, err := m.store.GetConnection(ctx, cred.ConnectionID)
			if err != nil {
				continue
			}
			tok := models.Deref(conn.OAuthUserToken)
			if tok == "" || tok == cred.AccessToken || m.NeedsRefresh(conn.TokenExpiresAt) {
				continue
			}
			m.metrics.RecordTokenRefresh(cred.Platform, "peer")
			return &refreshed{
				accessToken:  tok,
				refreshToken: models.Deref(conn.OAuthRefreshToken),
				expiresAt:    conn.TokenExpiresAt,
			}, nil
		}
	}
}

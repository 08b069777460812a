package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/social-publisher/internal/auth"
	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/platforms"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store/storetest"
	"github.com/PortNumber53/social-publisher/internal/tokens"
	"github.com/gorilla/mux"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

type stubTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (t stubTransport) RoundTrip(r *http.Request) (*http.Response, error) { return t.fn(r) }

func httpJSON(status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

// providerNet answers outbound provider calls and remembers their URLs.
type providerNet struct {
	mu      sync.Mutex
	urls    []string
	respond func(r *http.Request) *http.Response
}

func (n *providerNet) client() *http.Client {
	return &http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		n.mu.Lock()
		n.urls = append(n.urls, r.URL.String())
		n.mu.Unlock()
		return n.respond(r), nil
	}}}
}

func (n *providerNet) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

func defaultProviders(r *http.Request) *http.Response {
	u := r.URL.String()
	switch {
	case u == tokens.TwitterTokenURL:
		return httpJSON(200, `{"access_token":"newtok","expires_in":3600,"token_type":"bearer"}`)
	case r.Method == http.MethodPost && strings.HasPrefix(u, platforms.TwitterBaseURL+"/tweets"):
		return httpJSON(201, `{"data":{"id":"t1","text":"hello"}}`)
	case strings.HasPrefix(u, platforms.TwitterBaseURL+"/users/"):
		return httpJSON(200, `{"data":[{"id":"1"},{"id":"2"}]}`)
	case strings.HasPrefix(u, platforms.GraphBaseURL):
		return httpJSON(200, `{"id":"pg1_1"}`)
	}
	return httpJSON(404, `{}`)
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	models  []string
	reply   func(prompt string) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, model, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.models = append(g.models, model)
	g.mu.Unlock()
	return g.reply(prompt)
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fixture struct {
	t      *testing.T
	mem    *storetest.Memory
	net    *providerNet
	gen    *fakeGenerator
	h      *Handler
	router *mux.Router
	hook   *logtest.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := storetest.NewMemory()
	net := &providerNet{respond: defaultProviders}
	client := net.client()
	logger, hook := logtest.NewNullLogger()

	reg := platforms.Default(client)
	resolver := credentials.NewResolver(mem, reg.Policies())
	mgr := tokens.NewManager(mem,
		tokens.WithProvider(models.ProviderTwitter, tokens.ProviderConfig{ClientID: "cid", ClientSecret: "secret"}),
		tokens.WithHTTPClient(client),
		tokens.WithLogger(logger),
	)
	gen := &fakeGenerator{reply: func(string) (string, error) { return "Generated post", nil }}
	h := New(Deps{
		Store:        mem,
		Orchestrator: publish.New(reg, resolver, mgr, publish.WithLogger(logger)),
		Resolver:     resolver,
		Refresher:    mgr,
		Generator:    gen,
		Verifier:     auth.NewVerifier(testSecret),
		Logger:       logger,
		Now:          func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) },
	})
	r := mux.NewRouter()
	RegisterRoutes(h, r)
	return &fixture{t: t, mem: mem, net: net, gen: gen, h: h, router: r, hook: hook}
}

func (f *fixture) token(userID string) string {
	f.t.Helper()
	tok, err := auth.NewVerifier(testSecret).Sign(userID, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (f *fixture) twitterConnection(id, userID string) {
	f.mem.PutConnection(models.SocialConnection{
		ID:             id,
		UserID:         userID,
		Provider:       models.ProviderTwitter,
		AccountID:      "tw-" + userID,
		OAuthUserToken: models.Str("tok-" + id),
	})
}

func (f *fixture) facebookPage(connID, userID, pageID, name string) {
	f.mem.PutConnection(models.SocialConnection{
		ID:             connID,
		UserID:         userID,
		Provider:       "facebook",
		AccountID:      "fb-" + userID,
		OAuthUserToken: models.Str("user-token"),
	})
	f.mem.PutPage(models.SocialPage{
		ID:              "row-" + pageID,
		ConnectionID:    connID,
		UserID:          userID,
		Provider:        "facebook",
		PageID:          pageID,
		PageName:        models.Str(name),
		PageAccessToken: models.Str("page-token"),
	})
}

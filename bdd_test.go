package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/social-publisher/internal/auth"
	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/handlers"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/platforms"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store/storetest"
	"github.com/PortNumber53/social-publisher/internal/tokens"
	"github.com/cucumber/godog"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const bddJWTSecret = "bdd-secret"

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type bddTestContext struct {
	mem          *storetest.Memory
	server       *httptest.Server
	lastResponse *http.Response
	lastBody     []byte
	token        string

	mu            sync.Mutex
	providerCalls []string
	rejectStatus  map[string]int
	aiReply       string
	aiErr         error
}

func (ctx *bddTestContext) reset() {
	if ctx.lastResponse != nil && ctx.lastResponse.Body != nil {
		ctx.lastResponse.Body.Close()
	}
	ctx.mem = storetest.NewMemory()
	ctx.lastResponse = nil
	ctx.lastBody = nil
	ctx.token = ""
	ctx.providerCalls = nil
	ctx.rejectStatus = map[string]int{}
	ctx.aiReply = "Generated post"
	ctx.aiErr = nil
}

func (ctx *bddTestContext) Generate(_ context.Context, _, _ string) (string, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.aiReply, ctx.aiErr
}

// providers fakes every outbound social API the registry talks to.
func (ctx *bddTestContext) providers(r *http.Request) (*http.Response, error) {
	u := r.URL.String()
	ctx.mu.Lock()
	ctx.providerCalls = append(ctx.providerCalls, u)
	reject := ctx.rejectStatus
	ctx.mu.Unlock()

	respond := func(status int, body string) (*http.Response, error) {
		h := make(http.Header)
		h.Set("Content-Type", "application/json")
		return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	switch {
	case u == tokens.TwitterTokenURL:
		return respond(200, `{"access_token":"refreshed","expires_in":7200,"token_type":"bearer"}`)
	case strings.HasPrefix(u, platforms.TwitterBaseURL):
		if s, ok := reject["twitter"]; ok {
			return respond(s, `{"title":"Forbidden","detail":"rejected by provider"}`)
		}
		if r.Method == http.MethodPost {
			return respond(201, `{"data":{"id":"tweet-1","text":"ok"}}`)
		}
		return respond(200, `{"data":[{"id":"1"},{"id":"2"},{"id":"3"}]}`)
	case strings.HasPrefix(u, platforms.GraphBaseURL):
		if s, ok := reject["facebook"]; ok {
			return respond(s, `{"error":{"message":"rejected by provider"}}`)
		}
		return respond(200, `{"id":"page_post_1"}`)
	}
	return respond(404, `{}`)
}

func (ctx *bddTestContext) theAPIServerIsRunning() error {
	if ctx.server != nil {
		return nil
	}
	client := &http.Client{Transport: roundTripFunc(ctx.providers)}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := platforms.Default(client)
	resolver := credentials.NewResolver(ctx.mem, reg.Policies())
	mgr := tokens.NewManager(ctx.mem,
		tokens.WithProvider(models.ProviderTwitter, tokens.ProviderConfig{ClientID: "cid", ClientSecret: "secret"}),
		tokens.WithHTTPClient(client),
		tokens.WithLogger(logger),
	)
	h := handlers.New(handlers.Deps{
		Store:        ctx.mem,
		Orchestrator: publish.New(reg, resolver, mgr, publish.WithLogger(logger)),
		Resolver:     resolver,
		Refresher:    mgr,
		Generator:    ctx,
		Verifier:     auth.NewVerifier(bddJWTSecret),
		Logger:       logger,
	})
	r := mux.NewRouter()
	handlers.RegisterRoutes(h, r)
	ctx.server = httptest.NewServer(r)
	return nil
}

func (ctx *bddTestContext) iAmAuthenticatedAs(userID string) error {
	tok, err := auth.NewVerifier(bddJWTSecret).Sign(userID, time.Hour)
	if err != nil {
		return err
	}
	ctx.token = tok
	return nil
}

func (ctx *bddTestContext) theUserHasATwitterConnection(userID, connID string) error {
	ctx.mem.PutConnection(models.SocialConnection{
		ID:             connID,
		UserID:         userID,
		Provider:       models.ProviderTwitter,
		AccountID:      "tw-" + userID,
		OAuthUserToken: models.Str("token-" + connID),
	})
	return nil
}

func (ctx *bddTestContext) theUserHasAnExpiringTwitterConnection(userID, connID string) error {
	exp := time.Now().Add(time.Minute)
	ctx.mem.PutConnection(models.SocialConnection{
		ID:                connID,
		UserID:            userID,
		Provider:          models.ProviderTwitter,
		AccountID:         "tw-" + userID,
		OAuthUserToken:    models.Str("stale"),
		OAuthRefreshToken: models.Str("refresh-" + connID),
		TokenExpiresAt:    &exp,
	})
	return nil
}

func (ctx *bddTestContext) theUserHasAFacebookPage(userID, pageID, name string) error {
	connID := "fb-" + userID
	ctx.mem.PutConnection(models.SocialConnection{
		ID:             connID,
		UserID:         userID,
		Provider:       "facebook",
		AccountID:      "fbacct-" + userID,
		OAuthUserToken: models.Str("user-token"),
	})
	ctx.mem.PutPage(models.SocialPage{
		ID:              "row-" + pageID,
		ConnectionID:    connID,
		UserID:          userID,
		Provider:        "facebook",
		PageID:          pageID,
		PageName:        models.Str(name),
		PageAccessToken: models.Str("page-token"),
	})
	return nil
}

func (ctx *bddTestContext) theUserHasACampaignForPlatforms(userID, campaignID, list string) error {
	ctx.mem.PutBrand(models.Brand{ID: "brand-" + userID, UserID: userID, Name: "Brand of " + userID})
	var ps []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ps = append(ps, p)
		}
	}
	ctx.mem.PutCampaign(models.Campaign{
		ID:        campaignID,
		UserID:    userID,
		BrandID:   models.Str("brand-" + userID),
		Name:      "Campaign " + campaignID,
		Platforms: ps,
		Status:    "active",
	})
	return nil
}

func (ctx *bddTestContext) theAIModelReplies(text string) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.aiReply = strings.ReplaceAll(text, `\n`, "\n")
	ctx.aiErr = nil
	return nil
}

func (ctx *bddTestContext) theAIModelIsUnavailable() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.aiErr = fmt.Errorf("model unavailable")
	return nil
}

func (ctx *bddTestContext) theProviderRejectsRequestsWithStatus(provider string, status int) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.rejectStatus[provider] = status
	return nil
}

func (ctx *bddTestContext) iSendAGETRequestTo(path string) error {
	return ctx.iSendARequestTo("GET", path, "")
}

func (ctx *bddTestContext) iSendAPOSTRequestToWithJSON(path, body string) error {
	return ctx.iSendARequestTo("POST", path, body)
}

func (ctx *bddTestContext) iSendAnOPTIONSRequestTo(path string) error {
	return ctx.iSendARequestTo("OPTIONS", path, "")
}

func (ctx *bddTestContext) iSendARequestTo(method, path, body string) error {
	url := ctx.server.URL + path
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if ctx.token != "" {
		req.Header.Set("Authorization", "Bearer "+ctx.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	ctx.lastResponse = resp
	ctx.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (ctx *bddTestContext) theResponseStatusCodeShouldBe(expectedCode int) error {
	if ctx.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if ctx.lastResponse.StatusCode != expectedCode {
		return fmt.Errorf("expected status code %d, got %d. Body: %s",
			expectedCode, ctx.lastResponse.StatusCode, string(ctx.lastBody))
	}
	return nil
}

func (ctx *bddTestContext) responseObject() (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(ctx.lastBody, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w. Body: %s", err, string(ctx.lastBody))
	}
	return data, nil
}

func (ctx *bddTestContext) theResponseShouldContainJSONWithSetTo(key, value string) error {
	data, err := ctx.responseObject()
	if err != nil {
		return err
	}
	actualValue, ok := data[key]
	if !ok {
		return fmt.Errorf("key %q not found in response: %s", key, string(ctx.lastBody))
	}
	if actualStr := fmt.Sprintf("%v", actualValue); actualStr != value {
		return fmt.Errorf("expected %q to be %q, got %q", key, value, actualStr)
	}
	return nil
}

func (ctx *bddTestContext) theResponseShouldContainError(errorMsg string) error {
	if !strings.Contains(string(ctx.lastBody), errorMsg) {
		return fmt.Errorf("expected error message %q not found in response: %s", errorMsg, string(ctx.lastBody))
	}
	return nil
}

// resultEntries returns the per-platform entries of a publish or campaign response.
func (ctx *bddTestContext) resultEntries() ([]map[string]interface{}, error) {
	data, err := ctx.responseObject()
	if err != nil {
		return nil, err
	}
	raw, ok := data["results"].([]interface{})
	if !ok {
		raw, _ = data["posts"].([]interface{})
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (ctx *bddTestContext) theResultsForShouldContainError(platform, errorMsg string) error {
	entries, err := ctx.resultEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e["platform"] == platform {
			if msg, _ := e["error"].(string); strings.Contains(msg, errorMsg) {
				return nil
			}
			return fmt.Errorf("result for %s has error %v, want %q", platform, e["error"], errorMsg)
		}
	}
	return fmt.Errorf("no result for %s in %s", platform, string(ctx.lastBody))
}

func (ctx *bddTestContext) theResultForShouldSucceedWithPostID(platform, postID string) error {
	entries, err := ctx.resultEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e["platform"] == platform {
			if e["success"] != true || e["post_id"] != postID {
				return fmt.Errorf("result for %s: %v", platform, e)
			}
			return nil
		}
	}
	return fmt.Errorf("no result for %s in %s", platform, string(ctx.lastBody))
}

func (ctx *bddTestContext) theResponseShouldListGeneratedPosts(count int) error {
	data, err := ctx.responseObject()
	if err != nil {
		return err
	}
	posts, _ := data["posts"].([]interface{})
	if len(posts) != count {
		return fmt.Errorf("expected %d posts, got %d: %s", count, len(posts), string(ctx.lastBody))
	}
	return nil
}

func (ctx *bddTestContext) theUserShouldHaveRecordedPostsWithStatus(userID string, count int, status string) error {
	n := 0
	for _, p := range ctx.mem.Posts() {
		if p.UserID == userID && p.Status == status {
			n++
		}
	}
	if n != count {
		return fmt.Errorf("expected %d %s posts for %s, got %d", count, status, userID, n)
	}
	return nil
}

func (ctx *bddTestContext) noProviderCallsShouldHaveBeenMade() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if len(ctx.providerCalls) != 0 {
		return fmt.Errorf("expected no provider calls, got %v", ctx.providerCalls)
	}
	return nil
}

func (ctx *bddTestContext) theConnectionShouldHoldToken(connID, token string) error {
	c, ok := ctx.mem.Connection(connID)
	if !ok {
		return fmt.Errorf("connection %s not found", connID)
	}
	if got := models.Deref(c.OAuthUserToken); got != token {
		return fmt.Errorf("expected token %q, got %q", token, got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	testCtx := &bddTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.server != nil {
			testCtx.server.Close()
			testCtx.server = nil
		}
		return ctx, nil
	})

	ctx.Step(`^the API server is running$`, testCtx.theAPIServerIsRunning)
	ctx.Step(`^I am authenticated as "([^"]*)"$`, testCtx.iAmAuthenticatedAs)
	ctx.Step(`^the user "([^"]*)" has a twitter connection "([^"]*)"$`, testCtx.theUserHasATwitterConnection)
	ctx.Step(`^the user "([^"]*)" has an expiring twitter connection "([^"]*)"$`, testCtx.theUserHasAnExpiringTwitterConnection)
	ctx.Step(`^the user "([^"]*)" has a facebook page "([^"]*)" named "([^"]*)"$`, testCtx.theUserHasAFacebookPage)
	ctx.Step(`^the user "([^"]*)" has a campaign "([^"]*)" for platforms "([^"]*)"$`, testCtx.theUserHasACampaignForPlatforms)
	ctx.Step(`^the AI model replies "([^"]*)"$`, testCtx.theAIModelReplies)
	ctx.Step(`^the AI model is unavailable$`, testCtx.theAIModelIsUnavailable)
	ctx.Step(`^the "([^"]*)" API rejects requests with status (\d+)$`, testCtx.theProviderRejectsRequestsWithStatus)
	ctx.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	ctx.Step(`^I send an OPTIONS request to "([^"]*)"$`, testCtx.iSendAnOPTIONSRequestTo)
	ctx.Step(`^I send a POST request to "([^"]*)" with JSON:$`, testCtx.iSendAPOSTRequestToWithJSON)
	ctx.Step(`^the response status code should be (\d+)$`, testCtx.theResponseStatusCodeShouldBe)
	ctx.Step(`^the response should contain JSON with "([^"]*)" set to "([^"]*)"$`, testCtx.theResponseShouldContainJSONWithSetTo)
	ctx.Step(`^the response should contain error "([^"]*)"$`, testCtx.theResponseShouldContainError)
	ctx.Step(`^the results for "([^"]*)" should contain error "([^"]*)"$`, testCtx.theResultsForShouldContainError)
	ctx.Step(`^the result for "([^"]*)" should succeed with post id "([^"]*)"$`, testCtx.theResultForShouldSucceedWithPostID)
	ctx.Step(`^the response should list (\d+) generated posts$`, testCtx.theResponseShouldListGeneratedPosts)
	ctx.Step(`^the user "([^"]*)" should have (\d+) recorded posts with status "([^"]*)"$`, testCtx.theUserShouldHaveRecordedPostsWithStatus)
	ctx.Step(`^no provider calls should have been made$`, testCtx.noProviderCallsShouldHaveBeenMade)
	ctx.Step(`^the connection "([^"]*)" should hold token "([^"]*)"$`, testCtx.theConnectionShouldHoldToken)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

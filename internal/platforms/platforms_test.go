package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (t stubTransport) RoundTrip(r *http.Request) (*http.Response, error) { return t.fn(r) }

func httpJSON(status int, body string, headers map[string]string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type recorded struct {
	method string
	url    string
	header http.Header
	body   string
}

func recordingClient(t *testing.T, respond func(r *http.Request) *http.Response) (*http.Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	return &http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		var b []byte
		if r.Body != nil {
			b, _ = io.ReadAll(r.Body)
		}
		calls = append(calls, recorded{method: r.Method, url: r.URL.String(), header: r.Header.Clone(), body: string(b)})
		return respond(r), nil
	}}}, &calls
}

func connCred(platform, token string) *credentials.Credential {
	return &credentials.Credential{Platform: platform, Kind: credentials.KindConnection, RecordID: "c1", ConnectionID: "c1", PlatformID: "acct1", AccessToken: token}
}

func pageCred(platform, pageID, token string) *credentials.Credential {
	return &credentials.Credential{Platform: platform, Kind: credentials.KindPage, RecordID: "p1", ConnectionID: "c1", PlatformID: pageID, AccessToken: token}
}

func TestTwitterPublish_SendsTweet(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(201, `{"data":{"id":"1790","text":"Hello world"}}`, nil)
	})

	res, err := NewTwitter(client).Publish(context.Background(), connCred("twitter", "tok123"), "Hello world", "")
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, http.MethodPost, c.method)
	assert.Equal(t, "https://api.twitter.com/2/tweets", c.url)
	assert.Equal(t, "Bearer tok123", c.header.Get("Authorization"))
	assert.JSONEq(t, `{"text":"Hello world"}`, c.body)

	assert.True(t, res.Success)
	assert.Equal(t, "1790", res.PostID)
	assert.Empty(t, res.Warnings)
	assert.NotNil(t, res.Data)
}

func TestTwitterPublish_MediaURLIsReportedNotDropped(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(201, `{"data":{"id":"1"}}`, nil)
	})

	res, err := NewTwitter(client).Publish(context.Background(), connCred("twitter", "tok"), "hi", "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "media_url ignored")
	assert.JSONEq(t, `{"text":"hi"}`, (*calls)[0].body)
}

func TestTwitterPublish_ProviderError(t *testing.T) {
	client, _ := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(403, `{"title":"Forbidden","detail":"You are not allowed to create a Tweet with duplicate content.","status":403}`, nil)
	})

	res, err := NewTwitter(client).Publish(context.Background(), connCred("twitter", "tok"), "dup", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 403, res.StatusCode)
	assert.Contains(t, res.Error, "duplicate content")
}

func TestTwitterPublish_TransportErrorIsReturned(t *testing.T) {
	client := &http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("boom")
	}}}
	_, err := NewTwitter(client).Publish(context.Background(), connCred("twitter", "tok"), "x", "")
	require.Error(t, err)
}

func TestGraphPublish_FeedWithoutMedia(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(200, `{"id":"pg1_55"}`, nil)
	})

	res, err := NewFacebook(client).Publish(context.Background(), pageCred("facebook", "pg1", "ptok"), "Hello", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pg1_55", res.PostID)

	c := (*calls)[0]
	assert.Equal(t, "https://graph.facebook.com/v18.0/pg1/feed", c.url)
	assert.Equal(t, "application/x-www-form-urlencoded", c.header.Get("Content-Type"))
	form, _ := url.ParseQuery(c.body)
	assert.Equal(t, "Hello", form.Get("message"))
	assert.Equal(t, "ptok", form.Get("access_token"))
}

func TestGraphPublish_PhotosWithMedia(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(200, `{"id":"photo9","post_id":"pg1_77"}`, nil)
	})

	res, err := NewInstagram(client).Publish(context.Background(), pageCred("instagram", "ig1", "ptok"), "Look", "https://cdn.example.com/p.jpg")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pg1_77", res.PostID)

	c := (*calls)[0]
	assert.Equal(t, "https://graph.facebook.com/v18.0/ig1/photos", c.url)
	form, _ := url.ParseQuery(c.body)
	assert.Equal(t, "https://cdn.example.com/p.jpg", form.Get("url"))
	assert.Equal(t, "Look", form.Get("caption"))
	assert.Equal(t, "ptok", form.Get("access_token"))
}

func TestGraphPublish_Non2xxCarriesProviderBody(t *testing.T) {
	client, _ := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(400, `{"error":{"message":"(#200) The user hasn't authorized the application","type":"OAuthException","code":200}}`, nil)
	})

	res, err := NewFacebook(client).Publish(context.Background(), pageCred("facebook", "pg1", "ptok"), "Hello", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 400, res.StatusCode)
	assert.Equal(t, "(#200) The user hasn't authorized the application", res.Error)
	body, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, body, "error")
}

func TestGraphRun_ListAndRedactedPost(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		if r.Method == http.MethodGet {
			return httpJSON(200, `{"data":[{"id":"1"},{"id":"2"}]}`, nil)
		}
		return httpJSON(200, `{"id":"pg1_9"}`, nil)
	})
	fb := NewFacebook(client)

	res, err := fb.Run(context.Background(), ActionList, pageCred("facebook", "pg1", "ptok"), ActionInput{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "https://graph.facebook.com/v18.0/pg1/posts", res.Endpoint)
	assert.Equal(t, "Fetched 2 facebook items", res.Summary)
	u, _ := url.Parse((*calls)[0].url)
	assert.Equal(t, "5", u.Query().Get("limit"))
	assert.Equal(t, "ptok", u.Query().Get("access_token"))

	res, err = fb.Run(context.Background(), ActionPost, pageCred("facebook", "pg1", "ptok"), ActionInput{Content: "hey"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, res.Method)
	assert.Equal(t, map[string]any{"message": "hey"}, res.RequestBody)
}

func TestGraphRun_InputsAndUnsupported(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(200, `{}`, nil)
	})
	fb := NewFacebook(client)

	_, err := fb.Run(context.Background(), ActionGetEngagement, pageCred("facebook", "pg1", "ptok"), ActionInput{})
	var mi *MissingInputError
	require.True(t, errors.As(err, &mi))
	assert.Equal(t, "post_id", mi.Field)

	res, err := fb.Run(context.Background(), ActionGetInsights, connCred("facebook", "utok"), ActionInput{})
	require.NoError(t, err)
	assert.Equal(t, 501, res.StatusCode)
	assert.Empty(t, *calls)
}

func TestLinkedInPublish_ResolvesMemberFirst(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		if strings.HasSuffix(r.URL.Path, "/v2/userinfo") {
			return httpJSON(200, `{"sub":"abc123","name":"Ada"}`, nil)
		}
		return httpJSON(201, `{}`, map[string]string{"X-RestLi-Id": "urn:li:share:42"})
	})

	res, err := NewLinkedIn(client).Publish(context.Background(), connCred("linkedin", "ltok"), "Hello LinkedIn", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "urn:li:share:42", res.PostID)

	require.Len(t, *calls, 2)
	assert.Equal(t, "https://api.linkedin.com/v2/userinfo", (*calls)[0].url)
	post := (*calls)[1]
	assert.Equal(t, "https://api.linkedin.com/v2/ugcPosts", post.url)
	assert.Equal(t, "2.0.0", post.header.Get("X-Restli-Protocol-Version"))
	assert.Equal(t, "Bearer ltok", post.header.Get("Authorization"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(post.body), &payload))
	assert.Equal(t, "urn:li:person:abc123", payload["author"])
	assert.Equal(t, "PUBLISHED", payload["lifecycleState"])
	assert.Contains(t, post.body, `"shareMediaCategory":"NONE"`)
	assert.Contains(t, post.body, `"text":"Hello LinkedIn"`)
	assert.Contains(t, post.body, `"PUBLIC"`)
}

func TestLinkedInPublish_OrganizationSkipsUserinfo(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(201, `{"id":"urn:li:share:7"}`, nil)
	})

	res, err := NewLinkedIn(client).Publish(context.Background(), pageCred("linkedin", "98765", "otok"), "Org news", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, *calls, 1)
	assert.Contains(t, (*calls)[0].body, `"author":"urn:li:organization:98765"`)
}

func TestLinkedInPublish_ActorResolutionFailure(t *testing.T) {
	client, calls := recordingClient(t, func(r *http.Request) *http.Response {
		return httpJSON(401, `{"message":"Invalid access token"}`, nil)
	})

	_, err := NewLinkedIn(client).Publish(context.Background(), connCred("linkedin", "bad"), "x", "")
	var ar *ActorResolutionError
	require.True(t, errors.As(err, &ar))
	assert.Equal(t, 401, ar.StatusCode)
	assert.Len(t, *calls, 1, "ugcPosts must not be called without an author")
}

func TestReddit_AlwaysNotImplemented(t *testing.T) {
	r := NewReddit()
	res, err := r.Publish(context.Background(), connCred("reddit", "t"), "x", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 501, res.StatusCode)

	for _, a := range []Action{ActionList, ActionPost, ActionGetEngagement, ActionGetInsights} {
		out, err := r.Run(context.Background(), a, connCred("reddit", "t"), ActionInput{})
		require.NoError(t, err)
		assert.Equal(t, 501, out.StatusCode)
	}
}

func TestRegistry(t *testing.T) {
	reg := Default(&http.Client{})
	assert.Equal(t, []string{"facebook", "instagram", "linkedin", "reddit", "twitter"}, reg.Names())

	p, ok := reg.Get(" Twitter ")
	require.True(t, ok)
	assert.Equal(t, "twitter", p.Name())

	_, ok = reg.Get("myspace")
	assert.False(t, ok)

	pol := reg.Policies()
	assert.Equal(t, credentials.PageOnly, pol["instagram"])
	assert.Equal(t, credentials.ConnectionOnly, pol["twitter"])
	assert.Equal(t, credentials.PageOrConnection, pol["facebook"])

	assert.Equal(t, []string{"twitter"}, reg.ShortLivedTokenProviders())
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction(" GET_ENGAGEMENT ")
	assert.True(t, ok)
	assert.Equal(t, ActionGetEngagement, a)
	_, ok = ParseAction("delete")
	assert.False(t, ok)
}

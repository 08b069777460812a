package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/textutil"
)

const TwitterBaseURL = "https://api.twitter.com/2"

// MediaIgnoredWarning is attached when a tweet is published without its media.
const MediaIgnoredWarning = "media_url ignored: media attachments are not supported for twitter; posted text only"

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetFieldsQuery struct {
	TweetFields string `url:"tweet.fields"`
	MaxResults  int    `url:"max_results,omitempty"`
}

type Twitter struct {
	base   string
	client *http.Client
}

func NewTwitter(client *http.Client) *Twitter {
	return &Twitter{base: TwitterBaseURL, client: client}
}

func (t *Twitter) Name() string                           { return models.ProviderTwitter }
func (t *Twitter) TargetPolicy() credentials.TargetPolicy { return credentials.ConnectionOnly }

// ShortLivedTokens is true: OAuth2 user tokens last two hours.
func (t *Twitter) ShortLivedTokens() bool { return true }

func (t *Twitter) Publish(ctx context.Context, cred *credentials.Credential, content, mediaURL string) (Result, error) {
	res, err := postJSON(ctx, t.client, t.base+"/tweets", bearer(cred.AccessToken), tweetRequest{Text: content})
	if err != nil {
		return Result{}, fmt.Errorf("twitter publish: %w", err)
	}
	var warnings []string
	if mediaURL != "" {
		warnings = append(warnings, MediaIgnoredWarning)
	}
	data := decodeBody(res.body)
	if !res.ok() {
		return Result{Success: false, StatusCode: res.status, Data: data, Error: twitterErrorMessage(res.body), Warnings: warnings}, nil
	}
	return Result{Success: true, StatusCode: res.status, Data: data, PostID: tweetID(data), Warnings: warnings}, nil
}

func tweetID(data any) string {
	obj, _ := data.(map[string]any)
	return stringField(obj["data"], "id")
}

// twitterErrorMessage reads the v2 problem shape, falling back to the raw body.
func twitterErrorMessage(body []byte) string {
	var p struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &p) == nil {
		switch {
		case p.Detail != "":
			return textutil.Truncate(p.Detail, 400)
		case len(p.Errors) > 0 && p.Errors[0].Message != "":
			return textutil.Truncate(p.Errors[0].Message, 400)
		case p.Title != "":
			return textutil.Truncate(p.Title, 400)
		}
	}
	return textutil.Truncate(string(body), 400)
}

func (t *Twitter) Run(ctx context.Context, action Action, cred *credentials.Credential, in ActionInput) (*APIResult, error) {
	switch action {
	case ActionPost:
		if in.Content == "" {
			return nil, &MissingInputError{Platform: t.Name(), Action: action, Field: "content"}
		}
		endpoint := t.base + "/tweets"
		body := tweetRequest{Text: in.Content}
		res, err := postJSON(ctx, t.client, endpoint, bearer(cred.AccessToken), body)
		if err != nil {
			return nil, fmt.Errorf("twitter post: %w", err)
		}
		data := decodeBody(res.body)
		return &APIResult{
			Endpoint:    endpoint,
			Method:      http.MethodPost,
			StatusCode:  res.status,
			Summary:     statusSummary("twitter", res.status, "Created tweet "+tweetID(data), twitterErrorMessage(res.body)),
			Response:    data,
			RequestBody: body,
		}, nil
	case ActionList:
		userID := cred.PlatformID
		if userID == "" {
			return nil, &MissingInputError{Platform: t.Name(), Action: action, Field: "account_id"}
		}
		limit := in.Limit
		if limit < 5 || limit > 100 {
			limit = 10
		}
		endpoint := fmt.Sprintf("%s/users/%s/tweets", t.base, pathEscape(userID))
		return t.get(ctx, cred, endpoint, tweetFieldsQuery{TweetFields: "created_at,public_metrics", MaxResults: limit}, func(data any) string {
			return fmt.Sprintf("Fetched %d tweets", countItems(data, "data"))
		})
	case ActionGetEngagement, ActionGetInsights:
		if in.PostID == "" {
			return nil, &MissingInputError{Platform: t.Name(), Action: action, Field: "post_id"}
		}
		fields := "public_metrics"
		if action == ActionGetInsights {
			// non-public metrics are only returned for the author's own tweets from the last 30 days
			fields = "public_metrics,non_public_metrics,organic_metrics"
		}
		endpoint := fmt.Sprintf("%s/tweets/%s", t.base, pathEscape(in.PostID))
		return t.get(ctx, cred, endpoint, tweetFieldsQuery{TweetFields: fields}, func(any) string {
			return fmt.Sprintf("Fetched metrics for tweet %s", in.PostID)
		})
	}
	return unsupported(t.Name(), action), nil
}

func (t *Twitter) get(ctx context.Context, cred *credentials.Credential, endpoint string, q any, summarize func(any) string) (*APIResult, error) {
	full, err := withQuery(endpoint, q)
	if err != nil {
		return nil, err
	}
	res, err := getJSON(ctx, t.client, full, bearer(cred.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("twitter request: %w", err)
	}
	data := decodeBody(res.body)
	summary := statusSummary("twitter", res.status, "", twitterErrorMessage(res.body))
	if res.ok() {
		summary = summarize(data)
	}
	return &APIResult{Endpoint: full, Method: http.MethodGet, StatusCode: res.status, Summary: summary, Response: data}, nil
}

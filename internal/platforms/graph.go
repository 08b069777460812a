package platforms

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/textutil"
)

const GraphBaseURL = "https://graph.facebook.com/v18.0"

type graphFeedForm struct {
	Message     string `url:"message"`
	AccessToken string `url:"access_token"`
}

type graphPhotoForm struct {
	URL         string `url:"url"`
	Caption     string `url:"caption"`
	AccessToken string `url:"access_token"`
}

type graphFieldsQuery struct {
	Fields      string `url:"fields"`
	Limit       int    `url:"limit,omitempty"`
	AccessToken string `url:"access_token"`
}

type graphInsightsQuery struct {
	Metric      string `url:"metric"`
	Period      string `url:"period,omitempty"`
	AccessToken string `url:"access_token"`
}

// graphFields are the per-network field and metric names; Instagram and Facebook
// share the Graph transport but not the vocabulary.
type graphFields struct {
	listEdge         string
	listFields       string
	engagementFields string
	insightsMetrics  string
}

// Graph publishes through the Facebook Graph API. It serves both Facebook and Instagram.
type Graph struct {
	name   string
	policy credentials.TargetPolicy
	fields graphFields
	base   string
	client *http.Client
}

func NewFacebook(client *http.Client) *Graph {
	return &Graph{
		name:   models.ProviderFacebook,
		policy: credentials.PageOrConnection,
		fields: graphFields{
			listEdge:         "posts",
			listFields:       "id,message,created_time,permalink_url",
			engagementFields: "id,likes.summary(true),comments.summary(true),shares",
			insightsMetrics:  "page_impressions,page_post_engagements,page_fans",
		},
		base:   GraphBaseURL,
		client: client,
	}
}

func NewInstagram(client *http.Client) *Graph {
	return &Graph{
		name:   models.ProviderInstagram,
		policy: credentials.PageOnly,
		fields: graphFields{
			listEdge:         "media",
			listFields:       "id,caption,media_type,media_url,permalink,timestamp",
			engagementFields: "id,like_count,comments_count",
			insightsMetrics:  "impressions,reach,profile_views",
		},
		base:   GraphBaseURL,
		client: client,
	}
}

func (g *Graph) Name() string                           { return g.name }
func (g *Graph) TargetPolicy() credentials.TargetPolicy { return g.policy }

// postRequest picks /photos when a media URL is present, /feed otherwise.
func (g *Graph) postRequest(cred *credentials.Credential, content, mediaURL string) (string, any) {
	id := pathEscape(cred.PlatformID)
	if mediaURL != "" {
		return fmt.Sprintf("%s/%s/photos", g.base, id), graphPhotoForm{URL: mediaURL, Caption: content, AccessToken: cred.AccessToken}
	}
	return fmt.Sprintf("%s/%s/feed", g.base, id), graphFeedForm{Message: content, AccessToken: cred.AccessToken}
}

func (g *Graph) Publish(ctx context.Context, cred *credentials.Credential, content, mediaURL string) (Result, error) {
	endpoint, form := g.postRequest(cred, content, mediaURL)
	res, err := postForm(ctx, g.client, endpoint, form)
	if err != nil {
		return Result{}, fmt.Errorf("%s publish: %w", g.name, err)
	}
	data := decodeBody(res.body)
	if !res.ok() {
		return Result{
			Success:    false,
			StatusCode: res.status,
			Data:       data,
			Error:      extractFacebookErrorMessage(res.body, textutil.Truncate(string(res.body), 1200)),
		}, nil
	}
	return Result{Success: true, StatusCode: res.status, Data: data, PostID: graphPostID(data)}, nil
}

// graphPostID prefers post_id (photo uploads return both the photo id and the feed post id).
func graphPostID(data any) string {
	if id := stringField(data, "post_id"); id != "" {
		return id
	}
	return stringField(data, "id")
}

func (g *Graph) Run(ctx context.Context, action Action, cred *credentials.Credential, in ActionInput) (*APIResult, error) {
	switch action {
	case ActionPost:
		return g.runPost(ctx, cred, in)
	case ActionList:
		limit := in.Limit
		if limit <= 0 {
			limit = 10
		}
		endpoint := fmt.Sprintf("%s/%s/%s", g.base, pathEscape(cred.PlatformID), g.fields.listEdge)
		return g.get(ctx, endpoint, graphFieldsQuery{Fields: g.fields.listFields, Limit: limit, AccessToken: cred.AccessToken}, func(data any) string {
			return fmt.Sprintf("Fetched %d %s items", countItems(data, "data"), g.name)
		})
	case ActionGetEngagement:
		if in.PostID == "" {
			return nil, &MissingInputError{Platform: g.name, Action: action, Field: "post_id"}
		}
		endpoint := fmt.Sprintf("%s/%s", g.base, pathEscape(in.PostID))
		return g.get(ctx, endpoint, graphFieldsQuery{Fields: g.fields.engagementFields, AccessToken: cred.AccessToken}, func(any) string {
			return fmt.Sprintf("Fetched engagement for %s", in.PostID)
		})
	case ActionGetInsights:
		if cred.Kind != credentials.KindPage {
			return unsupported(g.name+" account", action), nil
		}
		endpoint := fmt.Sprintf("%s/%s/insights", g.base, pathEscape(cred.PlatformID))
		return g.get(ctx, endpoint, graphInsightsQuery{Metric: g.fields.insightsMetrics, Period: "day", AccessToken: cred.AccessToken}, func(data any) string {
			return fmt.Sprintf("Fetched %d insight metrics", countItems(data, "data"))
		})
	}
	return unsupported(g.name, action), nil
}

func (g *Graph) runPost(ctx context.Context, cred *credentials.Credential, in ActionInput) (*APIResult, error) {
	if in.Content == "" {
		return nil, &MissingInputError{Platform: g.name, Action: ActionPost, Field: "content"}
	}
	endpoint, form := g.postRequest(cred, in.Content, in.MediaURL)
	res, err := postForm(ctx, g.client, endpoint, form)
	if err != nil {
		return nil, fmt.Errorf("%s post: %w", g.name, err)
	}
	data := decodeBody(res.body)
	return &APIResult{
		Endpoint:    endpoint,
		Method:      http.MethodPost,
		StatusCode:  res.status,
		Summary:     statusSummary(g.name, res.status, "Created post "+graphPostID(data), extractFacebookErrorMessage(res.body, "request failed")),
		Response:    data,
		RequestBody: redact(form),
	}, nil
}

func (g *Graph) get(ctx context.Context, endpoint string, q any, summarize func(any) string) (*APIResult, error) {
	full, err := withQuery(endpoint, q)
	if err != nil {
		return nil, err
	}
	res, err := getJSON(ctx, g.client, full, nil)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", g.name, err)
	}
	data := decodeBody(res.body)
	summary := ""
	if res.ok() {
		summary = summarize(data)
	} else {
		summary = statusSummary(g.name, res.status, "", extractFacebookErrorMessage(res.body, "request failed"))
	}
	return &APIResult{
		// the token is a query parameter; report the endpoint without it
		Endpoint:   endpoint,
		Method:     http.MethodGet,
		StatusCode: res.status,
		Summary:    summary,
		Response:   data,
	}, nil
}

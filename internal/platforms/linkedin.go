package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/textutil"
)

const LinkedInBaseURL = "https://api.linkedin.com"

type ugcPost struct {
	Author          string             `json:"author"`
	LifecycleState  string             `json:"lifecycleState"`
	SpecificContent ugcSpecificContent `json:"specificContent"`
	Visibility      ugcVisibility      `json:"visibility"`
}

type ugcSpecificContent struct {
	ShareContent ugcShareContent `json:"com.linkedin.ugc.ShareContent"`
}

type ugcShareContent struct {
	ShareCommentary    ugcText `json:"shareCommentary"`
	ShareMediaCategory string  `json:"shareMediaCategory"`
}

type ugcText struct {
	Text string `json:"text"`
}

type ugcVisibility struct {
	MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

func newUGCPost(author, text string) ugcPost {
	return ugcPost{
		Author:         author,
		LifecycleState: "PUBLISHED",
		SpecificContent: ugcSpecificContent{ShareContent: ugcShareContent{
			ShareCommentary:    ugcText{Text: text},
			ShareMediaCategory: "NONE",
		}},
		Visibility: ugcVisibility{MemberNetworkVisibility: "PUBLIC"},
	}
}

type linkedInListQuery struct {
	Q     string `url:"q"`
	Count int    `url:"count,omitempty"`
}

type LinkedIn struct {
	base   string
	client *http.Client
}

func NewLinkedIn(client *http.Client) *LinkedIn {
	return &LinkedIn{base: LinkedInBaseURL, client: client}
}

func (l *LinkedIn) Name() string                           { return models.ProviderLinkedIn }
func (l *LinkedIn) TargetPolicy() credentials.TargetPolicy { return credentials.PageOrConnection }

func restliHeaders(token string) map[string]string {
	h := bearer(token)
	h["X-Restli-Protocol-Version"] = "2.0.0"
	return h
}

// actor returns the author URN: the organization for page targets, otherwise the
// member resolved through /v2/userinfo.
func (l *LinkedIn) actor(ctx context.Context, cred *credentials.Credential) (string, error) {
	if cred.Kind == credentials.KindPage {
		return "urn:li:organization:" + cred.PlatformID, nil
	}
	res, err := getJSON(ctx, l.client, l.base+"/v2/userinfo", bearer(cred.AccessToken))
	if err != nil {
		return "", &ActorResolutionError{Err: err}
	}
	if !res.ok() {
		return "", &ActorResolutionError{StatusCode: res.status, Body: textutil.Truncate(string(res.body), 400)}
	}
	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(res.body, &info); err != nil {
		return "", &ActorResolutionError{Err: err}
	}
	if strings.TrimSpace(info.Sub) == "" {
		return "", &ActorResolutionError{}
	}
	return "urn:li:person:" + info.Sub, nil
}

func linkedInPostID(res response, data any) string {
	if id := res.header.Get("X-RestLi-Id"); id != "" {
		return id
	}
	return stringField(data, "id")
}

func linkedInErrorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return textutil.Truncate(e.Message, 400)
	}
	return textutil.Truncate(string(body), 400)
}

func (l *LinkedIn) Publish(ctx context.Context, cred *credentials.Credential, content, mediaURL string) (Result, error) {
	author, err := l.actor(ctx, cred)
	if err != nil {
		return Result{}, err
	}
	res, err := postJSON(ctx, l.client, l.base+"/v2/ugcPosts", restliHeaders(cred.AccessToken), newUGCPost(author, content))
	if err != nil {
		return Result{}, fmt.Errorf("linkedin publish: %w", err)
	}
	var warnings []string
	if mediaURL != "" {
		warnings = append(warnings, "media_url ignored: linkedin posts are published as text shares")
	}
	data := decodeBody(res.body)
	if !res.ok() {
		return Result{Success: false, StatusCode: res.status, Data: data, Error: linkedInErrorMessage(res.body), Warnings: warnings}, nil
	}
	return Result{Success: true, StatusCode: res.status, Data: data, PostID: linkedInPostID(res, data), Warnings: warnings}, nil
}

func (l *LinkedIn) Run(ctx context.Context, action Action, cred *credentials.Credential, in ActionInput) (*APIResult, error) {
	switch action {
	case ActionPost:
		if in.Content == "" {
			return nil, &MissingInputError{Platform: l.Name(), Action: action, Field: "content"}
		}
		author, err := l.actor(ctx, cred)
		if err != nil {
			return nil, err
		}
		endpoint := l.base + "/v2/ugcPosts"
		body := newUGCPost(author, in.Content)
		res, err := postJSON(ctx, l.client, endpoint, restliHeaders(cred.AccessToken), body)
		if err != nil {
			return nil, fmt.Errorf("linkedin post: %w", err)
		}
		data := decodeBody(res.body)
		return &APIResult{
			Endpoint:    endpoint,
			Method:      http.MethodPost,
			StatusCode:  res.status,
			Summary:     statusSummary("linkedin", res.status, "Created share "+linkedInPostID(res, data), linkedInErrorMessage(res.body)),
			Response:    data,
			RequestBody: body,
		}, nil
	case ActionList:
		author, err := l.actor(ctx, cred)
		if err != nil {
			return nil, err
		}
		count := in.Limit
		if count <= 0 {
			count = 10
		}
		full, err := withQuery(l.base+"/v2/ugcPosts", linkedInListQuery{Q: "authors", Count: count})
		if err != nil {
			return nil, err
		}
		// Rest.li 2.0 list syntax; the URN inside List() is percent-encoded, the parentheses are not.
		full += "&authors=List(" + url.QueryEscape(author) + ")"
		return l.get(ctx, cred, full, func(data any) string {
			return fmt.Sprintf("Fetched %d shares", countItems(data, "elements"))
		})
	case ActionGetEngagement:
		if in.PostID == "" {
			return nil, &MissingInputError{Platform: l.Name(), Action: action, Field: "post_id"}
		}
		full := l.base + "/v2/socialActions/" + url.PathEscape(in.PostID)
		return l.get(ctx, cred, full, func(any) string {
			return "Fetched social actions for " + in.PostID
		})
	case ActionGetInsights:
		if cred.Kind != credentials.KindPage {
			return unsupported("linkedin member", action), nil
		}
		full := l.base + "/v2/organizationalEntityShareStatistics?q=organizationalEntity&organizationalEntity=" +
			url.QueryEscape("urn:li:organization:"+cred.PlatformID)
		return l.get(ctx, cred, full, func(data any) string {
			return fmt.Sprintf("Fetched %d share statistics", countItems(data, "elements"))
		})
	}
	return unsupported(l.Name(), action), nil
}

func (l *LinkedIn) get(ctx context.Context, cred *credentials.Credential, full string, summarize func(any) string) (*APIResult, error) {
	res, err := getJSON(ctx, l.client, full, restliHeaders(cred.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("linkedin request: %w", err)
	}
	data := decodeBody(res.body)
	summary := statusSummary("linkedin", res.status, "", linkedInErrorMessage(res.body))
	if res.ok() {
		summary = summarize(data)
	}
	return &APIResult{Endpoint: full, Method: http.MethodGet, StatusCode: res.status, Summary: summary, Response: data}, nil
}

// Package platforms shapes requests for each social provider's REST API.
package platforms

import (
	"context"
	"fmt"
	"strings"

	"github.com/PortNumber53/social-publisher/internal/credentials"
)

type Action string

const (
	ActionList          Action = "list"
	ActionPost          Action = "post"
	ActionGetEngagement Action = "get_engagement"
	ActionGetInsights   Action = "get_insights"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionList, ActionPost, ActionGetEngagement, ActionGetInsights:
		return a, true
	}
	return "", false
}

// ActionInput carries the optional per-action arguments.
type ActionInput struct {
	Content  string
	MediaURL string
	PostID   string
	Limit    int
}

// APIResult is the normalized outcome of a single provider call.
type APIResult struct {
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	StatusCode  int    `json:"status_code"`
	Summary     string `json:"summary"`
	Response    any    `json:"response"`
	RequestBody any    `json:"request_body,omitempty"`
}

func (r *APIResult) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Result is the outcome of publishing one post to one platform.
type Result struct {
	Success    bool
	PostID     string
	StatusCode int
	Data       any
	Error      string
	Warnings   []string
}

// Publisher is implemented once per platform.
type Publisher interface {
	Name() string
	TargetPolicy() credentials.TargetPolicy
	// Publish creates a post. Provider rejections come back as Result.Success=false;
	// the error return is reserved for failures that produced no provider response.
	Publish(ctx context.Context, cred *credentials.Credential, content, mediaURL string) (Result, error)
	Run(ctx context.Context, action Action, cred *credentials.Credential, in ActionInput) (*APIResult, error)
}

// MissingInputError means an action was asked for without a required argument.
type MissingInputError struct {
	Platform string
	Action   Action
	Field    string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s %s requires %s", e.Platform, e.Action, e.Field)
}

// ActorResolutionError means LinkedIn's userinfo lookup did not yield a member URN.
type ActorResolutionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ActorResolutionError) Error() string {
	switch {
	case e.Err != nil:
		return "linkedin actor resolution failed: " + e.Err.Error()
	case e.StatusCode > 0:
		return fmt.Sprintf("linkedin actor resolution failed (status %d): %s", e.StatusCode, e.Body)
	default:
		return "linkedin actor resolution failed: userinfo returned no subject"
	}
}

func (e *ActorResolutionError) Unwrap() error { return e.Err }

func unsupported(platform string, action Action) *APIResult {
	return &APIResult{
		StatusCode: 501,
		Summary:    fmt.Sprintf("%s does not support %s", platform, action),
		Response:   map[string]any{"error": "not_implemented", "platform": platform, "action": string(action)},
	}
}

package platforms

import (
	"context"
	"net/http"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
)

const redditNotImplemented = "reddit integration is not implemented"

// Reddit answers every call with an explicit 501.
type Reddit struct{}

func NewReddit() *Reddit { return &Reddit{} }

func (Reddit) Name() string                           { return models.ProviderReddit }
func (Reddit) TargetPolicy() credentials.TargetPolicy { return credentials.ConnectionOnly }

func (Reddit) Publish(ctx context.Context, cred *credentials.Credential, content, mediaURL string) (Result, error) {
	return Result{
		Success:    false,
		StatusCode: http.StatusNotImplemented,
		Error:      redditNotImplemented,
	}, nil
}

func (r Reddit) Run(ctx context.Context, action Action, cred *credentials.Credential, in ActionInput) (*APIResult, error) {
	out := unsupported(r.Name(), action)
	out.Summary = redditNotImplemented
	return out, nil
}

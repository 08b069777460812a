package handlers

import (
	"errors"
	"net/http"

	"github.com/PortNumber53/social-publisher/internal/ai"
	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/platforms"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store"
	"github.com/PortNumber53/social-publisher/internal/tokens"
)

// statusFor maps component errors onto HTTP status codes. Anything unrecognized is a 500.
func statusFor(err error) int {
	var (
		missingTarget *credentials.MissingTargetError
		notFound      *credentials.NotFoundError
		missingCred   *credentials.MissingCredentialError
		unsupported   *credentials.UnsupportedPlatformError
		missingInput  *platforms.MissingInputError
		actor         *platforms.ActorResolutionError
		unavailable   *tokens.RefreshUnavailableError
		refreshFailed *tokens.RefreshFailedError
		quota         *publish.QuotaExceededError
		unknownModel  *ai.UnknownModelError
		providerErr   *ai.ProviderError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case publish.IsValidation(err),
		errors.As(err, &missingTarget),
		errors.As(err, &missingInput),
		errors.As(err, &unsupported),
		errors.As(err, &unknownModel):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &missingCred),
		errors.As(err, &unavailable),
		errors.As(err, &refreshFailed):
		return http.StatusUnauthorized
	case errors.As(err, &quota):
		return http.StatusTooManyRequests
	case errors.As(err, &actor), errors.As(err, &providerErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

package tokens

import (
	"fmt"
	"strings"
)

const (
	ReasonNoRefreshToken = "no refresh token is stored"
	ReasonNoClient       = "no oauth client is configured for the provider"
)

// RefreshUnavailableError means the token is expiring and cannot be refreshed.
type RefreshUnavailableError struct {
	Provider     string
	ConnectionID string
	Reason       string
}

func (e *RefreshUnavailableError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = ReasonNoRefreshToken
	}
	return fmt.Sprintf("%s access token for connection %s is expired or about to expire and %s; user must re-authenticate", e.Provider, e.ConnectionID, reason)
}

// RefreshFailedError wraps a rejected or failed refresh-token grant.
type RefreshFailedError struct {
	Provider     string
	ConnectionID string
	StatusCode   int
	Body         string
	Err          error
}

func (e *RefreshFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s token refresh failed", e.Provider)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	b.WriteString("; user must re-authenticate")
	return b.String()
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

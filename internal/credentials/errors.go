package credentials

import "fmt"

// MissingTargetError means the request did not name the page or connection the platform needs.
type MissingTargetError struct {
	Platform string
	Field    string
}

func (e *MissingTargetError) Error() string {
	return "missing " + e.Field
}

// NotFoundError means no record matches the requested page or connection.
type NotFoundError struct {
	Platform string
	Kind     Kind
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s %q not found", e.Platform, e.Kind, e.ID)
}

// MissingCredentialError means the record exists but carries no access token.
type MissingCredentialError struct {
	Platform string
	Kind     Kind
	ID       string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s %s %q has no access token; reconnect the account", e.Platform, e.Kind, e.ID)
}

type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q", e.Platform)
}

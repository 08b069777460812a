// Package credentials looks up the token-bearing record a platform call should use.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/store"
)

// TargetPolicy says which identifiers a platform can publish through.
type TargetPolicy int

const (
	// ConnectionOnly platforms publish as the linked account (twitter, reddit).
	ConnectionOnly TargetPolicy = iota
	// PageOnly platforms publish through a page record (instagram).
	PageOnly
	// PageOrConnection platforms publish as a page when one is named, otherwise to the account's own feed.
	PageOrConnection
)

func (p TargetPolicy) String() string {
	switch p {
	case PageOnly:
		return "page"
	case PageOrConnection:
		return "page_or_connection"
	default:
		return "connection"
	}
}

type Kind string

const (
	KindPage       Kind = "page"
	KindConnection Kind = "connection"
)

// Credential is the resolved token plus enough identity to address the provider API.
type Credential struct {
	Platform     string
	Kind         Kind
	RecordID     string // social_connections.id or social_pages.id
	ConnectionID string
	UserID       string
	PlatformID   string // provider-native page id or account id
	Name         string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type Target struct {
	PageID       string
	ConnectionID string
	// UserID, when set, restricts resolution to records owned by that user.
	UserID string
}

type Store interface {
	GetConnection(ctx context.Context, id string) (*models.SocialConnection, error)
	GetPage(ctx context.Context, provider, pageID, userID string) (*models.SocialPage, error)
}

type Resolver struct {
	store    Store
	policies map[string]TargetPolicy
}

func NewResolver(s Store, policies map[string]TargetPolicy) *Resolver {
	cp := make(map[string]TargetPolicy, len(policies))
	for k, v := range policies {
		cp[strings.ToLower(k)] = v
	}
	return &Resolver{store: s, policies: cp}
}

// Policy reports the target policy registered for a platform.
func (r *Resolver) Policy(platform string) (TargetPolicy, bool) {
	p, ok := r.policies[strings.ToLower(platform)]
	return p, ok
}

// CheckTarget validates that t carries the identifier the policy needs.
func CheckTarget(policy TargetPolicy, platform string, t Target) error {
	switch policy {
	case PageOnly, PageOrConnection:
		if strings.TrimSpace(t.PageID) != "" {
			return nil
		}
		if policy == PageOrConnection && strings.TrimSpace(t.ConnectionID) != "" {
			return nil
		}
		return &MissingTargetError{Platform: platform, Field: "page_id"}
	default:
		if strings.TrimSpace(t.ConnectionID) == "" {
			return &MissingTargetError{Platform: platform, Field: "connection_id"}
		}
		return nil
	}
}

// Resolve fetches exactly one credential record for the platform and target.
func (r *Resolver) Resolve(ctx context.Context, platform string, t Target) (*Credential, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	policy, ok := r.Policy(platform)
	if !ok {
		return nil, &UnsupportedPlatformError{Platform: platform}
	}
	if err := CheckTarget(policy, platform, t); err != nil {
		return nil, err
	}
	if policy != ConnectionOnly && strings.TrimSpace(t.PageID) != "" {
		return r.resolvePage(ctx, platform, strings.TrimSpace(t.PageID), t.UserID)
	}
	return r.resolveConnection(ctx, platform, strings.TrimSpace(t.ConnectionID), t.UserID)
}

func (r *Resolver) resolvePage(ctx context.Context, platform, pageID, userID string) (*Credential, error) {
	page, err := r.store.GetPage(ctx, platform, pageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Platform: platform, Kind: KindPage, ID: pageID}
		}
		return nil, fmt.Errorf("load %s page %s: %w", platform, pageID, err)
	}
	if userID != "" && page.UserID != userID {
		return nil, &NotFoundError{Platform: platform, Kind: KindPage, ID: pageID}
	}
	token := strings.TrimSpace(models.Deref(page.PageAccessToken))
	if token == "" {
		return nil, &MissingCredentialError{Platform: platform, Kind: KindPage, ID: pageID}
	}
	return &Credential{
		Platform:     platform,
		Kind:         KindPage,
		RecordID:     page.ID,
		ConnectionID: page.ConnectionID,
		UserID:       page.UserID,
		PlatformID:   page.PageID,
		Name:         models.Deref(page.PageName),
		AccessToken:  token,
	}, nil
}

func (r *Resolver) resolveConnection(ctx context.Context, platform, connectionID, userID string) (*Credential, error) {
	conn, err := r.store.GetConnection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Platform: platform, Kind: KindConnection, ID: connectionID}
		}
		return nil, fmt.Errorf("load %s connection %s: %w", platform, connectionID, err)
	}
	if !strings.EqualFold(conn.Provider, platform) || (userID != "" && conn.UserID != userID) {
		return nil, &NotFoundError{Platform: platform, Kind: KindConnection, ID: connectionID}
	}
	return FromConnection(conn)
}

// FromConnection converts a stored connection into a credential, failing when the token is empty.
func FromConnection(conn *models.SocialConnection) (*Credential, error) {
	platform := strings.ToLower(conn.Provider)
	token := strings.TrimSpace(models.Deref(conn.OAuthUserToken))
	if token == "" {
		return nil, &MissingCredentialError{Platform: platform, Kind: KindConnection, ID: conn.ID}
	}
	return &Credential{
		Platform:     platform,
		Kind:         KindConnection,
		RecordID:     conn.ID,
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		PlatformID:   conn.AccountID,
		Name:         models.Deref(conn.AccountName),
		AccessToken:  token,
		RefreshToken: strings.TrimSpace(models.Deref(conn.OAuthRefreshToken)),
		ExpiresAt:    conn.TokenExpiresAt,
	}, nil
}

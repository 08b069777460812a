package models

import "time"

// Providers understood by the publisher.
const (
	ProviderFacebook  = "facebook"
	ProviderInstagram = "instagram"
	ProviderTwitter   = "twitter"
	ProviderLinkedIn  = "linkedin"
	ProviderReddit    = "reddit"
)

// Post statuses.
const (
	PostStatusScheduled  = "scheduled"
	PostStatusPublishing = "publishing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
)

// SocialConnection is an account-level OAuth credential created by the linking flow.
type SocialConnection struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Provider          string     `json:"provider"`
	AccountID         string     `json:"accountId"`
	AccountName       *string    `json:"accountName,omitempty"`
	OAuthUserToken    *string    `json:"-"`
	OAuthRefreshToken *string    `json:"-"`
	TokenExpiresAt    *time.Time `json:"tokenExpiresAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// SocialPage is a page/organization publishing target owned by a connection.
type SocialPage struct {
	ID              string    `json:"id"`
	ConnectionID    string    `json:"connectionId"`
	UserID          string    `json:"userId"`
	Provider        string    `json:"provider"`
	PageID          string    `json:"pageId"`
	PageName        *string   `json:"pageName,omitempty"`
	PageAccessToken *string   `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Brand struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Voice       *string  `json:"voice,omitempty"`
	Audience    *string  `json:"audience,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

type Campaign struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	BrandID     *string   `json:"brandId,omitempty"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Goal        *string   `json:"goal,omitempty"`
	Platforms   []string  `json:"platforms"`
	MediaURL    *string   `json:"mediaUrl,omitempty"`
	AIModel     *string   `json:"aiModel,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Post struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CampaignID     *string    `json:"campaignId,omitempty"`
	Platform       string     `json:"platform"`
	PageID         *string    `json:"pageId,omitempty"`
	ConnectionID   *string    `json:"connectionId,omitempty"`
	Content        string     `json:"content"`
	MediaURL       *string    `json:"mediaUrl,omitempty"`
	Status         string     `json:"status"`
	ScheduledFor   *time.Time `json:"scheduledFor,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	ExternalPostID *string    `json:"externalPostId,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// PublishTarget is one place a user can publish to: a page, or the account itself.
type PublishTarget struct {
	Platform     string  `json:"platform"`
	PageID       string  `json:"pageId,omitempty"`
	PageName     *string `json:"pageName,omitempty"`
	ConnectionID string  `json:"connectionId,omitempty"`
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

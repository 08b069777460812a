package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TokenUpdate carries the result of a refresh. RefreshToken is nil when the provider
// did not rotate it. PrevExpiresAt is the expiry the caller observed before refreshing;
// the update only applies if the row still holds that value.
type TokenUpdate struct {
	AccessToken   string
	RefreshToken  *string
	ExpiresAt     *time.Time
	PrevExpiresAt *time.Time
}

// PostCompletion records the outcome of a publish attempt for a post row.
type PostCompletion struct {
	Success        bool
	ExternalPostID string
	Error          string
}

// Postgres is the database/sql backed store used by the API and workers.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying handle (health checks, migrations).
func (s *Postgres) DB() *sql.DB { return s.db }

const connectionColumns = `id, user_id, provider, account_id, account_name, oauth_user_token, oauth_refresh_token, token_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.SocialConnection, error) {
	var (
		c       models.SocialConnection
		name    sql.NullString
		access  sql.NullString
		refresh sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.AccountID, &name, &access, &refresh, &expires, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.AccountName = nullStringPtr(name)
	c.OAuthUserToken = nullStringPtr(access)
	c.OAuthRefreshToken = nullStringPtr(refresh)
	c.TokenExpiresAt = nullTimePtr(expires)
	return &c, nil
}

func (s *Postgres) GetConnection(ctx context.Context, id string) (*models.SocialConnection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM public.social_connections WHERE id = $1`, id)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetPage returns the newest row for the page among those owned by userID.
// Several connections may hold the same page; an empty userID matches any owner.
func (s *Postgres) GetPage(ctx context.Context, provider, pageID, userID string) (*models.SocialPage, error) {
	var (
		p     models.SocialPage
		name  sql.NullString
		token sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.connection_id, c.user_id, p.provider, p.page_id, p.page_name, p.page_access_token, p.created_at
		  FROM public.social_pages p
		  JOIN public.social_connections c ON c.id = p.connection_id
		 WHERE p.provider = $1
		   AND p.page_id = $2
		   AND ($3 = '' OR c.user_id = $3)
		 ORDER BY p.created_at DESC
		 LIMIT 1
	`, provider, pageID, userID).Scan(&p.ID, &p.ConnectionID, &p.UserID, &p.Provider, &p.PageID, &name, &token, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.PageName = nullStringPtr(name)
	p.PageAccessToken = nullStringPtr(token)
	return &p, nil
}

// UpdateConnectionTokens stores a refreshed token pair. It is a compare-and-swap on
// token_expires_at: applied=false means another writer got there first.
func (s *Postgres) UpdateConnectionTokens(ctx context.Context, id string, u TokenUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.social_connections
		   SET oauth_user_token = $2,
		       oauth_refresh_token = COALESCE($3::text, oauth_refresh_token),
		       token_expires_at = $4,
		       updated_at = NOW()
		 WHERE id = $1
		   AND token_expires_at IS NOT DISTINCT FROM $5::timestamptz
	`, id, u.AccessToken, u.RefreshToken, u.ExpiresAt, u.PrevExpiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListExpiringConnections returns refreshable connections of a provider whose tokens expire before the cutoff.
func (s *Postgres) ListExpiringConnections(ctx context.Context, provider string, before time.Time, limit int) ([]*models.SocialConnection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		  FROM public.social_connections
		 WHERE provider = $1
		   AND token_expires_at IS NOT NULL
		   AND token_expires_at <= $2
		   AND COALESCE(oauth_refresh_token, '') <> ''
		 ORDER BY token_expires_at ASC
		 LIMIT $3
	`, provider, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.SocialConnection, 0)
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPublishTargets returns the user's connections for the given platforms, one row per
// owned page (or a single row with an empty PageID for connections without pages).
func (s *Postgres) ListPublishTargets(ctx context.Context, userID string, platforms []string) ([]models.PublishTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.provider, c.id, COALESCE(p.page_id, ''), p.page_name
		  FROM public.social_connections c
		  LEFT JOIN public.social_pages p ON p.connection_id = c.id
		 WHERE c.user_id = $1
		   AND c.provider = ANY($2)
		 ORDER BY c.provider, c.created_at, p.page_name
	`, userID, pq.Array(platforms))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.PublishTarget, 0)
	for rows.Next() {
		var (
			t    models.PublishTarget
			name sql.NullString
		)
		if err := rows.Scan(&t.Platform, &t.ConnectionID, &t.PageID, &name); err != nil {
			return nil, err
		}
		t.PageName = nullStringPtr(name)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var (
		c         models.Campaign
		brandID   sql.NullString
		desc      sql.NullString
		goal      sql.NullString
		mediaURL  sql.NullString
		aiModel   sql.NullString
		platforms []string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, brand_id, name, description, goal,
		       COALESCE(platforms, ARRAY[]::text[]), media_url, ai_model, status, created_at
		  FROM public.campaigns
		 WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &brandID, &c.Name, &desc, &goal, pq.Array(&platforms), &mediaURL, &aiModel, &c.Status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.BrandID = nullStringPtr(brandID)
	c.Description = nullStringPtr(desc)
	c.Goal = nullStringPtr(goal)
	c.MediaURL = nullStringPtr(mediaURL)
	c.AIModel = nullStringPtr(aiModel)
	c.Platforms = platforms
	return &c, nil
}

const brandColumns = `id, user_id, name, description, voice, audience, COALESCE(keywords, ARRAY[]::text[])`

func scanBrand(row rowScanner) (*models.Brand, error) {
	var (
		b        models.Brand
		desc     sql.NullString
		voice    sql.NullString
		audience sql.NullString
		keywords []string
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.Name, &desc, &voice, &audience, pq.Array(&keywords)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Description = nullStringPtr(desc)
	b.Voice = nullStringPtr(voice)
	b.Audience = nullStringPtr(audience)
	b.Keywords = keywords
	return &b, nil
}

func (s *Postgres) GetBrand(ctx context.Context, id string) (*models.Brand, error) {
	return scanBrand(s.db.QueryRowContext(ctx, `SELECT `+brandColumns+` FROM public.brands WHERE id = $1`, id))
}

// GetBrandForUser returns the user's most recently created brand.
func (s *Postgres) GetBrandForUser(ctx context.Context, userID string) (*models.Brand, error) {
	return scanBrand(s.db.QueryRowContext(ctx, `
		SELECT `+brandColumns+`
		  FROM public.brands
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1
	`, userID))
}

func (s *Postgres) InsertPost(ctx context.Context, p *models.Post) error {
	if p == nil {
		return fmt.Errorf("post is nil")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.posts
		  (id, user_id, campaign_id, platform, page_id, connection_id, content, media_url, status,
		   scheduled_for, published_at, external_post_id, error, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.UserID, p.CampaignID, p.Platform, p.PageID, p.ConnectionID, p.Content, p.MediaURL, p.Status,
		p.ScheduledFor, p.PublishedAt, p.ExternalPostID, p.Error, p.CreatedAt, p.UpdatedAt)
	return err
}

// ClaimDuePosts atomically moves due scheduled posts to "publishing" and returns them.
// SKIP LOCKED keeps concurrent instances from claiming the same rows.
func (s *Postgres) ClaimDuePosts(ctx context.Context, limit int) ([]*models.Post, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE public.posts
		   SET status = 'publishing',
		       last_attempt_at = NOW(),
		       updated_at = NOW()
		 WHERE id IN (
		       SELECT id
		         FROM public.posts
		        WHERE status = 'scheduled'
		          AND scheduled_for IS NOT NULL
		          AND scheduled_for <= NOW()
		        ORDER BY scheduled_for ASC
		        LIMIT $1
		        FOR UPDATE SKIP LOCKED)
		RETURNING id, user_id, campaign_id, platform, page_id, connection_id, content, media_url, scheduled_for
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Post, 0)
	for rows.Next() {
		var (
			p          models.Post
			campaignID sql.NullString
			pageID     sql.NullString
			connID     sql.NullString
			mediaURL   sql.NullString
			scheduled  sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.UserID, &campaignID, &p.Platform, &pageID, &connID, &p.Content, &mediaURL, &scheduled); err != nil {
			return nil, err
		}
		p.CampaignID = nullStringPtr(campaignID)
		p.PageID = nullStringPtr(pageID)
		p.ConnectionID = nullStringPtr(connID)
		p.MediaURL = nullStringPtr(mediaURL)
		p.ScheduledFor = nullTimePtr(scheduled)
		p.Status = models.PostStatusPublishing
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Postgres) CompletePost(ctx context.Context, id string, c PostCompletion) error {
	status := models.PostStatusFailed
	if c.Success {
		status = models.PostStatusPublished
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.posts
		   SET status = $2,
		       published_at = CASE WHEN $2 = 'published' THEN NOW() ELSE published_at END,
		       external_post_id = NULLIF($3, ''),
		       error = NULLIF($4, ''),
		       updated_at = NOW()
		 WHERE id = $1
	`, id, status, c.ExternalPostID, c.Error)
	return err
}

// ConsumeRequests implements basic daily quota tracking. It returns ok=false when the daily max would be exceeded.
func (s *Postgres) ConsumeRequests(ctx context.Context, provider string, add int64, dailyMax int64) (ok bool, used int64, err error) {
	if add <= 0 {
		return true, 0, nil
	}
	day := time.Now().UTC().Format("2006-01-02")
	id := fmt.Sprintf("%s:%s", provider, day)
	var newUsed int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO public.api_usage (id, provider, day, requests_used, last_updated_at)
		VALUES ($1, $2, $3::date, $4, NOW())
		ON CONFLICT (provider, day) DO UPDATE SET
		  requests_used = public.api_usage.requests_used + EXCLUDED.requests_used,
		  last_updated_at = NOW()
		RETURNING requests_used
	`, id, provider, day, add).Scan(&newUsed); err != nil {
		return false, 0, err
	}
	if dailyMax > 0 && newUsed > dailyMax {
		return false, newUsed, nil
	}
	return true, newUsed, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

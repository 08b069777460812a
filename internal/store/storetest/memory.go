// Package storetest provides an in-memory store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/store"
)

// Memory mirrors the Postgres store semantics closely enough for component and BDD tests.
type Memory struct {
	mu          sync.Mutex
	connections map[string]models.SocialConnection
	pages       []models.SocialPage
	brands      map[string]models.Brand
	campaigns   map[string]models.Campaign
	posts       map[string]models.Post
	usage       map[string]int64

	// TokenUpdateErr, when set, is returned by UpdateConnectionTokens.
	TokenUpdateErr error
	tokenUpdates   int
}

func NewMemory() *Memory {
	return &Memory{
		connections: map[string]models.SocialConnection{},
		brands:      map[string]models.Brand{},
		campaigns:   map[string]models.Campaign{},
		posts:       map[string]models.Post{},
		usage:       map[string]int64{},
	}
}

func (m *Memory) PutConnection(c models.SocialConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.connections[c.ID] = c
}

func (m *Memory) PutPage(p models.SocialPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[p.ConnectionID]; ok && p.UserID == "" {
		p.UserID = c.UserID
	}
	m.pages = append(m.pages, p)
}

func (m *Memory) PutBrand(b models.Brand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brands[b.ID] = b
}

func (m *Memory) PutCampaign(c models.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
}

func (m *Memory) PutPost(p models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = p
}

// Connection returns a copy of the stored connection.
func (m *Memory) Connection(id string) (models.SocialConnection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	return c, ok
}

// Posts returns copies of all stored posts ordered by id.
func (m *Memory) Posts() []models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TokenUpdates reports how many token updates were applied.
func (m *Memory) TokenUpdates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenUpdates
}

func (m *Memory) GetConnection(_ context.Context, id string) (*models.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) GetPage(_ context.Context, provider, pageID, userID string) (*models.SocialPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.pages) - 1; i >= 0; i-- {
		p := m.pages[i]
		if p.Provider == provider && p.PageID == pageID && (userID == "" || p.UserID == userID) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) UpdateConnectionTokens(_ context.Context, id string, u store.TokenUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TokenUpdateErr != nil {
		return false, m.TokenUpdateErr
	}
	c, ok := m.connections[id]
	if !ok {
		return false, nil
	}
	if !sameTime(c.TokenExpiresAt, u.PrevExpiresAt) {
		return false, nil
	}
	tok := u.AccessToken
	c.OAuthUserToken = &tok
	if u.RefreshToken != nil {
		rt := *u.RefreshToken
		c.OAuthRefreshToken = &rt
	}
	c.TokenExpiresAt = u.ExpiresAt
	c.UpdatedAt = time.Now().UTC()
	m.connections[id] = c
	m.tokenUpdates++
	return true, nil
}

func (m *Memory) ListExpiringConnections(_ context.Context, provider string, before time.Time, limit int) ([]*models.SocialConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SocialConnection, 0)
	for _, c := range m.connections {
		if c.Provider != provider || c.TokenExpiresAt == nil || c.TokenExpiresAt.After(before) {
			continue
		}
		if models.Deref(c.OAuthRefreshToken) == "" {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiresAt.Before(*out[j].TokenExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListPublishTargets(_ context.Context, userID string, platforms []string) ([]models.PublishTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, p := range platforms {
		want[p] = true
	}
	conns := make([]models.SocialConnection, 0)
	for _, c := range m.connections {
		if c.UserID == userID && want[c.Provider] {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].Provider != conns[j].Provider {
			return conns[i].Provider < conns[j].Provider
		}
		return conns[i].ID < conns[j].ID
	})
	out := make([]models.PublishTarget, 0)
	for _, c := range conns {
		found := false
		for _, p := range m.pages {
			if p.ConnectionID != c.ID {
				continue
			}
			found = true
			out = append(out, models.PublishTarget{Platform: c.Provider, ConnectionID: c.ID, PageID: p.PageID, PageName: p.PageName})
		}
		if !found {
			out = append(out, models.PublishTarget{Platform: c.Provider, ConnectionID: c.ID})
		}
	}
	return out, nil
}

func (m *Memory) GetCampaign(_ context.Context, id string) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) GetBrand(_ context.Context, id string) (*models.Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.brands[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (m *Memory) GetBrandForUser(_ context.Context, userID string) (*models.Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.brands {
		if b.UserID == userID {
			bb := b
			return &bb, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) InsertPost(_ context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.posts[p.ID] = *p
	return nil
}

func (m *Memory) ClaimDuePosts(_ context.Context, limit int) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	due := make([]models.Post, 0)
	for _, p := range m.posts {
		if p.Status == models.PostStatusScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(*due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.Post, 0, len(due))
	for _, p := range due {
		p.Status = models.PostStatusPublishing
		m.posts[p.ID] = p
		pp := p
		out = append(out, &pp)
	}
	return out, nil
}

func (m *Memory) CompletePost(_ context.Context, id string, c store.PostCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Success {
		now := time.Now().UTC()
		p.Status = models.PostStatusPublished
		p.PublishedAt = &now
	} else {
		p.Status = models.PostStatusFailed
	}
	p.ExternalPostID = models.Str(c.ExternalPostID)
	p.Error = models.Str(c.Error)
	m.posts[id] = p
	return nil
}

func (m *Memory) ConsumeRequests(_ context.Context, provider string, add int64, dailyMax int64) (bool, int64, error) {
	if add <= 0 {
		return true, 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + ":" + time.Now().UTC().Format("2006-01-02")
	m.usage[key] += add
	used := m.usage[key]
	if dailyMax > 0 && used > dailyMax {
		return false, used, nil
	}
	return true, used, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/middleware"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/prompt"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type campaignPostsRequest struct {
	CampaignID string `json:"campaign_id"`
}

type campaignPostResult struct {
	Platform string `json:"platform"`
	PageName string `json:"page_name,omitempty"`
	Success  bool   `json:"success"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type campaignPostsResponse struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message"`
	CampaignID string               `json:"campaign_id"`
	Posts      []campaignPostResult `json:"posts"`
}

// GenerateCampaignPosts handles POST /generate-campaign-posts. Every publish target the campaign owner
// has for the campaign's platforms gets AI-written content, is published, and is recorded as a post.
func (h *Handler) GenerateCampaignPosts(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if h.store == nil || h.orchestrator == nil {
		writeError(w, http.StatusInternalServerError, "campaign publishing is not configured")
		return
	}
	var req campaignPostsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "missing campaign_id")
		return
	}

	ctx := r.Context()
	camp, err := h.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if authed := middleware.UserID(ctx); authed != "" && authed != camp.UserID {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	log := h.logger.WithFields(logrus.Fields{"campaign_id": camp.ID, "user_id": camp.UserID})

	brand, err := h.campaignBrand(ctx, camp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows, err := h.store.ListPublishTargets(ctx, camp.UserID, normalizePlatforms(camp.Platforms))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobs := h.orchestrator.ExpandTargets(camp.UserID, rows)
	if len(jobs) == 0 {
		writeJSON(w, http.StatusOK, campaignPostsResponse{
			Success:    false,
			Message:    "No connected accounts for this campaign's platforms",
			CampaignID: camp.ID,
			Posts:      []campaignPostResult{},
		})
		return
	}

	now := h.now()
	content, genErrs := h.generateForPlatforms(ctx, camp, brand, jobs, now)
	results := make([]publish.PlatformResult, len(jobs))
	runnable := make([]publish.Job, 0, len(jobs))
	slots := make([]int, 0, len(jobs))
	for i, j := range jobs {
		if err, ok := genErrs[j.Platform]; ok {
			results[i] = publish.PlatformResult{Platform: j.Platform, PageID: j.Target.PageID, PageName: j.PageName, Error: "content generation failed: " + err.Error()}
			continue
		}
		j.Content = content[j.Platform]
		j.MediaURL = models.Deref(camp.MediaURL)
		jobs[i] = j
		runnable = append(runnable, j)
		slots = append(slots, i)
	}
	for k, res := range h.orchestrator.PublishTargets(ctx, runnable) {
		results[slots[k]] = res
	}

	posts := make([]campaignPostResult, len(results))
	for i, res := range results {
		h.recordCampaignPost(ctx, log, camp, jobs[i], res)
		posts[i] = campaignPostResult{
			Platform: res.Platform,
			PageName: res.PageName,
			Success:  res.Success,
			PostID:   res.PostID,
			Error:    res.Error,
		}
	}
	out := publish.Summarize(results)
	log.WithField("success", out.Success).Info("[CampaignPosts] " + out.Message)
	h.NotifyPublishCompleted(camp.UserID, camp.ID, out)
	writeJSON(w, http.StatusOK, campaignPostsResponse{
		Success:    out.Success,
		Message:    out.Message,
		CampaignID: camp.ID,
		Posts:      posts,
	})
}

func (h *Handler) campaignBrand(ctx context.Context, camp *models.Campaign) (*models.Brand, error) {
	if id := models.Deref(camp.BrandID); id != "" {
		b, err := h.store.GetBrand(ctx, id)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return h.brandForUser(ctx, camp.UserID)
}

// generateForPlatforms asks the model once per distinct platform.
func (h *Handler) generateForPlatforms(ctx context.Context, camp *models.Campaign, brand *models.Brand, jobs []publish.Job, now time.Time) (map[string]string, map[string]error) {
	content := map[string]string{}
	failed := map[string]error{}
	for _, j := range jobs {
		if _, done := content[j.Platform]; done {
			continue
		}
		if _, done := failed[j.Platform]; done {
			continue
		}
		if h.generator == nil {
			failed[j.Platform] = errors.New("ai generation is not configured")
			continue
		}
		text, err := h.generator.Generate(ctx, models.Deref(camp.AIModel), prompt.Build(brand, prompt.Subject{Campaign: camp}, j.Platform, now))
		if err != nil {
			failed[j.Platform] = err
			continue
		}
		posts := prompt.SplitPosts(text)
		if len(posts) == 0 {
			failed[j.Platform] = errors.New("ai returned empty content")
			continue
		}
		content[j.Platform] = posts[0]
	}
	return content, failed
}

func (h *Handler) recordCampaignPost(ctx context.Context, log logrus.FieldLogger, camp *models.Campaign, job publish.Job, res publish.PlatformResult) {
	now := h.now().UTC()
	p := &models.Post{
		ID:             uuid.NewString(),
		UserID:         camp.UserID,
		CampaignID:     models.Str(camp.ID),
		Platform:       res.Platform,
		PageID:         models.Str(job.Target.PageID),
		ConnectionID:   models.Str(job.Target.ConnectionID),
		Content:        job.Content,
		MediaURL:       camp.MediaURL,
		Status:         models.PostStatusFailed,
		ExternalPostID: models.Str(res.PostID),
		Error:          models.Str(res.Error),
	}
	if res.Success {
		p.Status = models.PostStatusPublished
		p.PublishedAt = &now
	}
	if err := h.store.InsertPost(ctx, p); err != nil {
		log.WithError(err).WithField("platform", res.Platform).Error("[CampaignPosts] record post failed")
	}
}

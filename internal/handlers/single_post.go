package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/middleware"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/prompt"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	actionPost               = "post"
	actionGenerate           = "generate"
	actionGenerateJourneyMap = "generate_journey_map"
)

type singlePostRequest struct {
	UserID             string   `json:"user_id"`
	Action             string   `json:"action"`
	SelectedPost       string   `json:"selected_post"`
	Platforms          []string `json:"platforms"`
	PageID             string   `json:"page_id"`
	SocialConnectionID string   `json:"social_connection_id"`
	MediaURL           string   `json:"media_url"`
	Prompt             string   `json:"prompt"`
	AIModelName        string   `json:"ai_model_name"`
}

// SinglePost handles POST /single-post for the post, generate and generate_journey_map actions.
func (h *Handler) SinglePost(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req singlePostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}
	if authed := middleware.UserID(r.Context()); authed != "" && authed != req.UserID {
		writeError(w, http.StatusForbidden, "user_id does not match the authenticated user")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case actionPost:
		h.singlePostPublish(w, r, req)
	case actionGenerate:
		h.singlePostGenerate(w, r, req)
	case actionGenerateJourneyMap:
		h.singlePostJourneyMap(w, r, req)
	case "":
		writeError(w, http.StatusBadRequest, "missing action")
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (h *Handler) singlePostPublish(w http.ResponseWriter, r *http.Request, req singlePostRequest) {
	if h.orchestrator == nil {
		writeError(w, http.StatusInternalServerError, "publishing is not configured")
		return
	}
	preq := publish.Request{
		UserID:    req.UserID,
		Content:   req.SelectedPost,
		MediaURL:  strings.TrimSpace(req.MediaURL),
		Platforms: normalizePlatforms(req.Platforms),
		Target: credentials.Target{
			PageID:       strings.TrimSpace(req.PageID),
			ConnectionID: strings.TrimSpace(req.SocialConnectionID),
		},
	}
	if err := h.orchestrator.Validate(preq); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := h.orchestrator.Publish(r.Context(), preq)
	h.logger.WithFields(logrus.Fields{
		"user_id":   req.UserID,
		"platforms": strings.Join(preq.Platforms, ","),
		"success":   out.Success,
	}).Info("[SinglePost] " + out.Message)
	h.NotifyPublishCompleted(req.UserID, "", out)
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) singlePostGenerate(w http.ResponseWriter, r *http.Request, req singlePostRequest) {
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "missing prompt")
		return
	}
	platforms := normalizePlatforms(req.Platforms)
	if len(platforms) == 0 {
		writeError(w, http.StatusBadRequest, "platforms must list at least one platform")
		return
	}
	if err := h.checkPlatforms(platforms); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.generator == nil {
		writeError(w, http.StatusInternalServerError, "ai generation is not configured")
		return
	}

	brand, err := h.brandForUser(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	text := prompt.BuildMulti(brand, prompt.Subject{Prompt: req.Prompt}, platforms, h.now())
	raw, err := h.generator.Generate(r.Context(), req.AIModelName, text)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	posts := prompt.SplitPosts(raw)
	if len(posts) == 0 {
		writeError(w, http.StatusBadGateway, "ai returned no usable posts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (h *Handler) singlePostJourneyMap(w http.ResponseWriter, r *http.Request, req singlePostRequest) {
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "missing prompt")
		return
	}
	if h.generator == nil {
		writeError(w, http.StatusInternalServerError, "ai generation is not configured")
		return
	}
	brand, err := h.brandForUser(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	raw, err := h.generator.Generate(r.Context(), req.AIModelName, prompt.BuildJourneyMap(brand, req.Prompt, h.now()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"journey_map": strings.TrimSpace(raw)})
}

// checkPlatforms rejects names the registry does not know.
func (h *Handler) checkPlatforms(names []string) error {
	if h.orchestrator == nil {
		return nil
	}
	for _, p := range names {
		if _, ok := h.orchestrator.Registry().Get(p); !ok {
			return fmt.Errorf("unsupported platform %q", p)
		}
	}
	return nil
}

// brandForUser returns the user's brand, or nil when none is stored.
func (h *Handler) brandForUser(ctx context.Context, userID string) (*models.Brand, error) {
	if h.store == nil {
		return nil, nil
	}
	b, err := h.store.GetBrandForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

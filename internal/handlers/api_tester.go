package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/middleware"
	"github.com/PortNumber53/social-publisher/internal/platforms"
	"github.com/sirupsen/logrus"
)

type apiTesterRequest struct {
	Platform     string `json:"platform"`
	Feature      string `json:"feature"`
	ConnectionID string `json:"connection_id"`
	PageID       string `json:"page_id"`
	Content      string `json:"content"`
	MediaURL     string `json:"media_url"`
	PostID       string `json:"post_id"`
	Limit        int    `json:"limit"`
}

type apiTesterResponse struct {
	Success bool `json:"success"`
	*platforms.APIResult
}

// APITester handles POST /api-tester: one raw provider call on behalf of the authenticated user.
// Provider answers, including non-2xx ones, come back as 200 with success=false and the raw body.
func (h *Handler) APITester(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.orchestrator == nil || h.resolver == nil {
		writeError(w, http.StatusInternalServerError, "api tester is not configured")
		return
	}

	var req apiTesterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if platform == "" {
		writeError(w, http.StatusBadRequest, "missing platform")
		return
	}
	if strings.TrimSpace(req.Feature) == "" {
		writeError(w, http.StatusBadRequest, "missing feature")
		return
	}
	action, ok := platforms.ParseAction(req.Feature)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown feature %q", req.Feature))
		return
	}
	pub, ok := h.orchestrator.Registry().Get(platform)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported platform %q", platform))
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"platform":      platform,
		"feature":       string(action),
		"user_id":       userID,
		"connection_id": req.ConnectionID,
		"page_id":       req.PageID,
	})
	fail := func(err error) {
		status := statusFor(err)
		log.WithError(err).WithField("status", status).Warn("[APITester] failed")
		h.metrics.RecordAPITest(platform, string(action), status)
		writeError(w, status, err.Error())
	}

	cred, err := h.resolver.Resolve(r.Context(), platform, credentials.Target{
		PageID:       strings.TrimSpace(req.PageID),
		ConnectionID: strings.TrimSpace(req.ConnectionID),
		UserID:       userID,
	})
	if err != nil {
		fail(err)
		return
	}
	if h.refresher != nil && cred.Kind == credentials.KindConnection && h.refresher.Supports(platform) {
		if _, err := h.refresher.EnsureValid(r.Context(), cred); err != nil {
			fail(err)
			return
		}
	}

	res, err := pub.Run(r.Context(), action, cred, platforms.ActionInput{
		Content:  req.Content,
		MediaURL: strings.TrimSpace(req.MediaURL),
		PostID:   strings.TrimSpace(req.PostID),
		Limit:    req.Limit,
	})
	if err != nil {
		fail(err)
		return
	}
	h.metrics.RecordAPITest(platform, string(action), res.StatusCode)
	log.WithField("status", res.StatusCode).Info("[APITester] " + res.Summary)
	writeJSON(w, http.StatusOK, apiTesterResponse{Success: res.OK(), APIResult: res})
}

package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/textutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	eventHello            = "hello"
	eventPing             = "ping"
	eventPublishCompleted = "publish.completed"

	wsPingInterval = 25 * time.Second
)

type realtimeHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *realtimeHub) add(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		m = make(map[*websocket.Conn]struct{})
		h.conns[userID] = m
	}
	m[c] = struct{}{}
}

func (h *realtimeHub) remove(userID string, c *websocket.Conn) {
	if h == nil || c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, userID)
	}
}

func (h *realtimeHub) broadcast(userID string, msg []byte) {
	if h == nil || len(msg) == 0 {
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := websocket.Message.Send(c, string(msg)); err != nil {
			_ = c.Close()
			h.remove(userID, c)
		}
	}
}

func (h *realtimeHub) count(userID string) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// wsAllowed admits loopback callers, and others only when they present the shared secret.
func (h *Handler) wsAllowed(r *http.Request) bool {
	if isLoopback(r.RemoteAddr) {
		return true
	}
	sec := strings.TrimSpace(h.wsSecret)
	if sec == "" {
		return false
	}
	return strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret")) == sec
}

type realtimeEvent struct {
	Type       string                   `json:"type"`
	UserID     string                   `json:"user_id"`
	CampaignID string                   `json:"campaign_id,omitempty"`
	Success    *bool                    `json:"success,omitempty"`
	Message    string                   `json:"message,omitempty"`
	Results    []publish.PlatformResult `json:"results,omitempty"`
	At         string                   `json:"at"`
}

// EventsWebSocket streams publish events for one user to an internal proxy.
//
// URL: /api/events/ws?userId=...
// Auth: X-Internal-WS-Secret, or loopback only when no secret is configured.
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.wsAllowed(r) {
		h.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "host": r.Host}).Warn("[RealtimeWS] forbidden")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	wsServer := websocket.Server{
		// The default origin check rejects proxied connections; access is decided by wsAllowed.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(c *websocket.Conn) {
			log := h.logger.WithFields(logrus.Fields{"user_id": userID, "remote": r.RemoteAddr})
			log.WithField("ua", textutil.Clip(r.UserAgent(), 120)).Info("[RealtimeWS] connect")
			h.rt.add(userID, c)
			defer h.rt.remove(userID, c)
			defer log.Info("[RealtimeWS] disconnect")

			h.sendEvent(c, realtimeEvent{Type: eventHello, UserID: userID})

			done := make(chan struct{})
			var doneOnce sync.Once
			closeDone := func() { doneOnce.Do(func() { close(done) }) }
			go func() {
				ticker := time.NewTicker(wsPingInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if !h.sendEvent(c, realtimeEvent{Type: eventPing, UserID: userID}) {
							closeDone()
							return
						}
					}
				}
			}()

			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					closeDone()
					return
				}
			}
		},
	}
	wsServer.ServeHTTP(w, r)
}

func (h *Handler) sendEvent(c *websocket.Conn, ev realtimeEvent) bool {
	if ev.At == "" {
		ev.At = h.now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return websocket.Message.Send(c, string(b)) == nil
}

func (h *Handler) emitEvent(userID string, ev realtimeEvent) {
	if strings.TrimSpace(userID) == "" {
		return
	}
	ev.UserID = userID
	if ev.At == "" {
		ev.At = h.now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("[Realtime] marshal failed")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"type":    ev.Type,
		"subs":    h.rt.count(userID),
	}).Debug("[Realtime] emit")
	h.rt.broadcast(userID, b)
}

// NotifyPublishCompleted pushes a publish.completed event to the user's websocket subscribers.
func (h *Handler) NotifyPublishCompleted(userID, campaignID string, out publish.Outcome) {
	ok := out.Success
	h.emitEvent(userID, realtimeEvent{
		Type:       eventPublishCompleted,
		CampaignID: campaignID,
		Success:    &ok,
		Message:    out.Message,
		Results:    out.Results,
	})
}

package handler

import (
	"net/http"
	"time"

	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/logging"
	"process-calendar-api/internal/model"
)

func notificationCursor(n *model.Notification) (time.Time, string) { return n.CreatedAt, n.ID }

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	pg, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	list, err := h.store.Notifications(r.Context(), actor(r).UserID, unread, pg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(list, pg.Limit, notificationCursor))
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.UnreadCount(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.MarkRead(r.Context(), id, actor(r).UserID, h.now().UTC()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.MarkAllRead(r.Context(), actor(r).UserID, h.now().UTC())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteNotification(r.Context(), id, actor(r).UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NotificationSocket upgrades to a websocket that receives the caller's
// notifications as they are delivered. The token comes from the token
// query parameter or the Authorization header.
func (h *Handler) NotificationSocket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if raw == "" {
		h.fail(w, r, apperr.Unauthorized("Missing token"))
		return
	}
	claims, err := h.issuer.Parse(raw)
	if err != nil {
		h.fail(w, r, apperr.Unauthorized("Invalid token"))
		return
	}
	log := logging.FromContext(r.Context()).WithField("user_id", claims.UserID)
	// the upgrader has already written an error response on failure
	if err := h.hub.Serve(w, r, claims.UserID); err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	log.Debug("websocket closed")
}

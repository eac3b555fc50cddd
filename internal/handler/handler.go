package handler

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/insights"
	"process-calendar-api/internal/jobs"
	"process-calendar-api/internal/media"
	"process-calendar-api/internal/metrics"
	"process-calendar-api/internal/middleware"
	"process-calendar-api/internal/notify"
	"process-calendar-api/internal/ratelimit"
	"process-calendar-api/internal/store"
)

type Handler struct {
	store      *store.Store
	issuer     *auth.Issuer
	refreshTTL time.Duration
	notifier   *notify.Notifier
	hub        *notify.Hub
	media      *media.Service
	reports    *insights.Repo
	queue      *jobs.Queue
	validate   *validator.Validate
	log        *logrus.Logger
	started    time.Time
	now        func() time.Time
}

type Deps struct {
	Store      *store.Store
	Issuer     *auth.Issuer
	RefreshTTL time.Duration
	Notifier   *notify.Notifier
	Hub        *notify.Hub
	Media      *media.Service
	Reports    *insights.Repo
	Queue      *jobs.Queue
	Log        *logrus.Logger
}

func New(d Deps) *Handler {
	if d.RefreshTTL <= 0 {
		d.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Handler{
		store:      d.Store,
		issuer:     d.Issuer,
		refreshTTL: d.RefreshTTL,
		notifier:   d.Notifier,
		hub:        d.Hub,
		media:      d.Media,
		reports:    d.Reports,
		queue:      d.Queue,
		validate:   newValidator(),
		log:        d.Log,
		started:    time.Now(),
		now:        time.Now,
	}
}

type RouterOptions struct {
	Limiter    *ratelimit.Limiter
	Throttle   *middleware.Throttle
	Origins    []string
	TrustProxy bool
}

// Router builds the full HTTP stack. Cross-cutting middleware wraps the
// router so it also sees unmatched routes and CORS preflights.
func (h *Handler) Router(o RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.detail(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.detail(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", h.HealthDetailed).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	authR := r.PathPrefix("/auth").Subrouter()
	if o.Throttle != nil {
		authR.Use(o.Throttle.Middleware(o.TrustProxy))
	}
	authR.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	authR.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	authR.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	authR.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)

	// browsers cannot set headers on websocket upgrades, so this route
	// authenticates from the query string itself
	r.HandleFunc("/notifications/ws", h.NotificationSocket).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(middleware.RequireAuth(h.issuer))

	api.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.Me).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.UpdateMe).Methods(http.MethodPut)
	api.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/role", h.SetRole).Methods(http.MethodPut)
	api.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.UpdateSettings).Methods(http.MethodPut)

	api.HandleFunc("/events", h.ListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", h.CreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/events/export.ics", h.ExportEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", h.GetEvent).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", h.UpdateEvent).Methods(http.MethodPut)
	api.HandleFunc("/events/{id}", h.DeleteEvent).Methods(http.MethodDelete)
	api.HandleFunc("/events/{id}/participants", h.AddParticipant).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}/participants/{userId}", h.RemoveParticipant).Methods(http.MethodDelete)
	api.HandleFunc("/events/{id}/rsvp", h.RSVP).Methods(http.MethodPut)
	api.HandleFunc("/events/{id}/posts", h.EventPosts).Methods(http.MethodGet)

	api.HandleFunc("/processes", h.ListProcesses).Methods(http.MethodGet)
	api.HandleFunc("/processes", h.CreateProcess).Methods(http.MethodPost)
	api.HandleFunc("/processes/{id}", h.GetProcess).Methods(http.MethodGet)
	api.HandleFunc("/processes/{id}", h.UpdateProcess).Methods(http.MethodPut)
	api.HandleFunc("/processes/{id}", h.DeleteProcess).Methods(http.MethodDelete)
	api.HandleFunc("/processes/{id}/instantiate", h.Instantiate).Methods(http.MethodPost)
	api.HandleFunc("/processes/{id}/progress", h.ProcessProgress).Methods(http.MethodGet)
	api.HandleFunc("/processes/{id}/burnup", h.ProcessBurnup).Methods(http.MethodGet)
	api.HandleFunc("/processes/{id}/steps", h.AddStep).Methods(http.MethodPost)
	api.HandleFunc("/processes/{id}/steps/order", h.ReorderSteps).Methods(http.MethodPut)
	api.HandleFunc("/steps/{id}", h.UpdateStep).Methods(http.MethodPut)
	api.HandleFunc("/steps/{id}", h.DeleteStep).Methods(http.MethodDelete)
	api.HandleFunc("/steps/{id}/substeps", h.AddSubStep).Methods(http.MethodPost)
	api.HandleFunc("/substeps/{id}", h.UpdateSubStep).Methods(http.MethodPut)
	api.HandleFunc("/substeps/{id}", h.DeleteSubStep).Methods(http.MethodDelete)

	api.HandleFunc("/posts/feed", h.Feed).Methods(http.MethodGet)
	api.HandleFunc("/posts", h.CreatePost).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id}", h.GetPost).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}", h.UpdatePost).Methods(http.MethodPut)
	api.HandleFunc("/posts/{id}", h.DeletePost).Methods(http.MethodDelete)

	api.HandleFunc("/media", h.UploadMedia).Methods(http.MethodPost)
	api.HandleFunc("/media/{id}", h.GetMedia).Methods(http.MethodGet)
	api.HandleFunc("/media/{id}/content", h.MediaContent).Methods(http.MethodGet)
	api.HandleFunc("/media/{id}", h.DeleteMedia).Methods(http.MethodDelete)

	api.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}", h.DeleteNotification).Methods(http.MethodDelete)

	api.HandleFunc("/insights/summary", h.InsightsSummary).Methods(http.MethodGet)
	api.HandleFunc("/insights/progress", h.InsightsProgress).Methods(http.MethodGet)

	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)

	api.HandleFunc("/topics", h.ListTopics).Methods(http.MethodGet)
	api.HandleFunc("/topics", h.CreateTopic).Methods(http.MethodPost)
	api.HandleFunc("/topics/{id}", h.DeleteTopic).Methods(http.MethodDelete)

	api.HandleFunc("/directories", h.ListDirectories).Methods(http.MethodGet)
	api.HandleFunc("/directories", h.CreateDirectory).Methods(http.MethodPost)
	api.HandleFunc("/directories/{id}", h.UpdateDirectory).Methods(http.MethodPut)
	api.HandleFunc("/directories/{id}", h.DeleteDirectory).Methods(http.MethodDelete)

	api.HandleFunc("/reports", h.CreateReport).Methods(http.MethodPost)
	api.HandleFunc("/reports", h.ListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", h.ResolveReport).Methods(http.MethodPut)

	var out http.Handler = r
	if o.Limiter != nil {
		out = middleware.RateLimit(o.Limiter, h.issuer, o.TrustProxy)(out)
	}
	out = middleware.CORS(o.Origins)(out)
	out = middleware.Logger(out)
	out = middleware.Recover(out)
	out = middleware.RequestID(h.log)(out)
	return out
}

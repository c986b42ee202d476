package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seefeesaw/afroverse-sub006/internal/provider"
	"github.com/seefeesaw/afroverse-sub006/internal/scheduler"
	"github.com/seefeesaw/afroverse-sub006/internal/service"
	"github.com/seefeesaw/afroverse-sub006/pkg/health"
	"github.com/seefeesaw/afroverse-sub006/pkg/middleware"
)

// NewRouter creates a chi router with all notification service routes registered.
func NewRouter(
	notificationService *service.NotificationService,
	sched *scheduler.Scheduler,
	inApp *provider.InAppProvider,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Tracing("notification"))
	r.Use(middleware.Identity())
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("notification"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	notificationHandler := NewNotificationHandler(notificationService, logger)
	settingsHandler := NewSettingsHandler(notificationService, logger)
	jobsHandler := NewJobsHandler(sched, logger)
	bannersHandler := NewBannersHandler(inApp, logger)

	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", notificationHandler.SendNotification)
		r.Post("/test", notificationHandler.TestSend)
		r.Post("/targeted", notificationHandler.SendTargeted)
		r.Get("/{id}", notificationHandler.GetNotification)
	})

	r.Route("/api/v1/recipients/{recipientId}", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/notifications", notificationHandler.ListByRecipient)
		// Clients poll the unread badge; allow brief client-side caching.
		r.With(middleware.CacheControl(10)).Get("/notifications/unread-count", notificationHandler.UnreadCount)
		r.Put("/notifications/{id}/read", notificationHandler.MarkAsRead)
		r.Put("/notifications/read-all", notificationHandler.MarkAllAsRead)

		r.Get("/settings", settingsHandler.GetSettings)
		r.Put("/settings", settingsHandler.UpdateSettings)
		r.Post("/devices", settingsHandler.RegisterDevice)
		r.Delete("/devices/{token}", settingsHandler.RemoveDevice)
		r.Put("/whatsapp", settingsHandler.RegisterWhatsApp)
		r.Delete("/whatsapp", settingsHandler.RemoveWhatsApp)

		r.Get("/banners", bannersHandler.Active)
		r.Delete("/banners/{bannerId}", bannersHandler.Dismiss)
	})

	r.Route("/api/v1/templates", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/{name}", notificationHandler.GetTemplate)
	})

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/", jobsHandler.Status)
		r.Post("/{name}/trigger", jobsHandler.Trigger)
	})

	return r
}

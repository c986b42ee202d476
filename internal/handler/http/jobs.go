package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/provider"
	"github.com/seefeesaw/afroverse-sub006/internal/scheduler"
	"github.com/seefeesaw/afroverse-sub006/pkg/httputil"
)

// JobsHandler exposes scheduler status and manual triggers for operators.
type JobsHandler struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewJobsHandler creates a new jobs HTTP handler.
func NewJobsHandler(s *scheduler.Scheduler, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		scheduler: s,
		logger:    logger,
	}
}

// Status handles GET /api/v1/jobs
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.scheduler.Status()})
}

// Trigger handles POST /api/v1/jobs/{name}/trigger
func (h *JobsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status, err := h.scheduler.Trigger(r.Context(), name)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: status})
}

// BannersHandler serves the in-app banner queue.
type BannersHandler struct {
	inApp  *provider.InAppProvider
	logger *slog.Logger
}

// NewBannersHandler creates a new banners HTTP handler.
func NewBannersHandler(inApp *provider.InAppProvider, logger *slog.Logger) *BannersHandler {
	return &BannersHandler{
		inApp:  inApp,
		logger: logger,
	}
}

// Active handles GET /api/v1/recipients/{recipientId}/banners
func (h *BannersHandler) Active(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.inApp.Active(recipientID)})
}

// Dismiss handles DELETE /api/v1/recipients/{recipientId}/banners/{bannerId}
func (h *BannersHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")
	bannerID := chi.URLParam(r, "bannerId")

	if !h.inApp.Dismiss(recipientID, bannerID) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "banner not found"},
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/service"
	"github.com/seefeesaw/afroverse-sub006/pkg/httputil"
	"github.com/seefeesaw/afroverse-sub006/pkg/validator"
)

// SettingsHandler handles HTTP requests for notification settings endpoints.
type SettingsHandler struct {
	service *service.NotificationService
	logger  *slog.Logger
}

// NewSettingsHandler creates a new settings HTTP handler.
func NewSettingsHandler(svc *service.NotificationService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		service: svc,
		logger:  logger,
	}
}

// UpdateSettingsRequest is the JSON request body for a partial settings update.
type UpdateSettingsRequest struct {
	Channels       map[string]bool       `json:"channels"`
	Categories     map[string]bool       `json:"categories"`
	QuietHours     *domain.QuietHours    `json:"quiet_hours"`
	Caps           *domain.FrequencyCaps `json:"caps"`
	WhatsAppNumber *string               `json:"whatsapp_number"`
	Email          *string               `json:"email"`
}

// RegisterDeviceRequest is the JSON request body for registering a push token.
type RegisterDeviceRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// RegisterWhatsAppRequest is the JSON request body for setting a WhatsApp number.
type RegisterWhatsAppRequest struct {
	Number string `json:"number" validate:"required,e164"`
}

// GetSettings handles GET /api/v1/recipients/{recipientId}/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	settings, err := h.service.GetSettings(r.Context(), recipientID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: settings})
}

// UpdateSettings handles PUT /api/v1/recipients/{recipientId}/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	settings, err := h.service.UpdateSettings(r.Context(), recipientID, &service.UpdateSettingsInput{
		Channels:       req.Channels,
		Categories:     req.Categories,
		QuietHours:     req.QuietHours,
		Caps:           req.Caps,
		WhatsAppNumber: req.WhatsAppNumber,
		Email:          req.Email,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: settings})
}

// RegisterDevice handles POST /api/v1/recipients/{recipientId}/devices
func (h *SettingsHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	settings, err := h.service.RegisterDeviceToken(r.Context(), recipientID, req.Token, req.Platform)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: settings})
}

// RemoveDevice handles DELETE /api/v1/recipients/{recipientId}/devices/{token}
func (h *SettingsHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")
	token := chi.URLParam(r, "token")

	settings, err := h.service.RemoveDeviceToken(r.Context(), recipientID, token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: settings})
}

// RegisterWhatsApp handles PUT /api/v1/recipients/{recipientId}/whatsapp
func (h *SettingsHandler) RegisterWhatsApp(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	var req RegisterWhatsAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	settings, err := h.service.UpdateSettings(r.Context(), recipientID, &service.UpdateSettingsInput{
		WhatsAppNumber: &req.Number,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: settings})
}

// RemoveWhatsApp handles DELETE /api/v1/recipients/{recipientId}/whatsapp
func (h *SettingsHandler) RemoveWhatsApp(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	empty := ""
	settings, err := h.service.UpdateSettings(r.Context(), recipientID, &service.UpdateSettingsInput{
		WhatsAppNumber: &empty,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: settings})
}

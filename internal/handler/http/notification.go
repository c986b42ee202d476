package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/repository"
	"github.com/seefeesaw/afroverse-sub006/internal/service"
	"github.com/seefeesaw/afroverse-sub006/internal/targeting"
	"github.com/seefeesaw/afroverse-sub006/pkg/httputil"
	"github.com/seefeesaw/afroverse-sub006/pkg/pagination"
	"github.com/seefeesaw/afroverse-sub006/pkg/validator"
)

// NotificationHandler handles HTTP requests for notification endpoints.
type NotificationHandler struct {
	service *service.NotificationService
	logger  *slog.Logger
}

// NewNotificationHandler creates a new notification HTTP handler.
func NewNotificationHandler(svc *service.NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// SendNotificationRequest is the JSON request body for sending a notification.
type SendNotificationRequest struct {
	RecipientID string            `json:"recipient_id" validate:"required"`
	Type        string            `json:"type" validate:"required"`
	Channel     string            `json:"channel" validate:"required,oneof=push inapp whatsapp email"`
	Language    string            `json:"language"`
	Variables   map[string]string `json:"variables"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	DeepLink    string            `json:"deep_link"`
	Metadata    map[string]any    `json:"metadata"`
}

func (req *SendNotificationRequest) toInput() *service.SendNotificationInput {
	return &service.SendNotificationInput{
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Channel:     req.Channel,
		Language:    req.Language,
		Variables:   req.Variables,
		Priority:    req.Priority,
		DeepLink:    req.DeepLink,
		Metadata:    req.Metadata,
	}
}

// SendTargetedRequest is the JSON request body for an audience fan-out.
type SendTargetedRequest struct {
	Audience  string                 `json:"audience" validate:"required,oneof=all active inactive tribe custom"`
	TribeID   string                 `json:"tribe_id"`
	Rules     []targeting.RuleRef    `json:"rules"`
	Custom    targeting.CustomFilter `json:"custom"`
	Limit     int                    `json:"limit"`
	Type      string                 `json:"type" validate:"required"`
	Channel   string                 `json:"channel" validate:"required,oneof=push inapp whatsapp email"`
	Language  string                 `json:"language"`
	Variables map[string]string      `json:"variables"`
	Priority  string                 `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// --- Handlers ---

// SendNotification handles POST /api/v1/notifications
func (h *NotificationHandler) SendNotification(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1 MB to prevent abuse.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SendNotificationRequest
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

	notification, err := h.service.SendNotification(r.Context(), req.toInput())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: notification})
}

// TestSend handles POST /api/v1/notifications/test. It runs the normal send
// pipeline but reports a delivery failure synchronously, which makes it
// useful for verifying templates and provider wiring.
func (h *NotificationHandler) TestSend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SendNotificationRequest
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

	notification, err := h.service.SendNotification(r.Context(), req.toInput())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if notification.Status != domain.NotificationStatusSent {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.Response{
			Data: notification,
			Error: &httputil.ErrorResponse{
				Code:    "DELIVERY_FAILED",
				Message: "test send was not delivered: " + notification.FailureReason,
			},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: notification})
}

// SendTargeted handles POST /api/v1/notifications/targeted
func (h *NotificationHandler) SendTargeted(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SendTargetedRequest
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

	criteria := targeting.Criteria{
		Class:   req.Audience,
		TribeID: req.TribeID,
		Custom:  req.Custom,
		Limit:   req.Limit,
	}
	input := &service.SendNotificationInput{
		Type:      req.Type,
		Channel:   req.Channel,
		Language:  req.Language,
		Variables: req.Variables,
		Priority:  req.Priority,
	}

	results, err := h.service.SendTargeted(r.Context(), req.Rules, criteria, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	sent := 0
	for _, res := range results {
		if res.Err == nil && res.Notification != nil && res.Notification.Status == domain.NotificationStatusSent {
			sent++
		}
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]int{
		"matched": len(results),
		"sent":    sent,
	}})
}

// GetNotification handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	notification, err := h.service.GetNotification(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: notification})
}

// GetTemplate handles GET /api/v1/templates/{name}
func (h *NotificationHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tpl})
}

// ListByRecipient handles GET /api/v1/recipients/{recipientId}/notifications
func (h *NotificationHandler) ListByRecipient(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	params := pagination.FromRequest(r)
	filter := repository.NotificationFilter{
		Type:    r.URL.Query().Get("type"),
		Status:  r.URL.Query().Get("status"),
		Channel: r.URL.Query().Get("channel"),
	}

	notifications, total, err := h.service.ListForRecipient(r.Context(), recipientID, filter, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse[domain.Notification](notifications, total, params.Page, params.PerPage))
}

// UnreadCount handles GET /api/v1/recipients/{recipientId}/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	count, err := h.service.UnreadCount(r.Context(), recipientID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int{"unread": count}})
}

// MarkAsRead handles PUT /api/v1/recipients/{recipientId}/notifications/{id}/read
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	notification, err := h.service.MarkAsRead(r.Context(), id.String(), recipientID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: notification})
}

// MarkAllAsRead handles PUT /api/v1/recipients/{recipientId}/notifications/read-all
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	count, err := h.service.MarkAllAsRead(r.Context(), recipientID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int{"marked": count}})
}

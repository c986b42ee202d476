package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/seefeesaw/afroverse-sub006/pkg/httpclient"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// Push gateway per-token result statuses.
const (
	pushTokenStatusOK      = "ok"
	pushTokenStatusInvalid = "invalid_token"
)

// PushProvider multicasts to every device token registered for the recipient
// through the push gateway. Tokens the gateway reports as permanently invalid
// are surfaced for settings cleanup.
type PushProvider struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewPushProvider creates a push provider targeting the given gateway.
func NewPushProvider(client *httpclient.CircuitBreakerClient, baseURL string, logger *slog.Logger) *PushProvider {
	return &PushProvider{
		client:  client,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Name returns the channel this provider serves.
func (p *PushProvider) Name() string {
	return domain.ChannelPush
}

type pushRequest struct {
	Tokens   []string          `json:"tokens"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	DeepLink string            `json:"deep_link,omitempty"`
	Priority string            `json:"priority"`
	Data     map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
	Results   []struct {
		Token  string `json:"token"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	} `json:"results"`
}

// Send multicasts the notification to all registered device tokens.
// A recipient with no tokens is a terminal failure: retrying cannot succeed
// until a token is registered.
func (p *PushProvider) Send(ctx context.Context, notification *domain.Notification, settings *domain.Settings) Result {
	tokens := make([]string, 0, len(settings.DeviceTokens))
	for _, dt := range settings.DeviceTokens {
		tokens = append(tokens, dt.Token)
	}
	if len(tokens) == 0 {
		return terminal(fmt.Errorf("recipient %s has no registered device tokens", notification.RecipientID))
	}

	payload := pushRequest{
		Tokens:   tokens,
		Title:    notification.Title,
		Body:     notification.Body,
		DeepLink: notification.DeepLink,
		Priority: notification.Priority,
		Data: map[string]string{
			"notification_id": notification.ID,
			"type":            notification.Type,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return terminal(fmt.Errorf("marshal push request: %w", err))
	}

	resp, err := p.client.Post(ctx, p.baseURL+"/v1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		// Network failures and an open circuit breaker are both transient.
		return retryable(fmt.Errorf("push gateway request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := httpclient.ParseResponseError(resp, "push-gateway")
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retryable(err)
		}
		return terminal(err)
	}

	var gw pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return retryable(fmt.Errorf("decode push gateway response: %w", err))
	}

	var invalid []string
	delivered := 0
	for _, r := range gw.Results {
		switch r.Status {
		case pushTokenStatusOK:
			delivered++
		case pushTokenStatusInvalid:
			invalid = append(invalid, r.Token)
		default:
			p.logger.WarnContext(ctx, "push token delivery failed",
				slog.String("notification_id", notification.ID),
				slog.String("status", r.Status),
				slog.String("error", r.Error))
		}
	}

	if delivered == 0 {
		result := terminal(fmt.Errorf("push gateway delivered to 0 of %d tokens", len(tokens)))
		result.InvalidTokens = invalid
		return result
	}

	result := success(gw.MessageID)
	result.InvalidTokens = invalid
	return result
}

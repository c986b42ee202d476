package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/seefeesaw/afroverse-sub006/pkg/httpclient"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// EmailProvider delivers through the transactional email gateway.
type EmailProvider struct {
	client      *httpclient.CircuitBreakerClient
	baseURL     string
	fromAddress string
}

// NewEmailProvider creates an email provider targeting the given gateway.
func NewEmailProvider(client *httpclient.CircuitBreakerClient, baseURL, fromAddress string) *EmailProvider {
	return &EmailProvider{
		client:      client,
		baseURL:     baseURL,
		fromAddress: fromAddress,
	}
}

// Name returns the channel this provider serves.
func (p *EmailProvider) Name() string {
	return domain.ChannelEmail
}

type emailRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	DeepLink string `json:"deep_link,omitempty"`
}

type emailResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts the notification to the recipient's email address. A missing
// address is terminal.
func (p *EmailProvider) Send(ctx context.Context, notification *domain.Notification, settings *domain.Settings) Result {
	if settings.Email == "" {
		return terminal(fmt.Errorf("recipient %s has no email address", notification.RecipientID))
	}

	payload := emailRequest{
		From:     p.fromAddress,
		To:       settings.Email,
		Subject:  notification.Title,
		TextBody: notification.Body,
		DeepLink: notification.DeepLink,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return terminal(fmt.Errorf("marshal email request: %w", err))
	}

	resp, err := p.client.Post(ctx, p.baseURL+"/v1/send", "application/json", bytes.NewReader(body))
	if err != nil {
		return retryable(fmt.Errorf("email gateway request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		err := httpclient.ParseResponseError(resp, "email-gateway")
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retryable(err)
		}
		return terminal(err)
	}

	var gw emailResponse
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return retryable(fmt.Errorf("decode email gateway response: %w", err))
	}

	return success(gw.MessageID)
}

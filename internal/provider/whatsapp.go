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

// WhatsAppProvider compiles a notification into the WhatsApp gateway's
// structured template-message format. Rate-limit responses are surfaced as
// retryable so the retry sweep can pick them up once the window resets.
type WhatsAppProvider struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
}

// NewWhatsAppProvider creates a WhatsApp provider targeting the given gateway.
func NewWhatsAppProvider(client *httpclient.CircuitBreakerClient, baseURL string) *WhatsAppProvider {
	return &WhatsAppProvider{client: client, baseURL: baseURL}
}

// Name returns the channel this provider serves.
func (p *WhatsAppProvider) Name() string {
	return domain.ChannelWhatsApp
}

type whatsappRequest struct {
	To       string           `json:"to"`
	Type     string           `json:"type"`
	Template whatsappTemplate `json:"template"`
}

type whatsappTemplate struct {
	Name       string              `json:"name"`
	Language   map[string]string   `json:"language"`
	Components []whatsappComponent `json:"components"`
}

type whatsappComponent struct {
	Type       string              `json:"type"`
	Parameters []whatsappParameter `json:"parameters"`
}

type whatsappParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type whatsappResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send compiles and posts a template message to the recipient's registered
// WhatsApp number. A missing number is terminal.
func (p *WhatsAppProvider) Send(ctx context.Context, notification *domain.Notification, settings *domain.Settings) Result {
	if settings.WhatsAppNumber == "" {
		return terminal(fmt.Errorf("recipient %s has no registered whatsapp number", notification.RecipientID))
	}

	payload := whatsappRequest{
		To:   settings.WhatsAppNumber,
		Type: "template",
		Template: whatsappTemplate{
			Name:     "afroverse_" + notification.Type,
			Language: map[string]string{"code": "en"},
			Components: []whatsappComponent{
				{
					Type: "header",
					Parameters: []whatsappParameter{
						{Type: "text", Text: notification.Title},
					},
				},
				{
					Type: "body",
					Parameters: []whatsappParameter{
						{Type: "text", Text: notification.Body},
					},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return terminal(fmt.Errorf("marshal whatsapp request: %w", err))
	}

	resp, err := p.client.Post(ctx, p.baseURL+"/v1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return retryable(fmt.Errorf("whatsapp gateway request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := httpclient.ParseResponseError(resp, "whatsapp-gateway")
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retryable(err)
		}
		return terminal(err)
	}

	var gw whatsappResponse
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return retryable(fmt.Errorf("decode whatsapp gateway response: %w", err))
	}
	if len(gw.Messages) == 0 {
		return retryable(fmt.Errorf("whatsapp gateway accepted request but returned no message id"))
	}

	return success(gw.Messages[0].ID)
}

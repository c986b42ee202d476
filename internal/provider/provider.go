// Package provider defines the channel-provider contract and its concrete
// implementations: push gateway multicast, in-app banner queue, WhatsApp
// template messages, and email.
package provider

import (
	"context"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// Result is the uniform outcome of one delivery attempt. The orchestrator
// treats all providers identically: a retryable failure stays eligible for
// the retry sweep, a terminal failure ends this attempt.
type Result struct {
	Success           bool
	ProviderMessageID string
	Err               error
	Retryable         bool

	// InvalidTokens lists device tokens the transport reported as permanently
	// invalid. The orchestrator removes them from the recipient's settings so
	// future attempts do not repeat the same terminal failure.
	InvalidTokens []string
}

// Provider delivers a rendered notification over one channel.
type Provider interface {
	// Name identifies the channel this provider serves.
	Name() string

	// Send attempts delivery. Transport failures are reported through the
	// Result, not an error return; Send itself only fails on programmer
	// error (nil notification, wrong channel).
	Send(ctx context.Context, notification *domain.Notification, settings *domain.Settings) Result
}

func success(messageID string) Result {
	return Result{Success: true, ProviderMessageID: messageID}
}

func terminal(err error) Result {
	return Result{Err: err}
}

func retryable(err error) Result {
	return Result{Err: err, Retryable: true}
}

var (
	_ Provider = (*PushProvider)(nil)
	_ Provider = (*InAppProvider)(nil)
	_ Provider = (*WhatsAppProvider)(nil)
	_ Provider = (*EmailProvider)(nil)
)

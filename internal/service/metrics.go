package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsSent counts notifications accepted by a channel provider.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_sent_total",
			Help: "Total number of notifications accepted by a channel provider",
		},
		[]string{"type", "channel"},
	)

	// NotificationsFailed counts dispatch attempts that ended in a provider or
	// infrastructure failure.
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_failed_total",
			Help: "Total number of notification dispatch failures",
		},
		[]string{"type", "channel"},
	)

	// NotificationsBlocked counts attempts stopped by a preference, template
	// or eligibility gate before reaching a provider. Reasons are the bounded
	// gate names, never raw provider errors.
	NotificationsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_blocked_total",
			Help: "Total number of notification attempts blocked by a gate",
		},
		[]string{"type", "reason"},
	)
)

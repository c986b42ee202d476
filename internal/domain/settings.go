package domain

import (
	"time"
)

// Device platform constants.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// Settings gate failure reasons, surfaced on blocked notifications.
const (
	BlockReasonChannelDisabled  = "channel_disabled"
	BlockReasonCategoryDisabled = "category_disabled"
	BlockReasonQuietHours       = "quiet_hours"
)

// DeviceToken is one registered push destination.
type DeviceToken struct {
	Token        string    `json:"token"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registered_at"`
}

// QuietHours is a recipient-local window during which non-transactional
// sends are suppressed.
type QuietHours struct {
	Enabled             bool   `json:"enabled"`
	Start               string `json:"start"` // "22:00"
	End                 string `json:"end"`   // "07:00"
	Timezone            string `json:"timezone"`
	BypassTransactional bool   `json:"bypass_transactional"`
}

// FrequencyCaps bound how many notifications a recipient may receive.
type FrequencyCaps struct {
	MaxPerHour int `json:"max_per_hour"`
	MaxPerDay  int `json:"max_per_day"`
}

// DeliveryStats tracks per-recipient delivery outcomes.
type DeliveryStats struct {
	TotalReceived  int64   `json:"total_received"`
	TotalRead      int64   `json:"total_read"`
	AvgReadSeconds float64 `json:"avg_read_seconds"`
}

// Settings holds one recipient's notification preferences and addressing.
type Settings struct {
	RecipientID    string          `json:"recipient_id"`
	Channels       map[string]bool `json:"channels"`
	Categories     map[string]bool `json:"categories"`
	DeviceTokens   []DeviceToken   `json:"device_tokens,omitempty"`
	WhatsAppNumber string          `json:"whatsapp_number,omitempty"`
	Email          string          `json:"email,omitempty"`
	QuietHours     QuietHours      `json:"quiet_hours"`
	Caps           FrequencyCaps   `json:"caps"`
	LastSentAt     *time.Time      `json:"last_sent_at,omitempty"`
	Stats          DeliveryStats   `json:"stats"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewSettings returns defaults for a recipient seen for the first time:
// all channels and categories enabled, no quiet hours, sensible caps.
func NewSettings(recipientID string) *Settings {
	now := time.Now().UTC()
	channels := make(map[string]bool, len(ValidChannels()))
	for _, c := range ValidChannels() {
		channels[c] = true
	}
	categories := map[string]bool{
		CategoryTransactional: true,
		CategoryStreak:        true,
		CategoryBattle:        true,
		CategoryTribe:         true,
		CategoryLeaderboard:   true,
		CategoryLifecycle:     true,
	}
	return &Settings{
		RecipientID: recipientID,
		Channels:    channels,
		Categories:  categories,
		QuietHours: QuietHours{
			Timezone:            "UTC",
			BypassTransactional: true,
		},
		Caps:      FrequencyCaps{MaxPerHour: 10, MaxPerDay: 30},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsChannelEnabled reports whether the recipient accepts the given channel.
func (s *Settings) IsChannelEnabled(channel string) bool {
	return s.Channels[channel]
}

// IsCategoryEnabled reports whether the recipient accepts the given category.
func (s *Settings) IsCategoryEnabled(category string) bool {
	return s.Categories[category]
}

// IsInQuietHours reports whether now falls inside the recipient's quiet-hours
// window, evaluated in the recipient's configured timezone. Windows that cross
// midnight (start > end) are treated as now >= start OR now < end.
func (s *Settings) IsInQuietHours(now time.Time) bool {
	if !s.QuietHours.Enabled {
		return false
	}

	loc, err := time.LoadLocation(s.QuietHours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	start, ok := parseClock(s.QuietHours.Start)
	if !ok {
		return false
	}
	end, ok := parseClock(s.QuietHours.End)
	if !ok {
		return false
	}

	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// GateResult is the outcome of a settings eligibility check.
type GateResult struct {
	Allow  bool
	Reason string
}

// ShouldSend composes the channel, category, and quiet-hours checks in order,
// returning the first failing reason for observability. Transactional sends
// bypass quiet hours when the recipient has opted in to that behavior.
func (s *Settings) ShouldSend(channel, category string, now time.Time) GateResult {
	if !s.IsChannelEnabled(channel) {
		return GateResult{Reason: BlockReasonChannelDisabled}
	}
	if !s.IsCategoryEnabled(category) {
		return GateResult{Reason: BlockReasonCategoryDisabled}
	}
	if s.IsInQuietHours(now) {
		if category == CategoryTransactional && s.QuietHours.BypassTransactional {
			return GateResult{Allow: true}
		}
		return GateResult{Reason: BlockReasonQuietHours}
	}
	return GateResult{Allow: true}
}

// AddDeviceToken registers a push token, de-duplicating by exact token string.
// Re-adding an existing token refreshes its registration timestamp.
func (s *Settings) AddDeviceToken(token, platform string) {
	s.RemoveDeviceToken(token)
	s.DeviceTokens = append(s.DeviceTokens, DeviceToken{
		Token:        token,
		Platform:     platform,
		RegisteredAt: time.Now().UTC(),
	})
}

// RemoveDeviceToken removes a token if present. Returns true if removed.
func (s *Settings) RemoveDeviceToken(token string) bool {
	for i, dt := range s.DeviceTokens {
		if dt.Token == token {
			s.DeviceTokens = append(s.DeviceTokens[:i], s.DeviceTokens[i+1:]...)
			return true
		}
	}
	return false
}

// RecordDelivered increments the received counter and stamps the last-sent
// instant used by cooldown accounting.
func (s *Settings) RecordDelivered(at time.Time) {
	s.Stats.TotalReceived++
	t := at
	s.LastSentAt = &t
}

// RecordRead increments the read counter and folds the observed read latency
// into the running average using the incremental mean formula.
func (s *Settings) RecordRead(readLatencySeconds float64) {
	s.Stats.TotalRead++
	n := float64(s.Stats.TotalRead)
	s.Stats.AvgReadSeconds = (s.Stats.AvgReadSeconds*(n-1) + readLatencySeconds) / n
}

// IsValidClock reports whether v is a well-formed "HH:MM" clock time.
func IsValidClock(v string) bool {
	_, ok := parseClock(v)
	return ok
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(v string) (int, bool) {
	if len(v) != 5 || v[2] != ':' {
		return 0, false
	}
	h := int(v[0]-'0')*10 + int(v[1]-'0')
	m := int(v[3]-'0')*10 + int(v[4]-'0')
	if v[0] < '0' || v[0] > '9' || v[1] < '0' || v[1] > '9' ||
		v[3] < '0' || v[3] > '9' || v[4] < '0' || v[4] > '9' {
		return 0, false
	}
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

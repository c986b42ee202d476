package domain

import (
	"time"
)

// DefaultLanguage is the base locale used when no exact language match exists.
const DefaultLanguage = "en"

// TemplateVariable declares one named placeholder in a template.
type TemplateVariable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}

// TemplateConditions restricts which recipients a template applies to.
// This is template applicability filtering, distinct from the rules engine's
// send eligibility checks.
type TemplateConditions struct {
	MinLevel  int      `json:"min_level,omitempty"`
	MaxLevel  int      `json:"max_level,omitempty"`
	Tribes    []string `json:"tribes,omitempty"`
	Countries []string `json:"countries,omitempty"`
	UserTypes []string `json:"user_types,omitempty"`
}

// Template is a versioned, localized message template for one
// (type, channel, language) combination.
type Template struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	Channel    string             `json:"channel"`
	Language   string             `json:"language"`
	Version    int                `json:"version"`
	Title      string             `json:"title"`
	Body       string             `json:"body"`
	ActionText string             `json:"action_text,omitempty"`
	ActionURL  string             `json:"action_url,omitempty"`
	Variables  []TemplateVariable `json:"variables"`
	Conditions TemplateConditions `json:"conditions"`
	IsActive   bool               `json:"is_active"`
	UsageCount int64              `json:"usage_count"`
	LastUsedAt *time.Time         `json:"last_used_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// AppliesTo reports whether the template's targeting conditions admit the
// given recipient snapshot. Empty condition lists admit everyone; without a
// snapshot only an unconditioned template applies, mirroring how missing
// snapshots block condition-based eligibility rules.
func (t *Template) AppliesTo(s *RecipientSnapshot) bool {
	if s == nil {
		c := t.Conditions
		return c.MinLevel == 0 && c.MaxLevel == 0 &&
			len(c.Tribes) == 0 && len(c.Countries) == 0 && len(c.UserTypes) == 0
	}
	if t.Conditions.MinLevel > 0 && s.Level < t.Conditions.MinLevel {
		return false
	}
	if t.Conditions.MaxLevel > 0 && s.Level > t.Conditions.MaxLevel {
		return false
	}
	if len(t.Conditions.Tribes) > 0 && !contains(t.Conditions.Tribes, s.TribeID) {
		return false
	}
	if len(t.Conditions.Countries) > 0 && !contains(t.Conditions.Countries, s.Country) {
		return false
	}
	if len(t.Conditions.UserTypes) > 0 && !contains(t.Conditions.UserTypes, s.SubscriptionTier) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

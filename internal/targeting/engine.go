package targeting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/repository"
)

// Audience classes.
const (
	AudienceAll      = "all"
	AudienceActive   = "active"
	AudienceInactive = "inactive"
	AudienceTribe    = "tribe"
	AudienceCustom   = "custom"
)

// activityCutoff separates "active" from "inactive" accounts.
const activityCutoff = 7 * 24 * time.Hour

// defaultAudienceLimit bounds how many snapshots a single resolution loads.
const defaultAudienceLimit = 10000

// Criteria selects a campaign's base audience before predicate filtering.
type Criteria struct {
	Class   string       `json:"class" validate:"required,oneof=all active inactive tribe custom"`
	TribeID string       `json:"tribe_id,omitempty"`
	Custom  CustomFilter `json:"custom,omitempty"`
	Limit   int          `json:"limit,omitempty"`
}

// CustomFilter narrows the custom audience class. Empty slices mean no
// restriction on that dimension.
type CustomFilter struct {
	RecipientIDs      []string `json:"recipient_ids,omitempty"`
	TribeIDs          []string `json:"tribe_ids,omitempty"`
	SubscriptionTiers []string `json:"subscription_tiers,omitempty"`
}

// Engine resolves campaign audiences and filters them through predicates.
type Engine struct {
	users    repository.UserRepository
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a targeting engine.
func NewEngine(users repository.UserRepository, registry *Registry, logger *slog.Logger) *Engine {
	return &Engine{
		users:    users,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveAudience loads the base audience for the given criteria.
func (e *Engine) ResolveAudience(ctx context.Context, criteria Criteria) ([]domain.RecipientSnapshot, error) {
	limit := criteria.Limit
	if limit <= 0 {
		limit = defaultAudienceLimit
	}
	cutoff := e.now().UTC().Add(-activityCutoff)

	switch criteria.Class {
	case AudienceAll:
		return e.users.ListAll(ctx, limit)
	case AudienceActive:
		return e.users.ListActive(ctx, cutoff, limit)
	case AudienceInactive:
		return e.users.ListInactive(ctx, cutoff, limit)
	case AudienceTribe:
		if criteria.TribeID == "" {
			return nil, apperrors.InvalidInput("tribe audience requires a tribe_id")
		}
		return e.users.ListByTribe(ctx, criteria.TribeID, limit)
	case AudienceCustom:
		return e.users.ListCustom(ctx, criteria.Custom.RecipientIDs, criteria.Custom.TribeIDs, criteria.Custom.SubscriptionTiers, limit)
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown audience class %q", criteria.Class))
	}
}

// GetUsers resolves the base audience and keeps only recipients for whom
// every referenced predicate holds. Unknown rule names fail before any
// audience query runs.
func (e *Engine) GetUsers(ctx context.Context, refs []RuleRef, criteria Criteria) ([]domain.RecipientSnapshot, error) {
	predicates, err := e.registry.Build(refs)
	if err != nil {
		return nil, err
	}

	audience, err := e.ResolveAudience(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	now := e.now()
	matched := make([]domain.RecipientSnapshot, 0, len(audience))
	for i := range audience {
		if matchesAll(&audience[i], predicates, now) {
			matched = append(matched, audience[i])
		}
	}

	e.logger.DebugContext(ctx, "audience resolved",
		slog.String("class", criteria.Class),
		slog.Int("base_size", len(audience)),
		slog.Int("matched", len(matched)),
		slog.Int("rules", len(refs)))

	return matched, nil
}

func matchesAll(snapshot *domain.RecipientSnapshot, predicates []Predicate, now time.Time) bool {
	for _, p := range predicates {
		if !p.Match(snapshot, now) {
			return false
		}
	}
	return true
}

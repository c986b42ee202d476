package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/pkg/database"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

const snapshotColumns = `id, level, tribe_id, country, timezone, subscription_tier, last_login_at, streak_days, streak_safe_today, votes_today, login_bonus_claimed, is_active`

// UserRepository implements repository.UserRepository against the user_snapshots
// read view, which the account subsystem keeps up to date.
type UserRepository struct {
	pool database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user snapshot repository.
func NewUserRepository(pool database.DBTX) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetSnapshot returns the targeting snapshot for one recipient.
func (r *UserRepository) GetSnapshot(ctx context.Context, recipientID string) (*domain.RecipientSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM user_snapshots
		WHERE id = $1`

	var s domain.RecipientSnapshot
	err := r.pool.QueryRow(ctx, query, recipientID).Scan(
		&s.ID,
		&s.Level,
		&s.TribeID,
		&s.Country,
		&s.Timezone,
		&s.SubscriptionTier,
		&s.LastLoginAt,
		&s.StreakDays,
		&s.StreakSafeToday,
		&s.VotesToday,
		&s.LoginBonusClaimed,
		&s.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user snapshot: %w", err)
	}

	return &s, nil
}

// ListActive returns snapshots of accounts that logged in since the cutoff.
func (r *UserRepository) ListActive(ctx context.Context, since time.Time, limit int) ([]domain.RecipientSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM user_snapshots
		WHERE is_active = true AND last_login_at >= $1
		ORDER BY id
		LIMIT $2`

	return r.scanSnapshots(ctx, query, since, limit)
}

// ListInactive returns snapshots of accounts with no login since the cutoff.
func (r *UserRepository) ListInactive(ctx context.Context, since time.Time, limit int) ([]domain.RecipientSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM user_snapshots
		WHERE is_active = true AND (last_login_at IS NULL OR last_login_at < $1)
		ORDER BY id
		LIMIT $2`

	return r.scanSnapshots(ctx, query, since, limit)
}

// ListByTribe returns snapshots of one tribe's members.
func (r *UserRepository) ListByTribe(ctx context.Context, tribeID string, limit int) ([]domain.RecipientSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM user_snapshots
		WHERE is_active = true AND tribe_id = $1
		ORDER BY id
		LIMIT $2`

	return r.scanSnapshots(ctx, query, tribeID, limit)
}

// ListAll returns snapshots of every active account.
func (r *UserRepository) ListAll(ctx context.Context, limit int) ([]domain.RecipientSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM user_snapshots
		WHERE is_active = true
		ORDER BY id
		LIMIT $1`

	return r.scanSnapshots(ctx, query, limit)
}

// ListCustom returns snapshots matching an arbitrary id/tribe/tier filter.
// Empty slices mean "no restriction" on that dimension.
func (r *UserRepository) ListCustom(ctx context.Context, ids, tribes, tiers []string, limit int) ([]domain.RecipientSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM user_snapshots
		WHERE is_active = true`
	args := []any{}

	if len(ids) > 0 {
		args = append(args, ids)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(tribes) > 0 {
		args = append(args, tribes)
		query += fmt.Sprintf(" AND tribe_id = ANY($%d)", len(args))
	}
	if len(tiers) > 0 {
		args = append(args, tiers)
		query += fmt.Sprintf(" AND subscription_tier = ANY($%d)", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	return r.scanSnapshots(ctx, query, args...)
}

func (r *UserRepository) scanSnapshots(ctx context.Context, query string, args ...any) ([]domain.RecipientSnapshot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]domain.RecipientSnapshot, 0)

	for rows.Next() {
		var s domain.RecipientSnapshot
		if err := rows.Scan(
			&s.ID,
			&s.Level,
			&s.TribeID,
			&s.Country,
			&s.Timezone,
			&s.SubscriptionTier,
			&s.LastLoginAt,
			&s.StreakDays,
			&s.StreakSafeToday,
			&s.VotesToday,
			&s.LoginBonusClaimed,
			&s.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan user snapshot row: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user snapshot rows: %w", err)
	}

	return snapshots, nil
}

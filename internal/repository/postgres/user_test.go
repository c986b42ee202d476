package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/pkg/database"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

func sampleSnapshot() domain.RecipientSnapshot {
	lastLogin := time.Date(2026, 7, 31, 20, 30, 0, 0, time.UTC)

	return domain.RecipientSnapshot{
		ID:               "user-001",
		Level:            12,
		TribeID:          "tribe-yoruba",
		Country:          "NG",
		Timezone:         "Africa/Lagos",
		SubscriptionTier: "premium",
		LastLoginAt:      &lastLogin,
		StreakDays:       14,
		VotesToday:       3,
		IsActive:         true,
	}
}

var snapshotCols = []string{
	"id", "level", "tribe_id", "country", "timezone", "subscription_tier",
	"last_login_at", "streak_days", "streak_safe_today", "votes_today",
	"login_bonus_claimed", "is_active",
}

func snapshotRow(s domain.RecipientSnapshot) []any {
	return []any{
		s.ID, s.Level, s.TribeID, s.Country, s.Timezone, s.SubscriptionTier,
		s.LastLoginAt, s.StreakDays, s.StreakSafeToday, s.VotesToday,
		s.LoginBonusClaimed, s.IsActive,
	}
}

// ─── GetSnapshot ─────────────────────────────────────────────────────────────

func TestUserRepository_GetSnapshot_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)
	s := sampleSnapshot()

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(s.ID).
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(snapshotRow(s)...))

	result, err := repo.GetSnapshot(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, result.ID)
	assert.Equal(t, 12, result.Level)
	assert.Equal(t, "tribe-yoruba", result.TribeID)
	assert.Equal(t, "Africa/Lagos", result.Timezone)
	assert.Equal(t, 14, result.StreakDays)
	require.NotNil(t, result.LastLoginAt)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestUserRepository_GetSnapshot_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs("ghost-user").
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetSnapshot(context.Background(), "ghost-user")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

// ─── List queries ────────────────────────────────────────────────────────────

func TestUserRepository_ListActive(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)
	s := sampleSnapshot()
	since := time.Date(2026, 7, 25, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(since, 1000).
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(snapshotRow(s)...))

	results, err := repo.ListActive(context.Background(), since, 1000)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, s.ID, results[0].ID)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestUserRepository_ListInactive(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)
	s := sampleSnapshot()
	s.LastLoginAt = nil
	since := time.Date(2026, 7, 25, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(since, 500).
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(snapshotRow(s)...))

	results, err := repo.ListInactive(context.Background(), since, 500)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].LastLoginAt)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestUserRepository_ListByTribe(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)
	s := sampleSnapshot()

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs("tribe-yoruba", 200).
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(snapshotRow(s)...))

	results, err := repo.ListByTribe(context.Background(), "tribe-yoruba", 200)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tribe-yoruba", results[0].TribeID)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestUserRepository_ListAll_Empty(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(1000).
		WillReturnRows(pgxmock.NewRows(snapshotCols))

	results, err := repo.ListAll(context.Background(), 1000)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestUserRepository_ListAll_QueryError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	results, err := repo.ListAll(context.Background(), 1000)
	assert.Nil(t, results)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "query user snapshots")

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

// ─── ListCustom ──────────────────────────────────────────────────────────────

func TestUserRepository_ListCustom_AllFilters(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)
	s := sampleSnapshot()

	ids := []string{"user-001", "user-002"}
	tribes := []string{"tribe-yoruba"}
	tiers := []string{"premium"}

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(ids, tribes, tiers, 100).
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(snapshotRow(s)...))

	results, err := repo.ListCustom(context.Background(), ids, tribes, tiers, 100)
	require.NoError(t, err)
	require.Len(t, results, 1)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestUserRepository_ListCustom_NoFilters(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepository(mock)
	s := sampleSnapshot()

	mock.ExpectQuery("SELECT .+ FROM user_snapshots").
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(snapshotRow(s)...))

	results, err := repo.ListCustom(context.Background(), nil, nil, nil, 100)
	require.NoError(t, err)
	require.Len(t, results, 1)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

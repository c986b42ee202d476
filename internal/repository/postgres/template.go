package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/pkg/database"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

const templateColumns = `id, name, type, channel, language, version, title, body, action_text, action_url, variables, conditions, is_active, usage_count, last_used_at, created_at, updated_at`

// TemplateRepository implements repository.TemplateRepository using PostgreSQL.
type TemplateRepository struct {
	pool database.DBTX
}

// NewTemplateRepository creates a new PostgreSQL-backed template repository.
func NewTemplateRepository(pool database.DBTX) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// Create inserts a new template version.
func (r *TemplateRepository) Create(ctx context.Context, t *domain.Template) error {
	variablesJSON, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("marshal template variables: %w", err)
	}
	conditionsJSON, err := json.Marshal(t.Conditions)
	if err != nil {
		return fmt.Errorf("marshal template conditions: %w", err)
	}

	query := `
		INSERT INTO templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.pool.Exec(ctx, query,
		t.ID,
		t.Name,
		t.Type,
		t.Channel,
		t.Language,
		t.Version,
		t.Title,
		t.Body,
		t.ActionText,
		t.ActionURL,
		variablesJSON,
		conditionsJSON,
		t.IsActive,
		t.UsageCount,
		t.LastUsedAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	return nil
}

// Lookup returns the highest-version active template for an exact
// (type, channel, language) match.
func (r *TemplateRepository) Lookup(ctx context.Context, notificationType, channel, language string) (*domain.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE type = $1 AND channel = $2 AND language = $3 AND is_active = true
		ORDER BY version DESC
		LIMIT 1`

	return r.scanTemplate(ctx, query, notificationType, channel, language)
}

// GetByName returns the highest-version active template with the given name.
func (r *TemplateRepository) GetByName(ctx context.Context, name string) (*domain.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE name = $1 AND is_active = true
		ORDER BY version DESC
		LIMIT 1`

	return r.scanTemplate(ctx, query, name)
}

// RecordUsage increments the usage counter and stamps last-used.
func (r *TemplateRepository) RecordUsage(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE templates
		SET usage_count = usage_count + 1, last_used_at = $1, updated_at = $1
		WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("record template usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("template", id)
	}
	return nil
}

func (r *TemplateRepository) scanTemplate(ctx context.Context, query string, args ...any) (*domain.Template, error) {
	var (
		t              domain.Template
		variablesJSON  []byte
		conditionsJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.ID,
		&t.Name,
		&t.Type,
		&t.Channel,
		&t.Language,
		&t.Version,
		&t.Title,
		&t.Body,
		&t.ActionText,
		&t.ActionURL,
		&variablesJSON,
		&conditionsJSON,
		&t.IsActive,
		&t.UsageCount,
		&t.LastUsedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}

	if variablesJSON != nil {
		if err := json.Unmarshal(variablesJSON, &t.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal template variables: %w", err)
		}
	}
	if conditionsJSON != nil {
		if err := json.Unmarshal(conditionsJSON, &t.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal template conditions: %w", err)
		}
	}

	return &t, nil
}

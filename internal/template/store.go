// Package template resolves and renders versioned, localized notification
// templates. Lookup considers only the highest version among active templates;
// missing templates are a hard stop for callers, never a cross-type fallback.
package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/repository"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

// Rendered is the output of substituting variables into a template.
type Rendered struct {
	Title      string
	Body       string
	ActionText string
	ActionURL  string
}

// ValidationError reports one missing required variable.
type ValidationError struct {
	Variable string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required template variable %q", e.Variable)
}

// Store looks up and renders templates.
type Store struct {
	repo   repository.TemplateRepository
	logger *slog.Logger
}

// NewStore creates a template store.
func NewStore(repo repository.TemplateRepository, logger *slog.Logger) *Store {
	return &Store{repo: repo, logger: logger}
}

// Lookup returns the current template for (type, channel, language). When no
// exact language match exists it falls back to the base locale. It never falls
// back to a different type or channel.
func (s *Store) Lookup(ctx context.Context, notificationType, channel, language string) (*domain.Template, error) {
	if language == "" {
		language = domain.DefaultLanguage
	}

	tpl, err := s.repo.Lookup(ctx, notificationType, channel, language)
	if err == nil {
		return tpl, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("lookup template: %w", err)
	}

	if language == domain.DefaultLanguage {
		return nil, apperrors.NotFound("template", fmt.Sprintf("%s/%s/%s", notificationType, channel, language))
	}

	tpl, err = s.repo.Lookup(ctx, notificationType, channel, domain.DefaultLanguage)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("template", fmt.Sprintf("%s/%s/%s", notificationType, channel, language))
		}
		return nil, fmt.Errorf("lookup base-locale template: %w", err)
	}
	return tpl, nil
}

// GetByName returns the current template registered under a name. Operators
// use this to inspect a template without knowing its routing key.
func (s *Store) GetByName(ctx context.Context, name string) (*domain.Template, error) {
	tpl, err := s.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("template", name)
		}
		return nil, fmt.Errorf("get template by name: %w", err)
	}
	return tpl, nil
}

// Validate returns one error per missing required variable. An empty result
// means the template is safe to render.
func Validate(tpl *domain.Template, variables map[string]string) []error {
	var errs []error
	for _, v := range tpl.Variables {
		if !v.Required {
			continue
		}
		if _, ok := variables[v.Name]; !ok {
			errs = append(errs, &ValidationError{Variable: v.Name})
		}
	}
	return errs
}

// Render substitutes every declared {{name}} placeholder in the templated
// fields. Missing optional variables substitute their declared default or the
// empty string. Callers must run Validate first; Render re-checks required
// variables and refuses to produce partially rendered output.
func Render(tpl *domain.Template, variables map[string]string) (*Rendered, error) {
	if errs := Validate(tpl, variables); len(errs) > 0 {
		return nil, errs[0]
	}

	values := make(map[string]string, len(tpl.Variables))
	for _, v := range tpl.Variables {
		if supplied, ok := variables[v.Name]; ok {
			values[v.Name] = supplied
		} else {
			values[v.Name] = v.Default
		}
	}

	return &Rendered{
		Title:      substitute(tpl.Title, values),
		Body:       substitute(tpl.Body, values),
		ActionText: substitute(tpl.ActionText, values),
		ActionURL:  substitute(tpl.ActionURL, values),
	}, nil
}

// RecordUsage bumps the template's usage counter and last-used timestamp.
// Best effort: failures are logged, not propagated, because usage accounting
// is not transactionally coupled to the send outcome.
func (s *Store) RecordUsage(ctx context.Context, tpl *domain.Template) {
	if err := s.repo.RecordUsage(ctx, tpl.ID, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to record template usage",
			slog.String("template_id", tpl.ID),
			slog.String("template_name", tpl.Name),
			slog.String("error", err.Error()),
		)
	}
}

func substitute(text string, values map[string]string) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	for name, value := range values {
		text = strings.ReplaceAll(text, "{{"+name+"}}", value)
	}
	return text
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/okian/parcelcast/pkg/logger"
)

// TemplateInput creates a draft template.
type TemplateInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// TemplatePatch revises a template. Nil members are left unchanged.
type TemplatePatch struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// parseSchema parses and compiles raw so broken schemas never get stored.
func parseSchema(raw json.RawMessage) (*forms.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: schema is required", ErrInvalidInput)
	}
	schema, err := forms.Parse(raw)
	if err != nil {
		return nil, err
	}
	if _, err := forms.Compile(schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// CreateTemplate stores a new draft template.
func (s *Service) CreateTemplate(ctx context.Context, actor identity.Identity, in TemplateInput) (*forms.Template, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	schema, err := parseSchema(in.Schema)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &forms.Template{
		ID:          s.newID(),
		Name:        name,
		Description: in.Description,
		Status:      forms.StatusDraft,
		Schema:      *schema,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "template created", logger.String("template", t.ID), logger.String("by", actor.UserID))
	return t, nil
}

// GetTemplate returns one template.
func (s *Service) GetTemplate(ctx context.Context, id string) (*forms.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListTemplates lists templates, optionally by status, newest update first.
func (s *Service) ListTemplates(ctx context.Context, status string) ([]*forms.Template, error) {
	var st forms.Status
	if status != "" {
		parsed, err := forms.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		st = parsed
	}
	return s.store.ListTemplates(ctx, st)
}

// UpdateTemplate applies p. Schema changes are only accepted on drafts.
func (s *Service) UpdateTemplate(ctx context.Context, id string, p TemplatePatch) (*forms.Template, error) {
	rev := forms.Revision{Name: p.Name, Description: p.Description}
	if rev.Name != nil {
		name := strings.TrimSpace(*rev.Name)
		rev.Name = &name
	}
	if len(p.Schema) > 0 && string(p.Schema) != "null" {
		schema, err := parseSchema(p.Schema)
		if err != nil {
			return nil, err
		}
		rev.Schema = schema
	}
	return s.mutateTemplate(ctx, id, func(t *forms.Template) error {
		return t.Revise(rev, s.now())
	})
}

// PublishTemplate makes a draft selectable for package metadata.
func (s *Service) PublishTemplate(ctx context.Context, id string) (*forms.Template, error) {
	return s.mutateTemplate(ctx, id, func(t *forms.Template) error {
		return t.Publish(s.now())
	})
}

// ArchiveTemplate retires a template.
func (s *Service) ArchiveTemplate(ctx context.Context, id string) (*forms.Template, error) {
	return s.mutateTemplate(ctx, id, func(t *forms.Template) error {
		t.Archive(s.now())
		return nil
	})
}

func (s *Service) mutateTemplate(ctx context.Context, id string, fn func(*forms.Template) error) (*forms.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.forget(id)
	return t, nil
}

// ValidateMetadata checks metadata against a published template without
// storing anything.
func (s *Service) ValidateMetadata(ctx context.Context, templateID string, metadata map[string]any) (forms.Result, error) {
	t, err := s.selectableTemplate(ctx, templateID)
	if err != nil {
		return forms.Result{}, err
	}
	return s.check(t, metadata)
}

// selectableTemplate loads a template that new records may use.
func (s *Service) selectableTemplate(ctx context.Context, id string) (*forms.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidItemTemplate, id)
		}
		return nil, err
	}
	if !t.Selectable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidItemTemplate, id, t.Status)
	}
	return t, nil
}

package forms

import (
	"errors"
	"fmt"
	"time"
)

// Status is a template lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

var (
	ErrInvalidStatus     = errors.New("invalid template status")
	ErrInvalidTransition = errors.New("invalid template transition")
	ErrSchemaFrozen      = errors.New("template schema can only change while draft")
	ErrInvalidTemplate   = errors.New("invalid template")
)

// ParseStatus accepts one of draft, published or archived.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusDraft, StatusPublished, StatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Template owns a schema and its publication state.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Schema      Schema    `json:"schema"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Selectable reports whether new records may be validated against this template.
func (t *Template) Selectable() bool { return t.Status == StatusPublished }

// Publish moves a draft to published. Publishing twice is a no-op.
func (t *Template) Publish(now time.Time) error {
	switch t.Status {
	case StatusPublished:
		return nil
	case StatusDraft:
		t.Status = StatusPublished
		t.UpdatedAt = now
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusPublished)
	}
}

// Archive retires a template from selection.
func (t *Template) Archive(now time.Time) {
	if t.Status == StatusArchived {
		return
	}
	t.Status = StatusArchived
	t.UpdatedAt = now
}

// Revision is a partial template update. Nil members are left unchanged.
type Revision struct {
	Name        *string
	Description *string
	Schema      *Schema
}

// Revise applies r. Name and description may change in any state; the
// schema only while the template is a draft.
func (t *Template) Revise(r Revision, now time.Time) error {
	if r.Schema != nil && t.Status != StatusDraft {
		return fmt.Errorf("%w: template is %s", ErrSchemaFrozen, t.Status)
	}
	if r.Name != nil {
		if *r.Name == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidTemplate)
		}
		t.Name = *r.Name
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Schema != nil {
		t.Schema = *r.Schema
	}
	t.UpdatedAt = now
	return nil
}

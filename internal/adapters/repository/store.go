// Package repository persists form templates and packages.
package repository

import (
	"context"

	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/internal/domain/model"
)

// Default and maximum page sizes for package listings.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// PackageFilter narrows ListPackages. Zero fields match everything.
type PackageFilter struct {
	Status   model.Status
	DriverID string
	// Query matches barcodes case-insensitively by substring.
	Query  string
	Limit  int
	Offset int
}

func (f PackageFilter) page() (limit, offset int) {
	limit = f.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// TemplateStore persists form templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *forms.Template) error
	// GetTemplate returns ErrNotFound for unknown ids.
	GetTemplate(ctx context.Context, id string) (*forms.Template, error)
	// ListTemplates returns templates newest update first. An empty status
	// lists all of them.
	ListTemplates(ctx context.Context, status forms.Status) ([]*forms.Template, error)
	UpdateTemplate(ctx context.Context, t *forms.Template) error
}

// PackageStore persists packages. Barcodes are unique; writes that would
// duplicate one return ErrConflict.
type PackageStore interface {
	CreatePackage(ctx context.Context, p *model.Package) error
	GetPackage(ctx context.Context, id string) (*model.Package, error)
	GetPackageByBarcode(ctx context.Context, barcode string) (*model.Package, error)
	// ListPackages returns one page, newest first, and the total match count.
	ListPackages(ctx context.Context, f PackageFilter) ([]*model.Package, int, error)
	UpdatePackage(ctx context.Context, p *model.Package) error
	// DeletePackage removes the package and returns what was stored.
	DeletePackage(ctx context.Context, id string) (*model.Package, error)
}

// Store is everything the application service persists.
type Store interface {
	TemplateStore
	PackageStore
	Ping(ctx context.Context) error
	Close() error
}

package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/internal/domain/model"
)

// Memory is a process-local Store. Records are copied in and out so callers
// never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]forms.Template
	packages  map[string]*model.Package
	barcodes  map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		templates: make(map[string]forms.Template),
		packages:  make(map[string]*model.Package),
		barcodes:  make(map[string]string),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateTemplate(_ context.Context, t *forms.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; ok {
		return fmt.Errorf("template %s: %w", t.ID, ErrConflict)
	}
	m.templates[t.ID] = *t
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, id string) (*forms.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

func (m *Memory) ListTemplates(_ context.Context, status forms.Status) ([]*forms.Template, error) {
	m.mu.RLock()
	out := make([]*forms.Template, 0, len(m.templates))
	for _, t := range m.templates {
		if status != "" && t.Status != status {
			continue
		}
		t := t
		out = append(out, &t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateTemplate(_ context.Context, t *forms.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; !ok {
		return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}
	m.templates[t.ID] = *t
	return nil
}

func clonePackage(p *model.Package) *model.Package {
	c := *p
	if p.Location != nil {
		loc := *p.Location
		c.Location = &loc
	}
	if p.DeliveredAt != nil {
		at := *p.DeliveredAt
		c.DeliveredAt = &at
	}
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}

func (m *Memory) CreatePackage(_ context.Context, p *model.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[p.ID]; ok {
		return fmt.Errorf("package %s: %w", p.ID, ErrConflict)
	}
	if _, ok := m.barcodes[p.Barcode]; ok {
		return fmt.Errorf("barcode %s: %w", p.Barcode, ErrConflict)
	}
	m.packages[p.ID] = clonePackage(p)
	m.barcodes[p.Barcode] = p.ID
	return nil
}

func (m *Memory) GetPackage(_ context.Context, id string) (*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	return clonePackage(p), nil
}

func (m *Memory) GetPackageByBarcode(_ context.Context, barcode string) (*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.barcodes[barcode]
	if !ok {
		return nil, fmt.Errorf("barcode %s: %w", barcode, ErrNotFound)
	}
	return clonePackage(m.packages[id]), nil
}

func (m *Memory) ListPackages(_ context.Context, f PackageFilter) ([]*model.Package, int, error) {
	limit, offset := f.page()
	q := strings.ToLower(f.Query)

	m.mu.RLock()
	matched := make([]*model.Package, 0)
	for _, p := range m.packages {
		switch {
		case f.Status != "" && p.Status != f.Status:
		case f.DriverID != "" && p.DriverID != f.DriverID:
		case q != "" && !strings.Contains(strings.ToLower(p.Barcode), q):
		default:
			matched = append(matched, clonePackage(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if offset >= total {
		return []*model.Package{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (m *Memory) UpdatePackage(_ context.Context, p *model.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.packages[p.ID]
	if !ok {
		return fmt.Errorf("package %s: %w", p.ID, ErrNotFound)
	}
	if p.Barcode != old.Barcode {
		if _, taken := m.barcodes[p.Barcode]; taken {
			return fmt.Errorf("barcode %s: %w", p.Barcode, ErrConflict)
		}
		delete(m.barcodes, old.Barcode)
		m.barcodes[p.Barcode] = p.ID
	}
	m.packages[p.ID] = clonePackage(p)
	return nil
}

func (m *Memory) DeletePackage(_ context.Context, id string) (*model.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	delete(m.packages, id)
	delete(m.barcodes, p.Barcode)
	return p, nil
}

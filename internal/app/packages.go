package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/okian/parcelcast/internal/domain/model"
	"github.com/okian/parcelcast/pkg/logger"
)

const (
	minBarcodeLen = 3
	minAddressLen = 3
)

// CreatePackageInput is the body of a package creation.
type CreatePackageInput struct {
	Barcode        string          `json:"barcode"`
	Status         string          `json:"status,omitempty"`
	Recipient      model.Recipient `json:"recipient"`
	DriverID       string          `json:"driverId,omitempty"`
	Location       *model.Location `json:"location,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	ItemTemplateID string          `json:"itemTemplateId,omitempty"`
}

// UpdatePackageInput changes a package. Nil members are left unchanged; an
// empty DriverID unassigns the driver.
type UpdatePackageInput struct {
	Status   *string         `json:"status,omitempty"`
	DriverID *string         `json:"driverId,omitempty"`
	Location *model.Location `json:"location,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (in CreatePackageInput) check() (model.Status, error) {
	var problems []string
	if len(strings.TrimSpace(in.Barcode)) < minBarcodeLen {
		problems = append(problems, fmt.Sprintf("barcode: at least %d characters", minBarcodeLen))
	}
	if strings.TrimSpace(in.Recipient.Name) == "" {
		problems = append(problems, "recipient.name: required")
	}
	if len(strings.TrimSpace(in.Recipient.Address)) < minAddressLen {
		problems = append(problems, fmt.Sprintf("recipient.address: at least %d characters", minAddressLen))
	}
	if in.Recipient.Email != "" {
		if _, err := mail.ParseAddress(in.Recipient.Email); err != nil {
			problems = append(problems, "recipient.email: invalid")
		}
	}
	status := model.StatusPending
	if in.Status != "" {
		st, err := model.ParseStatus(in.Status)
		if err != nil {
			problems = append(problems, "status: "+err.Error())
		}
		status = st
	}
	if len(problems) > 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return status, nil
}

// CreatePackage stores a package. With an item template, metadata must
// satisfy that template's schema and is stored in its normalized form.
func (s *Service) CreatePackage(ctx context.Context, actor identity.Identity, in CreatePackageInput) (*model.Package, error) {
	status, err := in.check()
	if err != nil {
		return nil, err
	}

	metadata := in.Metadata
	if in.ItemTemplateID != "" {
		t, err := s.selectableTemplate(ctx, in.ItemTemplateID)
		if err != nil {
			return nil, err
		}
		res, err := s.check(t, in.Metadata)
		if err != nil {
			return nil, err
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		metadata = res.Value
	}

	now := s.now()
	p := &model.Package{
		ID:             s.newID(),
		Barcode:        strings.TrimSpace(in.Barcode),
		Status:         status,
		Recipient:      in.Recipient,
		DriverID:       in.DriverID,
		Location:       in.Location,
		Metadata:       metadata,
		ItemTemplateID: in.ItemTemplateID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == model.StatusDelivered {
		p.DeliveredAt = &now
	}
	if err := s.store.CreatePackage(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "package created",
		logger.String("package", p.ID),
		logger.String("barcode", p.Barcode),
		logger.String("by", actor.UserID),
	)
	s.publish(ctx, event.Event{
		Type:      event.PackageCreated,
		PackageID: p.ID,
		DriverID:  p.DriverID,
		Payload:   map[string]any{"status": string(p.Status), "barcode": p.Barcode},
	})
	return p, nil
}

// GetPackage returns one package or ErrPackageNotFound.
func (s *Service) GetPackage(ctx context.Context, id string) (*model.Package, error) {
	p, err := s.store.GetPackage(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListPackages returns one page of packages and the total match count.
func (s *Service) ListPackages(ctx context.Context, f repository.PackageFilter) ([]*model.Package, int, error) {
	if f.Status != "" {
		if _, err := model.ParseStatus(string(f.Status)); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	if f.Limit < 0 || f.Limit > repository.MaxLimit || f.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: limit must be 1..%d and offset non-negative", ErrInvalidInput, repository.MaxLimit)
	}
	return s.store.ListPackages(ctx, f)
}

// UpdatePackage applies in and publishes package.updated.
func (s *Service) UpdatePackage(ctx context.Context, actor identity.Identity, id string, in UpdatePackageInput) (*model.Package, error) {
	p, err := s.store.GetPackage(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	now := s.now()

	if in.Status != nil {
		st, err := model.ParseStatus(*in.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if st == model.StatusDelivered && p.Status != model.StatusDelivered {
			p.DeliveredAt = &now
		}
		p.Status = st
	}
	if in.DriverID != nil {
		p.DriverID = strings.TrimSpace(*in.DriverID)
	}
	if in.Location != nil {
		loc := *in.Location
		p.Location = &loc
	}
	if in.Metadata != nil {
		metadata, err := s.revalidate(ctx, p, in.Metadata)
		if err != nil {
			return nil, err
		}
		p.Metadata = metadata
	}
	p.UpdatedAt = now

	if err := s.store.UpdatePackage(ctx, p); err != nil {
		return nil, notFound(err)
	}
	s.logger.Debug(ctx, "package updated", logger.String("package", p.ID), logger.String("by", actor.UserID))
	s.publish(ctx, event.Event{
		Type:      event.PackageUpdated,
		PackageID: p.ID,
		DriverID:  p.DriverID,
		Payload:   map[string]any{"status": string(p.Status)},
	})
	return p, nil
}

// revalidate checks replacement metadata against the template the package
// was created with, whatever that template's status is now.
func (s *Service) revalidate(ctx context.Context, p *model.Package, metadata map[string]any) (map[string]any, error) {
	if p.ItemTemplateID == "" {
		return metadata, nil
	}
	t, err := s.store.GetTemplate(ctx, p.ItemTemplateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidItemTemplate, p.ItemTemplateID)
		}
		return nil, err
	}
	res, err := s.check(t, metadata)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// DeletePackage removes a package and publishes package.deleted.
func (s *Service) DeletePackage(ctx context.Context, actor identity.Identity, id string) error {
	p, err := s.store.DeletePackage(ctx, id)
	if err != nil {
		return notFound(err)
	}
	s.logger.Info(ctx, "package deleted", logger.String("package", p.ID), logger.String("by", actor.UserID))
	s.publish(ctx, event.Event{
		Type:      event.PackageDeleted,
		PackageID: p.ID,
		DriverID:  p.DriverID,
		Payload:   map[string]any{"barcode": p.Barcode},
	})
	return nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPackageNotFound, err)
	}
	return err
}

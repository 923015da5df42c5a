package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/okian/parcelcast/internal/domain/model"
	"github.com/okian/parcelcast/pkg/logger"
)

// ScanInput is one driver scan.
type ScanInput struct {
	Barcode string          `json:"barcode"`
	Stage   string          `json:"stage"`
	GPS     *model.Location `json:"gps,omitempty"`
}

// ApplyScan moves the scanned package along and publishes, in order,
// scan.applied, location.changed when a fix was sent, status.updated when
// the stage sets a status and delivery.completed once delivered.
func (s *Service) ApplyScan(ctx context.Context, actor identity.Identity, in ScanInput) (*model.Package, error) {
	barcode := strings.TrimSpace(in.Barcode)
	if barcode == "" {
		return nil, fmt.Errorf("%w: barcode is required", ErrInvalidInput)
	}
	stage, err := model.ParseStage(in.Stage)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	p, err := s.store.GetPackageByBarcode(ctx, barcode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: barcode %s", ErrPackageNotFound, barcode)
		}
		return nil, err
	}

	status, changed := p.Scan(stage, in.GPS, s.now())
	if err := s.store.UpdatePackage(ctx, p); err != nil {
		return nil, notFound(err)
	}
	s.logger.Debug(ctx, "scan applied",
		logger.String("package", p.ID),
		logger.String("stage", string(stage)),
		logger.String("driver", actor.UserID),
	)

	emit := func(t event.Type, payload map[string]any) {
		s.publish(ctx, event.Event{Type: t, PackageID: p.ID, DriverID: p.DriverID, Payload: payload})
	}
	emit(event.ScanApplied, map[string]any{"stage": string(stage)})
	if in.GPS != nil {
		emit(event.LocationChanged, map[string]any{"gps": *in.GPS})
	}
	if changed {
		emit(event.StatusUpdated, map[string]any{"status": string(status)})
		if status == model.StatusDelivered {
			emit(event.DeliveryCompleted, map[string]any{})
		}
	}
	return p, nil
}

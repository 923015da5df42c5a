// Package model contains the delivery records passed between layers.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Status is the delivery state of a package.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

var (
	ErrInvalidStatus = errors.New("invalid package status")
	ErrInvalidStage  = errors.New("invalid scan stage")
)

// ParseStatus accepts one of the known statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusPickedUp, StatusInTransit, StatusDelivered, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Stage is what a driver's scan reports.
type Stage string

const (
	StagePackageScanned    Stage = "package_scanned"
	StageStatusUpdated     Stage = "status_updated"
	StageDeliveryCompleted Stage = "delivery_completed"
)

// ParseStage accepts one of the known scan stages.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StagePackageScanned, StageStatusUpdated, StageDeliveryCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
}

// Status returns the status a scan at this stage moves the package to.
// ok is false when the stage leaves the status alone.
func (s Stage) Status() (status Status, ok bool) {
	switch s {
	case StagePackageScanned:
		return StatusInTransit, true
	case StageDeliveryCompleted:
		return StatusDelivered, true
	default:
		return "", false
	}
}

// Location is a GPS fix.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Recipient is who the package is addressed to.
type Recipient struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
}

// Package is one tracked delivery.
type Package struct {
	ID             string         `json:"id"`
	Barcode        string         `json:"barcode"`
	Status         Status         `json:"status"`
	Recipient      Recipient      `json:"recipient"`
	DriverID       string         `json:"driverId,omitempty"`
	Location       *Location      `json:"location,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ItemTemplateID string         `json:"itemTemplateId,omitempty"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Scan applies a scan at stage, optionally with a GPS fix, and reports the
// new status when the stage sets one.
func (p *Package) Scan(stage Stage, gps *Location, now time.Time) (Status, bool) {
	if gps != nil {
		loc := *gps
		p.Location = &loc
	}
	status, ok := stage.Status()
	if ok {
		p.Status = status
		if status == StatusDelivered {
			at := now
			p.DeliveredAt = &at
		}
	}
	p.UpdatedAt = now
	return status, ok
}

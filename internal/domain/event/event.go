// Package event defines package lifecycle events, their delivery classes and
// the rooms they fan out to.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Type names a domain event on the wire.
type Type string

const (
	PackageCreated    Type = "package.created"
	PackageUpdated    Type = "package.updated"
	PackageDeleted    Type = "package.deleted"
	ScanApplied       Type = "scan.applied"
	StatusUpdated     Type = "status.updated"
	LocationChanged   Type = "location.changed"
	DeliveryCompleted Type = "delivery.completed"
)

// ErrMalformedEvent is returned for events that cannot be routed.
var ErrMalformedEvent = errors.New("malformed event")

// Class is the delivery guarantee of an event type.
type Class string

const (
	// BestEffort events may be dropped when a connection is backed up.
	BestEffort Class = "best_effort"
	// Reliable events wait for queue space and evict consumers that never make any.
	Reliable Class = "reliable"
)

// classes is consulted once per publish. High-frequency signals superseded by
// the next update are best-effort; lifecycle milestones are reliable.
var classes = map[Type]Class{ //nolint:gochecknoglobals // static table
	PackageCreated:    Reliable,
	PackageUpdated:    Reliable,
	PackageDeleted:    Reliable,
	DeliveryCompleted: Reliable,
	ScanApplied:       BestEffort,
	StatusUpdated:     BestEffort,
	LocationChanged:   BestEffort,
}

// ClassOf returns the delivery class of t.
func ClassOf(t Type) Class {
	if c, ok := classes[t]; ok {
		return c
	}
	return Reliable
}

// Known reports whether t is one of the defined event types.
func (t Type) Known() bool {
	_, ok := classes[t]
	return ok
}

// Event is a domain event produced by package and scan handlers.
type Event struct {
	Type      Type
	PackageID string
	// DriverID is empty when no driver is assigned.
	DriverID string
	Payload  map[string]any
}

// Validate reports why e cannot be published.
func (e Event) Validate() error {
	switch {
	case e.PackageID == "":
		return fmt.Errorf("%w: missing packageId", ErrMalformedEvent)
	case !e.Type.Known():
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// tsLayout matches JavaScript's Date.toISOString output.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// Data builds the client payload: payload fields first, then eventType,
// packageId and ts, which always win over payload keys of the same name.
func (e Event) Data(ts time.Time) map[string]any {
	data := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		data[k] = v
	}
	data["eventType"] = string(e.Type)
	data["packageId"] = e.PackageID
	data["ts"] = ts.UTC().Format(tsLayout)
	return data
}

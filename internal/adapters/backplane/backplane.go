// Package backplane carries room-targeted frames between service processes.
//
// Membership never leaves a process. Each process publishes the frames it
// produced together with their target rooms, and every process delivers
// received frames to its own local members of those rooms.
package backplane

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/okian/parcelcast/internal/domain/event"
)

// DefaultChannel is the Redis pub/sub channel shared by all processes.
const DefaultChannel = "parcelcast:rt"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("backplane closed")

// Envelope is one frame addressed to a set of rooms.
type Envelope struct {
	// Origin identifies the publishing process so it can skip its own frames.
	Origin string          `json:"origin"`
	Type   event.Type      `json:"type"`
	Class  event.Class     `json:"class"`
	Rooms  []event.Room    `json:"rooms"`
	Frame  json.RawMessage `json:"frame"`
}

// Handler receives envelopes published by any process, including this one.
type Handler func(Envelope)

// Subscription stops delivery when closed.
type Subscription interface {
	Close() error
}

// Backplane publishes envelopes to every subscribed process.
type Backplane interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe returns once the subscription is active. Handler runs on a
	// single goroutine per subscription, in publish order.
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
	// Shared reports whether envelopes reach other processes.
	Shared() bool
	Close() error
}

// Local is the single-process backplane: publishing goes nowhere.
type Local struct{}

var _ Backplane = Local{}

func (Local) Publish(context.Context, Envelope) error { return nil }

func (Local) Subscribe(context.Context, Handler) (Subscription, error) { return nopSubscription{}, nil }

func (Local) Shared() bool { return false }

func (Local) Close() error { return nil }

type nopSubscription struct{}

func (nopSubscription) Close() error { return nil }

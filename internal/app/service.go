// Package service implements the package, scan and form-template operations
// behind the HTTP API. Every successful write publishes its domain events
// through the realtime dispatcher.
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/parcelcast/internal/adapters/realtime"
	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/pkg/logger"
	"github.com/okian/parcelcast/pkg/metrics"
)

// StatsSource exposes realtime gateway counters.
type StatsSource interface {
	Stats() realtime.Stats
}

// Stats is the service snapshot served on /stats.
type Stats struct {
	Realtime         realtime.Stats `json:"realtime"`
	CachedValidators int            `json:"cachedValidators"`
}

// Service owns the write paths of the API.
type Service struct {
	store     repository.Store
	publisher realtime.Publisher
	stats     StatsSource

	// validators caches compiled templates by id and revision.
	validators sync.Map

	now    func() time.Time
	newID  func() string
	logger logger.Logger
}

// New constructs a Service over store, publishing through pub.
func New(store repository.Store, pub realtime.Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("service")
	return s
}

// Stats returns realtime counters and cache size.
func (s *Service) Stats() Stats {
	var st Stats
	if s.stats != nil {
		st.Realtime = s.stats.Stats()
	}
	s.validators.Range(func(any, any) bool {
		st.CachedValidators++
		return true
	})
	return st
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// publish emits e and logs failures. Writes have already succeeded at this
// point, so errors never reach the caller.
func (s *Service) publish(ctx context.Context, e event.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error(ctx, "event not published",
			logger.String("type", string(e.Type)),
			logger.String("package", e.PackageID),
			logger.Error(err),
		)
	}
}

func validatorKey(t *forms.Template) string {
	return t.ID + "@" + strconv.FormatInt(t.UpdatedAt.UnixNano(), 10)
}

// validator returns the compiled validator for t's current revision.
func (s *Service) validator(t *forms.Template) (*forms.Validator, error) {
	key := validatorKey(t)
	if v, ok := s.validators.Load(key); ok {
		return v.(*forms.Validator), nil
	}
	schema := t.Schema
	v, err := forms.Compile(&schema)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", t.ID, err)
	}
	actual, _ := s.validators.LoadOrStore(key, v)
	return actual.(*forms.Validator), nil
}

// forget drops cached validators of older revisions of id.
func (s *Service) forget(id string) {
	prefix := id + "@"
	s.validators.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			s.validators.Delete(k)
		}
		return true
	})
}

// check validates metadata and records the outcome.
func (s *Service) check(t *forms.Template, metadata map[string]any) (forms.Result, error) {
	v, err := s.validator(t)
	if err != nil {
		return forms.Result{}, err
	}
	res := v.Validate(metadata)
	metrics.RecordValidation(res.OK())
	for _, codes := range res.Fields {
		for _, code := range codes {
			code, _, _ = strings.Cut(code, ":")
			metrics.RecordFieldError(code)
		}
	}
	return res, nil
}

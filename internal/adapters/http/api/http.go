// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/parcelcast/internal/adapters/kv"
	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/adapters/token"
	service "github.com/okian/parcelcast/internal/app"
	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/okian/parcelcast/internal/domain/model"
	"github.com/okian/parcelcast/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Service is the application layer behind the HTTP handlers.
type Service interface {
	CreateTemplate(ctx context.Context, actor identity.Identity, in service.TemplateInput) (*forms.Template, error)
	GetTemplate(ctx context.Context, id string) (*forms.Template, error)
	ListTemplates(ctx context.Context, status string) ([]*forms.Template, error)
	UpdateTemplate(ctx context.Context, id string, p service.TemplatePatch) (*forms.Template, error)
	PublishTemplate(ctx context.Context, id string) (*forms.Template, error)
	ArchiveTemplate(ctx context.Context, id string) (*forms.Template, error)
	ValidateMetadata(ctx context.Context, templateID string, metadata map[string]any) (forms.Result, error)

	CreatePackage(ctx context.Context, actor identity.Identity, in service.CreatePackageInput) (*model.Package, error)
	GetPackage(ctx context.Context, id string) (*model.Package, error)
	ListPackages(ctx context.Context, f repository.PackageFilter) ([]*model.Package, int, error)
	UpdatePackage(ctx context.Context, actor identity.Identity, id string, in service.UpdatePackageInput) (*model.Package, error)
	DeletePackage(ctx context.Context, actor identity.Identity, id string) error
	ApplyScan(ctx context.Context, actor identity.Identity, in service.ScanInput) (*model.Package, error)

	Stats() service.Stats
	Ping(ctx context.Context) error
}

// Rate-limit scopes for mutating routes.
const (
	ScopeCreate = "create"
	ScopeUpdate = "update"
	ScopeDelete = "delete"
	ScopeScan   = "scan"
)

// Server wires HTTP routes for the business API.
type Server struct {
	svc      Service
	verifier token.Verifier
	cookie   string
	limits   map[string]int
	kv       kv.Store
	realtime http.Handler
	rtPath   string
	logger   logger.Logger

	limiters map[string]*kv.Limiter
}

// NewServer creates a new API server over svc. Requests are authenticated
// with v.
func NewServer(svc Service, v token.Verifier, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		verifier: v,
		cookie:   defaultCookie,
		limits:   map[string]int{},
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")
	s.limiters = make(map[string]*kv.Limiter, len(s.limits))
	if s.kv != nil {
		for scope, n := range s.limits {
			s.limiters[scope] = kv.NewLimiter(s.kv, "rl:http:"+scope+":", n, limitWindow)
		}
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	health := NewHealthHandler(s.svc)
	mux.HandleFunc("GET /healthz", MetricsMiddleware(health.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(NewStatsHandler(s.svc).HandleStats, "stats"))
	if s.realtime != nil {
		mux.Handle("GET "+s.rtPath, s.realtime)
	}

	tpl := &templateHandler{svc: s.svc}
	s.route(mux, "GET /v1/forms/templates", "templates", identity.Admin, "", tpl.list)
	s.route(mux, "POST /v1/forms/templates", "templates", identity.Admin, ScopeCreate, tpl.create)
	s.route(mux, "GET /v1/forms/templates/{id}", "template", identity.Admin, "", tpl.get)
	s.route(mux, "PUT /v1/forms/templates/{id}", "template", identity.Admin, ScopeUpdate, tpl.update)
	s.route(mux, "DELETE /v1/forms/templates/{id}", "template", identity.Admin, ScopeDelete, tpl.archive)
	s.route(mux, "POST /v1/forms/templates/{id}/publish", "template_publish", identity.Admin, ScopeUpdate, tpl.publish)
	s.route(mux, "POST /v1/forms/validate", "forms_validate", identity.Viewer, "", tpl.validate)

	pkg := &packageHandler{svc: s.svc}
	s.route(mux, "GET /v1/packages", "packages", identity.Viewer, "", pkg.list)
	s.route(mux, "POST /v1/packages", "packages", identity.Manager, ScopeCreate, pkg.create)
	s.route(mux, "GET /v1/packages/{id}", "package", identity.Viewer, "", pkg.get)
	s.route(mux, "PUT /v1/packages/{id}", "package", identity.Manager, ScopeUpdate, pkg.update)
	s.route(mux, "DELETE /v1/packages/{id}", "package", identity.Manager, ScopeDelete, pkg.remove)
	s.route(mux, "POST /v1/scan", "scan", identity.Driver, ScopeScan, pkg.scan)
}

// route guards h with authentication at role, then the scope's rate limit.
func (s *Server) route(mux *http.ServeMux, pattern, endpoint string, role identity.Role, scope string, h handlerFunc) {
	var next http.HandlerFunc = func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.fail(w, r, err)
		}
	}
	if l, ok := s.limiters[scope]; ok {
		next = s.rateLimit(l, endpoint+"."+scope, next)
	}
	mux.HandleFunc(pattern, MetricsMiddleware(s.guard(role, next), endpoint))
}

// handlerFunc is a route body. Returned errors are mapped by fail.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// metadataResponse is the 422 body for rejected package metadata.
type metadataResponse struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields"`
}

type listResponse[T any] struct {
	Items []T  `json:"items"`
	Total *int `json:"total,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewKind(op, fmt.Errorf("%w: empty body", ErrBadRequest))
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// fail maps err to a status and error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *forms.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, metadataResponse{Error: "invalid_metadata", Fields: ve.Fields})
	case errors.Is(err, forms.ErrInvalidSchema):
		writeError(w, http.StatusBadRequest, "invalid_schema", err)
	case errors.Is(err, service.ErrInvalidItemTemplate):
		writeError(w, http.StatusBadRequest, "invalid_item_template", err)
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidInput), errors.Is(err, forms.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrPackageNotFound):
		writeError(w, http.StatusNotFound, "package_not_found", err)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, forms.ErrSchemaFrozen), errors.Is(err, forms.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err)
	default:
		s.logger.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}

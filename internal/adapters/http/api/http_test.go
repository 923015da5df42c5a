package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/parcelcast/internal/adapters/http/api"
	"github.com/okian/parcelcast/internal/adapters/kv"
	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/adapters/token"
	service "github.com/okian/parcelcast/internal/app"
	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/internal/domain/identity"
)

type nopPublisher struct{ n int }

func (p *nopPublisher) Publish(context.Context, event.Event) error {
	p.n++
	return nil
}

const schemaJSON = `{"version": 1, "fields": [
  {"id": "priority", "type": "select", "label": "Priority", "required": true,
   "options": [{"value": "low", "label": "Low"}, {"value": "high", "label": "High"}]}
]}`

type fixture struct {
	mux    *http.ServeMux
	tokens *token.HMAC
	pub    *nopPublisher
}

func newFixture(opts ...api.Option) *fixture {
	tokens, err := token.NewHMAC("test-secret")
	So(err, ShouldBeNil)
	pub := &nopPublisher{}
	svc := service.New(repository.NewMemory(), pub)
	mux := http.NewServeMux()
	api.NewServer(svc, tokens, opts...).Register(context.Background(), mux)
	return &fixture{mux: mux, tokens: tokens, pub: pub}
}

func (f *fixture) do(role identity.Role, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	if role != "" {
		raw, err := f.tokens.Sign(identity.Identity{UserID: "U-" + string(role), Role: role}, time.Hour)
		So(err, ShouldBeNil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: raw})
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func (f *fixture) publishedTemplate() string {
	w := f.do(identity.Admin, "POST", "/v1/forms/templates", map[string]any{"name": "Delivery", "schema": json.RawMessage(schemaJSON)})
	So(w.Code, ShouldEqual, http.StatusCreated)
	id := decodeBody(w)["id"].(string)
	w = f.do(identity.Admin, "POST", "/v1/forms/templates/"+id+"/publish", nil)
	So(w.Code, ShouldEqual, http.StatusOK)
	return id
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given a registered server", t, func() {
		f := newFixture()

		Convey("Then health, stats and metrics answer without auth", func() {
			w := f.do("", "GET", "/healthz", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["status"], ShouldEqual, "ok")

			w = f.do("", "GET", "/stats", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w), ShouldContainKey, "realtime")

			w = f.do("", "GET", "/metrics", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestGuard(t *testing.T) {
	Convey("Given the package routes", t, func() {
		f := newFixture()

		Convey("When no cookie is sent", func() {
			w := f.do("", "GET", "/v1/packages", nil)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(decodeBody(w)["code"], ShouldEqual, "unauthorized")
		})

		Convey("When the token does not verify", func() {
			req := httptest.NewRequest("GET", "/v1/packages", nil)
			req.AddCookie(&http.Cookie{Name: "access_token", Value: "garbage"})
			w := httptest.NewRecorder()
			f.mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When the role is too low", func() {
			w := f.do(identity.Viewer, "POST", "/v1/packages", map[string]any{"barcode": "PKG-1"})
			So(w.Code, ShouldEqual, http.StatusForbidden)
			So(decodeBody(w)["code"], ShouldEqual, "forbidden")

			w = f.do(identity.Manager, "GET", "/v1/forms/templates", nil)
			So(w.Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("When a viewer reads", func() {
			w := f.do(identity.Viewer, "GET", "/v1/packages", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["total"], ShouldEqual, 0.0)
		})
	})
}

func TestTemplateRoutes(t *testing.T) {
	Convey("Given an admin", t, func() {
		f := newFixture()

		Convey("When a template goes through its lifecycle", func() {
			id := f.publishedTemplate()

			w := f.do(identity.Admin, "PUT", "/v1/forms/templates/"+id, map[string]any{"schema": json.RawMessage(schemaJSON)})
			So(w.Code, ShouldEqual, http.StatusConflict)

			w = f.do(identity.Admin, "GET", "/v1/forms/templates?status=published", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["items"], ShouldHaveLength, 1)

			w = f.do(identity.Admin, "DELETE", "/v1/forms/templates/"+id, nil)
			So(w.Code, ShouldEqual, http.StatusNoContent)

			w = f.do(identity.Admin, "GET", "/v1/forms/templates/"+id, nil)
			So(decodeBody(w)["status"], ShouldEqual, "archived")
		})

		Convey("When the template does not exist", func() {
			w := f.do(identity.Admin, "GET", "/v1/forms/templates/nope", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeBody(w)["code"], ShouldEqual, "not_found")
		})

		Convey("When the schema is broken", func() {
			w := f.do(identity.Admin, "POST", "/v1/forms/templates", map[string]any{"name": "x", "schema": map[string]any{"version": 9}})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeBody(w)["code"], ShouldEqual, "invalid_schema")
		})

		Convey("When the body is not JSON", func() {
			w := f.do(identity.Admin, "POST", "/v1/forms/templates", "{nope")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeBody(w)["code"], ShouldEqual, "bad_request")
		})

		Convey("When metadata is dry-run validated", func() {
			id := f.publishedTemplate()
			w := f.do(identity.Viewer, "POST", "/v1/forms/validate", map[string]any{"templateId": id, "metadata": map[string]any{"priority": "mid"}})
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decodeBody(w)
			So(body["valid"], ShouldEqual, false)
			So(body["fields"], ShouldResemble, map[string]any{"priority": []any{"invalid_selection"}})
		})
	})
}

func TestPackageRoutes(t *testing.T) {
	Convey("Given a manager and a published template", t, func() {
		f := newFixture()
		tplID := f.publishedTemplate()
		pkg := map[string]any{
			"barcode":        "PKG-001",
			"recipient":      map[string]any{"name": "Ada", "address": "1 Loop Rd"},
			"itemTemplateId": tplID,
			"metadata":       map[string]any{"priority": "high"},
		}

		Convey("When the package is created", func() {
			w := f.do(identity.Manager, "POST", "/v1/packages", pkg)
			So(w.Code, ShouldEqual, http.StatusCreated)
			id := decodeBody(w)["id"].(string)

			Convey("Then it can be read, updated and deleted", func() {
				So(f.do(identity.Viewer, "GET", "/v1/packages/"+id, nil).Code, ShouldEqual, http.StatusOK)

				w := f.do(identity.Manager, "PUT", "/v1/packages/"+id, map[string]any{"status": "picked_up"})
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["status"], ShouldEqual, "picked_up")

				So(f.do(identity.Manager, "DELETE", "/v1/packages/"+id, nil).Code, ShouldEqual, http.StatusNoContent)
				w = f.do(identity.Viewer, "GET", "/v1/packages/"+id, nil)
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(f.pub.n, ShouldEqual, 3)
			})

			Convey("Then the same barcode conflicts", func() {
				w := f.do(identity.Manager, "POST", "/v1/packages", pkg)
				So(w.Code, ShouldEqual, http.StatusConflict)
			})

			Convey("Then a driver can scan it", func() {
				w := f.do(identity.Driver, "POST", "/v1/scan", map[string]any{"barcode": "PKG-001", "stage": "delivery_completed"})
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["status"], ShouldEqual, "delivered")
			})
		})

		Convey("When metadata is rejected", func() {
			pkg["metadata"] = map[string]any{"priority": "urgent", "color": "red"}
			w := f.do(identity.Manager, "POST", "/v1/packages", pkg)
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			body := decodeBody(w)
			So(body["error"], ShouldEqual, "invalid_metadata")
			So(body["fields"], ShouldResemble, map[string]any{
				"priority": []any{"invalid_selection"},
				"_":        []any{"unrecognized_key: color"},
			})
		})

		Convey("When the item template is unknown", func() {
			pkg["itemTemplateId"] = "missing"
			w := f.do(identity.Manager, "POST", "/v1/packages", pkg)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeBody(w)["code"], ShouldEqual, "invalid_item_template")
		})

		Convey("When a scan names an unknown barcode", func() {
			w := f.do(identity.Driver, "POST", "/v1/scan", map[string]any{"barcode": "NOPE", "stage": "package_scanned"})
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeBody(w)["code"], ShouldEqual, "package_not_found")
		})

		Convey("When the list query is malformed", func() {
			w := f.do(identity.Viewer, "GET", "/v1/packages?limit=abc", nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a create limit of one per minute", t, func() {
		f := newFixture(api.WithRateLimits(kv.NewMemory(), map[string]int{api.ScopeCreate: 1}))
		body := map[string]any{"barcode": "PKG-9", "recipient": map[string]any{"name": "Ada", "address": "1 Loop Rd"}}

		So(f.do(identity.Manager, "POST", "/v1/packages", body).Code, ShouldEqual, http.StatusCreated)

		w := f.do(identity.Manager, "POST", "/v1/packages", body)
		So(w.Code, ShouldEqual, http.StatusTooManyRequests)
		So(w.Header().Get("Retry-After"), ShouldEqual, "60")

		Convey("Then other scopes and callers are unaffected", func() {
			So(f.do(identity.Viewer, "GET", "/v1/packages", nil).Code, ShouldEqual, http.StatusOK)
			So(f.do(identity.Admin, "POST", "/v1/packages", map[string]any{
				"barcode": "PKG-10", "recipient": map[string]any{"name": "Ada", "address": "1 Loop Rd"},
			}).Code, ShouldEqual, http.StatusCreated)
		})
	})
}

func TestWrapKind(t *testing.T) {
	Convey("Given a wrapped error", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)
		So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(api.NewKind("api.op", api.ErrForbidden).Error(), ShouldEqual, "api.op: forbidden")
	})
}

package api

import (
	"net/http"

	service "github.com/okian/parcelcast/internal/app"
	"github.com/okian/parcelcast/internal/domain/forms"
)

type templateHandler struct {
	svc Service
}

func (h *templateHandler) list(w http.ResponseWriter, r *http.Request) error {
	items, err := h.svc.ListTemplates(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		return err
	}
	if items == nil {
		items = []*forms.Template{}
	}
	writeJSON(w, http.StatusOK, listResponse[*forms.Template]{Items: items})
	return nil
}

func (h *templateHandler) create(w http.ResponseWriter, r *http.Request) error {
	var in service.TemplateInput
	if err := decode(w, r, "api.create_template", &in); err != nil {
		return err
	}
	t, err := h.svc.CreateTemplate(r.Context(), actor(r), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, t)
	return nil
}

func (h *templateHandler) get(w http.ResponseWriter, r *http.Request) error {
	t, err := h.svc.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, t)
	return nil
}

func (h *templateHandler) update(w http.ResponseWriter, r *http.Request) error {
	var p service.TemplatePatch
	if err := decode(w, r, "api.update_template", &p); err != nil {
		return err
	}
	t, err := h.svc.UpdateTemplate(r.Context(), r.PathValue("id"), p)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, t)
	return nil
}

func (h *templateHandler) publish(w http.ResponseWriter, r *http.Request) error {
	t, err := h.svc.PublishTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, t)
	return nil
}

// archive answers DELETE: templates are retired, never removed.
func (h *templateHandler) archive(w http.ResponseWriter, r *http.Request) error {
	if _, err := h.svc.ArchiveTemplate(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type validateRequest struct {
	TemplateID string         `json:"templateId"`
	Metadata   map[string]any `json:"metadata"`
}

type validateResponse struct {
	Valid  bool                `json:"valid"`
	Value  map[string]any      `json:"value,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// validate dry-runs metadata against a published template. Rejections are
// reported in the body with 200.
func (h *templateHandler) validate(w http.ResponseWriter, r *http.Request) error {
	const op = "api.validate_metadata"
	var in validateRequest
	if err := decode(w, r, op, &in); err != nil {
		return err
	}
	if in.TemplateID == "" {
		return WrapKind(op, ErrBadRequest, errMissing("templateId"))
	}
	res, err := h.svc.ValidateMetadata(r.Context(), in.TemplateID, in.Metadata)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: res.OK(), Value: res.Value, Fields: res.Fields})
	return nil
}

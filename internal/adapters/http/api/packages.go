package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/parcelcast/internal/adapters/repository"
	service "github.com/okian/parcelcast/internal/app"
	"github.com/okian/parcelcast/internal/domain/model"
)

type packageHandler struct {
	svc Service
}

func errMissing(field string) error {
	return errors.New("missing " + field)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, WrapKind("api.query", ErrBadRequest, errors.New(key+" must be an integer"))
	}
	return n, nil
}

func (h *packageHandler) list(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	f := repository.PackageFilter{
		Status:   model.Status(q.Get("status")),
		DriverID: q.Get("driverId"),
		Query:    q.Get("q"),
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return err
	}
	items, total, err := h.svc.ListPackages(r.Context(), f)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, listResponse[*model.Package]{Items: items, Total: &total})
	return nil
}

func (h *packageHandler) create(w http.ResponseWriter, r *http.Request) error {
	var in service.CreatePackageInput
	if err := decode(w, r, "api.create_package", &in); err != nil {
		return err
	}
	p, err := h.svc.CreatePackage(r.Context(), actor(r), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, p)
	return nil
}

func (h *packageHandler) get(w http.ResponseWriter, r *http.Request) error {
	p, err := h.svc.GetPackage(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, p)
	return nil
}

func (h *packageHandler) update(w http.ResponseWriter, r *http.Request) error {
	var in service.UpdatePackageInput
	if err := decode(w, r, "api.update_package", &in); err != nil {
		return err
	}
	p, err := h.svc.UpdatePackage(r.Context(), actor(r), r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, p)
	return nil
}

func (h *packageHandler) remove(w http.ResponseWriter, r *http.Request) error {
	if err := h.svc.DeletePackage(r.Context(), actor(r), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *packageHandler) scan(w http.ResponseWriter, r *http.Request) error {
	var in service.ScanInput
	if err := decode(w, r, "api.scan", &in); err != nil {
		return err
	}
	p, err := h.svc.ApplyScan(r.Context(), actor(r), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, p)
	return nil
}

package masterdata

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"etesti/internal/app/apiresp"
	"etesti/internal/app/request"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type catalogService interface {
	ListSectors(ctx context.Context) ([]Sector, error)
	GetSector(ctx context.Context, id uuid.UUID) (*Sector, error)
	CreateSector(ctx context.Context, in CreateSectorInput) (*Sector, error)
	UpdateSector(ctx context.Context, id uuid.UUID, in UpdateSectorInput) (*Sector, error)
	DeleteSector(ctx context.Context, id uuid.UUID) error
	ListSubjects(ctx context.Context, sectorID *uuid.UUID) ([]Subject, error)
	GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error)
	CreateSubject(ctx context.Context, in CreateSubjectInput) (*Subject, error)
	UpdateSubject(ctx context.Context, id uuid.UUID, in UpdateSubjectInput) (*Subject, error)
	DeleteSubject(ctx context.Context, id uuid.UUID) error
	ImportSubjectsCSV(ctx context.Context, r io.Reader) (*ImportReport, error)
}

type Handler struct {
	svc catalogService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createSectorRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	DisplayName string `json:"displayName" validate:"required,max=128"`
	IsActive    *bool  `json:"isActive"`
}

type updateSectorRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=64"`
	DisplayName *string `json:"displayName" validate:"omitempty,max=128"`
	IsActive    *bool   `json:"isActive"`
}

type createSubjectRequest struct {
	Label     string      `json:"label" validate:"required,max=128"`
	Value     string      `json:"value" validate:"required,max=64"`
	IsActive  *bool       `json:"isActive"`
	SectorIDs []uuid.UUID `json:"sectorIds"`
}

type updateSubjectRequest struct {
	Label     *string      `json:"label" validate:"omitempty,max=128"`
	Value     *string      `json:"value" validate:"omitempty,max=64"`
	IsActive  *bool        `json:"isActive"`
	SectorIDs *[]uuid.UUID `json:"sectorIds"`
}

func NewHandler(svc catalogService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListSectors(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSectors(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list sectors", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetSector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sec, err := h.svc.GetSector(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get sector", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sec})
}

func (h *Handler) CreateSector(w http.ResponseWriter, r *http.Request) {
	var req createSectorRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	sec, err := h.svc.CreateSector(r.Context(), CreateSectorInput{
		Name:        strings.ToUpper(req.Name),
		DisplayName: req.DisplayName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeServiceError(w, r, "create sector", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: sec})
}

func (h *Handler) UpdateSector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateSectorRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	if req.Name != nil {
		upper := strings.ToUpper(*req.Name)
		req.Name = &upper
	}
	sec, err := h.svc.UpdateSector(r.Context(), id, UpdateSectorInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeServiceError(w, r, "update sector", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sec})
}

func (h *Handler) DeleteSector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSector(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "delete sector", err)
		return
	}
	apiresp.WriteNoContent(w)
}

// ListSubjects accepts an optional ?sectorId= filter.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	var sectorID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("sectorId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid sectorId"})
			return
		}
		sectorID = &id
	}
	items, err := h.svc.ListSubjects(r.Context(), sectorID)
	if err != nil {
		h.writeServiceError(w, r, "list subjects", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// ListSectorSubjects serves /sectors/{id}/subjects and /subjects/sector/{sectorId}.
func (h *Handler) ListSectorSubjects(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "sectorId")
	if raw == "" {
		raw = chi.URLParam(r, "id")
	}
	sectorID, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid sectorId"})
		return
	}
	items, err := h.svc.ListSubjects(r.Context(), &sectorID)
	if err != nil {
		h.writeServiceError(w, r, "list sector subjects", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.GetSubject(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get subject", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sub})
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	sub, err := h.svc.CreateSubject(r.Context(), CreateSubjectInput{
		Label:     req.Label,
		Value:     req.Value,
		IsActive:  req.IsActive,
		SectorIDs: req.SectorIDs,
	})
	if err != nil {
		h.writeServiceError(w, r, "create subject", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: sub})
}

func (h *Handler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateSubjectRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	sub, err := h.svc.UpdateSubject(r.Context(), id, UpdateSubjectInput{
		Label:     req.Label,
		Value:     req.Value,
		IsActive:  req.IsActive,
		SectorIDs: req.SectorIDs,
	})
	if err != nil {
		h.writeServiceError(w, r, "update subject", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sub})
}

func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSubject(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "delete subject", err)
		return
	}
	apiresp.WriteNoContent(w)
}

func (h *Handler) ImportSubjectsCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportSubjectsCSV(r.Context(), file)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownSector):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSectorNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Sector not found"})
	case errors.Is(err, ErrSubjectNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Subject not found"})
	case errors.Is(err, ErrDuplicateSector), errors.Is(err, ErrDuplicateSubject), errors.Is(err, ErrSectorInUse):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	default:
		log.Printf("%s: %v", op, err)
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

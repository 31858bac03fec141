package storage

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"etesti/internal/app/apiresp"
	"etesti/internal/app/request"
)

const maxUploadBytes = 5 << 20

var uploadFolders = map[string]bool{"questions": true, "options": true}

type Handler struct {
	svc storageService
}

type storageService interface {
	Enabled() bool
	Upload(ctx context.Context, folder, filename, contentType string, r io.Reader) (*UploadResult, error)
	SignedURL(name, method string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, nameOrURL string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

type signedURLRequest struct {
	Name      string `json:"name" validate:"required,max=1024"`
	Method    string `json:"method" validate:"omitempty,oneof=read write GET PUT DELETE"`
	ExpiresIn int    `json:"expiresIn" validate:"omitempty,min=1"`
}

func NewHandler(svc storageService) *Handler {
	return &Handler{svc: svc}
}

// Upload reads the multipart file field into folder, which must be
// questions or options.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	folder := strings.ToLower(strings.TrimSpace(r.FormValue("folder")))
	if folder == "" {
		folder = "questions"
	}
	if !uploadFolders[folder] {
		apiresp.WriteError(w, r, http.StatusBadRequest, "folder must be questions or options")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	res, err := h.svc.Upload(r.Context(), folder, hdr.Filename, hdr.Header.Get("Content-Type"), file)
	if err != nil {
		h.writeServiceError(w, r, "upload file", err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func (h *Handler) SignedURL(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	var req signedURLRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	url, err := h.svc.SignedURL(req.Name, req.Method, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		h.writeServiceError(w, r, "sign url", err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	if err := h.svc.Delete(r.Context(), r.URL.Query().Get("name")); err != nil {
		h.writeServiceError(w, r, "delete file", err)
		return
	}
	apiresp.WriteNoContent(w)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	items, err := h.svc.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.writeServiceError(w, r, "list files", err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) enabled(w http.ResponseWriter, r *http.Request) bool {
	if h.svc == nil || !h.svc.Enabled() {
		apiresp.WriteError(w, r, http.StatusServiceUnavailable, ErrNotConfigured.Error())
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "File not found")
	case errors.Is(err, ErrNotConfigured):
		apiresp.WriteError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("%s: %v", op, err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

package exam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"etesti/internal/app/apiresp"
	"etesti/internal/app/request"
	"etesti/internal/auth"
	"etesti/internal/question"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc examService
}

type examService interface {
	List(ctx context.Context, sectorID *uuid.UUID) ([]Exam, error)
	ListBySector(ctx context.Context, sectorID uuid.UUID) ([]Exam, error)
	Get(ctx context.Context, id uuid.UUID) (*Exam, error)
	Create(ctx context.Context, in CreateInput) (*Exam, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Exam, error)
	CreateComplete(ctx context.Context, in CompleteInput) (*CompleteResult, error)
	DeleteExam(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, email string) (*Exam, error)
	Reset(ctx context.Context, id, userID uuid.UUID) (*ResetResult, error)
	ExportXLSX(ctx context.Context, id uuid.UUID) ([]byte, error)
	ImportXLSX(ctx context.Context, in ImportInput, r io.Reader) (*ImportReport, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type examRequest struct {
	Title          string    `json:"title" validate:"required,max=255"`
	Description    string    `json:"description"`
	SectorID       uuid.UUID `json:"sectorId" validate:"required"`
	IsActive       *bool     `json:"isActive"`
	TotalQuestions *int      `json:"totalQuestions" validate:"omitempty,min=0"`
	PassingScore   *int      `json:"passingScore" validate:"omitempty,min=0"`
}

type updateExamRequest struct {
	Title          *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description    *string    `json:"description"`
	SectorID       *uuid.UUID `json:"sectorId"`
	IsActive       *bool      `json:"isActive"`
	TotalQuestions *int       `json:"totalQuestions" validate:"omitempty,min=0"`
	PassingScore   *int       `json:"passingScore" validate:"omitempty,min=0"`
}

type completeOptionRequest struct {
	Text         string  `json:"text"`
	ImageURL     *string `json:"imageUrl"`
	OptionLetter string  `json:"optionLetter" validate:"required,letter"`
	IsCorrect    bool    `json:"isCorrect"`
}

type completeQuestionRequest struct {
	Text        string                  `json:"text" validate:"required"`
	ImageURL    *string                 `json:"imageUrl"`
	SubjectID   *uuid.UUID              `json:"subjectId"`
	ExamPart    string                  `json:"examPart" validate:"omitempty,letter"`
	ParentID    *uuid.UUID              `json:"parentId"`
	DisplayText *string                 `json:"displayText"`
	Description *string                 `json:"description"`
	OrderNumber *int                    `json:"orderNumber" validate:"omitempty,min=1"`
	Points      *int                    `json:"points" validate:"omitempty,min=0"`
	IsActive    *bool                   `json:"isActive"`
	IsComplex   *bool                   `json:"isComplex"`
	Options     []completeOptionRequest `json:"options" validate:"omitempty,dive"`
}

type completeExamRequest struct {
	examRequest
	Questions []completeQuestionRequest `json:"questions" validate:"dive"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var sectorID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("sectorId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid sectorId"})
			return
		}
		sectorID = &id
	}
	items, err := h.svc.List(r.Context(), sectorID)
	if err != nil {
		h.writeServiceError(w, r, "list exams", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListBySector(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := parseUUIDParam(w, r, "sectorId")
	if !ok {
		return
	}
	items, err := h.svc.ListBySector(r.Context(), sectorID)
	if err != nil {
		h.writeServiceError(w, r, "list exams by sector", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get exam", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	item, err := h.svc.Create(r.Context(), req.toInput())
	if err != nil {
		h.writeServiceError(w, r, "create exam", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req updateExamRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	item, err := h.svc.Update(r.Context(), id, UpdateInput{
		Title:          req.Title,
		Description:    req.Description,
		SectorID:       req.SectorID,
		IsActive:       req.IsActive,
		TotalQuestions: req.TotalQuestions,
		PassingScore:   req.PassingScore,
	})
	if err != nil {
		h.writeServiceError(w, r, "update exam", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) CreateComplete(w http.ResponseWriter, r *http.Request) {
	var req completeExamRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	if len(req.Questions) == 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: ErrNoQuestions.Error()})
		return
	}

	in := CompleteInput{CreateInput: req.toInput()}
	for _, q := range req.Questions {
		qi := question.CreateInput{
			Text:        q.Text,
			ImageURL:    q.ImageURL,
			SubjectID:   q.SubjectID,
			ExamPart:    q.ExamPart,
			ParentID:    q.ParentID,
			DisplayText: q.DisplayText,
			Description: q.Description,
			OrderNumber: q.OrderNumber,
			Points:      q.Points,
			IsActive:    q.IsActive,
			IsComplex:   q.IsComplex,
		}
		for _, o := range q.Options {
			qi.Options = append(qi.Options, question.OptionInput{
				Text:         o.Text,
				ImageURL:     o.ImageURL,
				OptionLetter: o.OptionLetter,
				IsCorrect:    o.IsCorrect,
			})
		}
		in.Questions = append(in.Questions, qi)
	}

	res, err := h.svc.CreateComplete(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "create complete exam", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: res})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteExam(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "delete exam", err)
		return
	}
	apiresp.WriteNoContent(w)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	item, err := h.svc.Complete(r.Context(), id, user.Email)
	if err != nil {
		h.writeServiceError(w, r, "complete exam", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.Reset(r.Context(), id, user.ID)
	if err != nil {
		h.writeServiceError(w, r, "reset exam", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	data, err := h.svc.ExportXLSX(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "export exam", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Import reads a multipart form with file, title and sectorId fields.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid multipart form"})
		return
	}
	sectorID, err := uuid.Parse(strings.TrimSpace(r.FormValue("sectorId")))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "sectorId is required"})
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "title is required"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportXLSX(r.Context(), ImportInput{
		Title:       title,
		Description: strings.TrimSpace(r.FormValue("description")),
		SectorID:    sectorID,
	}, file)
	if err != nil {
		if errors.Is(err, ErrNoQuestions) && report != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: fmt.Sprintf("%s (%d row errors)", err.Error(), report.FailedRows)})
			return
		}
		h.writeServiceError(w, r, "import exam", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: report})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoQuestions), errors.Is(err, ErrUnknownSector):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Exam not found"})
	default:
		log.Printf("%s: %v", op, err)
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func (req examRequest) toInput() CreateInput {
	return CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		SectorID:       req.SectorID,
		IsActive:       req.IsActive,
		TotalQuestions: req.TotalQuestions,
		PassingScore:   req.PassingScore,
	}
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid " + key})
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

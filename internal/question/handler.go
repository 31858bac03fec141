package question

import (
	"context"
	"errors"
	"log"
	"net/http"

	"etesti/internal/app/apiresp"
	"etesti/internal/app/request"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]Question, error)
	ListByExamPart(ctx context.Context, examID uuid.UUID, part string) ([]Question, error)
	ListBySubject(ctx context.Context, examID, subjectID uuid.UUID) ([]Question, error)
	Get(ctx context.Context, id uuid.UUID) (*Question, error)
	Create(ctx context.Context, in CreateInput) (*Question, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Question, error)
	DeleteQuestion(ctx context.Context, id uuid.UUID) error
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type optionRequest struct {
	Text         string  `json:"text" validate:"max=2000"`
	ImageURL     *string `json:"imageUrl" validate:"omitempty,url,max=1024"`
	OptionLetter string  `json:"optionLetter" validate:"required,letter"`
	IsCorrect    bool    `json:"isCorrect"`
}

type createQuestionRequest struct {
	ExamID      uuid.UUID       `json:"examId" validate:"required"`
	Text        string          `json:"text" validate:"required"`
	ImageURL    *string         `json:"imageUrl" validate:"omitempty,url,max=1024"`
	SubjectID   *uuid.UUID      `json:"subjectId"`
	ExamPart    string          `json:"examPart" validate:"omitempty,letter"`
	ParentID    *uuid.UUID      `json:"parentId"`
	DisplayText *string         `json:"displayText"`
	Description *string         `json:"description"`
	OrderNumber *int            `json:"orderNumber" validate:"omitempty,min=1"`
	Points      *int            `json:"points" validate:"omitempty,min=0"`
	IsActive    *bool           `json:"isActive"`
	IsComplex   *bool           `json:"isComplex"`
	Options     []optionRequest `json:"options" validate:"omitempty,dive"`
}

type updateQuestionRequest struct {
	Text        *string          `json:"text" validate:"omitempty,min=1"`
	ImageURL    *string          `json:"imageUrl" validate:"omitempty,max=1024"`
	SubjectID   *uuid.UUID       `json:"subjectId"`
	ExamPart    *string          `json:"examPart" validate:"omitempty,letter"`
	ParentID    *uuid.UUID       `json:"parentId"`
	DisplayText *string          `json:"displayText"`
	Description *string          `json:"description"`
	OrderNumber *int             `json:"orderNumber" validate:"omitempty,min=1"`
	Points      *int             `json:"points" validate:"omitempty,min=0"`
	IsActive    *bool            `json:"isActive"`
	IsComplex   *bool            `json:"isComplex"`
	Options     *[]optionRequest `json:"options" validate:"omitempty,dive"`
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListByExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseUUIDParam(w, r, "examId")
	if !ok {
		return
	}
	items, err := h.svc.ListByExam(r.Context(), examID)
	if err != nil {
		h.writeServiceError(w, r, "list questions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ListByExamPart(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseUUIDParam(w, r, "examId")
	if !ok {
		return
	}
	items, err := h.svc.ListByExamPart(r.Context(), examID, chi.URLParam(r, "part"))
	if err != nil {
		h.writeServiceError(w, r, "list questions by part", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ListBySubject(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseUUIDParam(w, r, "examId")
	if !ok {
		return
	}
	subjectID, ok := parseUUIDParam(w, r, "subjectId")
	if !ok {
		return
	}
	items, err := h.svc.ListBySubject(r.Context(), examID, subjectID)
	if err != nil {
		h.writeServiceError(w, r, "list questions by subject", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get question", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createQuestionRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	item, err := h.svc.Create(r.Context(), CreateInput{
		ExamID:      req.ExamID,
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		SubjectID:   req.SubjectID,
		ExamPart:    req.ExamPart,
		ParentID:    req.ParentID,
		DisplayText: req.DisplayText,
		Description: req.Description,
		OrderNumber: req.OrderNumber,
		Points:      req.Points,
		IsActive:    req.IsActive,
		IsComplex:   req.IsComplex,
		Options:     toOptionInputs(req.Options),
	})
	if err != nil {
		h.writeServiceError(w, r, "create question", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req updateQuestionRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	in := UpdateInput{
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		SubjectID:   req.SubjectID,
		ExamPart:    req.ExamPart,
		ParentID:    req.ParentID,
		DisplayText: req.DisplayText,
		Description: req.Description,
		OrderNumber: req.OrderNumber,
		Points:      req.Points,
		IsActive:    req.IsActive,
		IsComplex:   req.IsComplex,
	}
	if req.Options != nil {
		opts := toOptionInputs(*req.Options)
		in.Options = &opts
	}

	item, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, "update question", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "delete question", err)
		return
	}
	apiresp.WriteNoContent(w)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidReference):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: "Exam not found"})
	case errors.Is(err, ErrQuestionNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: "Question not found"})
	case errors.Is(err, ErrDuplicateLetter):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("%s: %v", op, err)
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func toOptionInputs(in []optionRequest) []OptionInput {
	out := make([]OptionInput, 0, len(in))
	for _, o := range in {
		out = append(out, OptionInput{
			Text:         o.Text,
			ImageURL:     o.ImageURL,
			OptionLetter: o.OptionLetter,
			IsCorrect:    o.IsCorrect,
		})
	}
	return out
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid " + key})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

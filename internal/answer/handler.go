package answer

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"etesti/internal/app/apiresp"
	"etesti/internal/app/request"
	"etesti/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type answerService interface {
	Submit(ctx context.Context, in SubmitInput) (*Answer, bool, error)
	Update(ctx context.Context, in UpdateInput) (*Answer, error)
	Withdraw(ctx context.Context, answerID, userID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, examID *uuid.UUID) ([]AnswerDetail, error)
	Results(ctx context.Context, userID, examID uuid.UUID) (*Result, error)
}

type Handler struct {
	svc answerService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type submitRequest struct {
	ExamID           uuid.UUID `json:"examId" validate:"required"`
	QuestionID       uuid.UUID `json:"questionId" validate:"required"`
	SelectedOptionID uuid.UUID `json:"selectedOptionId" validate:"required"`
	Points           *int      `json:"points" validate:"omitempty,min=0"`
	TimeSpentSeconds *int      `json:"timeSpentSeconds" validate:"omitempty,min=0"`
}

type updateRequest struct {
	SelectedOptionID uuid.UUID `json:"selectedOptionId" validate:"required"`
	Points           *int      `json:"points" validate:"omitempty,min=0"`
	TimeSpentSeconds *int      `json:"timeSpentSeconds" validate:"omitempty,min=0"`
}

func NewHandler(svc answerService) *Handler {
	return &Handler{svc: svc}
}

// Submit answers 201 for a new selection and 200 for a resubmission.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}

	var req submitRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	a, created, err := h.svc.Submit(r.Context(), SubmitInput{
		UserID:           user.ID,
		ExamID:           req.ExamID,
		QuestionID:       req.QuestionID,
		SelectedOptionID: req.SelectedOptionID,
		Points:           req.Points,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		h.writeServiceError(w, r, "submit answer", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, response{OK: true, Data: a})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}

	var examID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("examId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid examId"})
			return
		}
		examID = &id
	}

	items, err := h.svc.List(r.Context(), user.ID, examID)
	if err != nil {
		h.writeServiceError(w, r, "list answers", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}
	examID, err := uuid.Parse(chi.URLParam(r, "examId"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid examId"})
		return
	}

	res, err := h.svc.Results(r.Context(), user.ID, examID)
	if err != nil {
		h.writeServiceError(w, r, "exam results", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}
	answerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid id"})
		return
	}

	var req updateRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	a, err := h.svc.Update(r.Context(), UpdateInput{
		AnswerID:         answerID,
		UserID:           user.ID,
		SelectedOptionID: req.SelectedOptionID,
		Points:           req.Points,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		h.writeServiceError(w, r, "update answer", err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: a})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "User not authenticated"})
		return
	}
	answerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid id"})
		return
	}

	if err := h.svc.Withdraw(r.Context(), answerID, user.ID); err != nil {
		h.writeServiceError(w, r, "withdraw answer", err)
		return
	}
	apiresp.WriteNoContent(w)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrOptionNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Selected option not found"})
	case errors.Is(err, ErrAnswerNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "Answer not found"})
	case errors.Is(err, ErrAnswerForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "Access denied"})
	case errors.Is(err, ErrAnswerConflict):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	default:
		log.Printf("%s: %v", op, err)
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

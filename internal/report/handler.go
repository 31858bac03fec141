package report

import (
	"context"
	"errors"
	"log"
	"net/http"

	"etesti/internal/app/apiresp"
	"etesti/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc summaryService
}

type summaryService interface {
	SummaryByExam(ctx context.Context, examID, callerID uuid.UUID) (*ExamSummary, error)
}

func NewHandler(svc summaryService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "User not authenticated")
		return
	}
	examID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid exam id")
		return
	}
	out, err := h.svc.SummaryByExam(r.Context(), examID, user.ID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "Exam not found")
			return
		}
		log.Printf("exam summary: %v", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

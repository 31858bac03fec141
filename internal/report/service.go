package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"etesti/internal/answer"

	"github.com/google/uuid"
)

var ErrExamNotFound = errors.New("exam not found")

type Service struct {
	db      *sql.DB
	answers answerSource
}

// answerSource is satisfied by *answer.Service.
type answerSource interface {
	ExamKey(ctx context.Context, examID uuid.UUID) ([]answer.KeyedQuestion, error)
	SelectionsByUser(ctx context.Context, examID uuid.UUID) (map[uuid.UUID][]answer.Selection, error)
}

type ParticipantScore struct {
	UserID         uuid.UUID `json:"userId"`
	CorrectAnswers int       `json:"correctAnswers"`
	Accuracy       float64   `json:"accuracy"`
	HasPassed      bool      `json:"hasPassed"`
	TotalPoints    int       `json:"totalPoints"`
	TotalTimeSpent int       `json:"totalTimeSpent"`
}

type ExamSummary struct {
	ExamID          uuid.UUID          `json:"examId"`
	Title           string             `json:"title"`
	TotalQuestions  int                `json:"totalQuestions"`
	Participants    int                `json:"participants"`
	AverageAccuracy float64            `json:"averageAccuracy"`
	HighestAccuracy float64            `json:"highestAccuracy"`
	LowestAccuracy  float64            `json:"lowestAccuracy"`
	Passed          int                `json:"passed"`
	Own             *ParticipantScore  `json:"own,omitempty"`
}

func NewService(db *sql.DB, answers answerSource) *Service {
	return &Service{db: db, answers: answers}
}

// SummaryByExam grades every user with answers on the exam against the
// current answer key. Only aggregates leave the service, plus the caller's
// own score when they took part.
func (s *Service) SummaryByExam(ctx context.Context, examID, callerID uuid.UUID) (*ExamSummary, error) {
	var title string
	if err := s.db.QueryRowContext(ctx, `SELECT title FROM exams WHERE id = $1`, examID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	key, err := s.answers.ExamKey(ctx, examID)
	if err != nil {
		return nil, err
	}
	byUser, err := s.answers.SelectionsByUser(ctx, examID)
	if err != nil {
		return nil, err
	}

	out := summarize(key, byUser, callerID)
	out.ExamID = examID
	out.Title = title
	return &out, nil
}

func summarize(key []answer.KeyedQuestion, byUser map[uuid.UUID][]answer.Selection, callerID uuid.UUID) ExamSummary {
	out := ExamSummary{TotalQuestions: len(key)}
	if len(byUser) == 0 {
		return out
	}

	var sum float64
	out.LowestAccuracy = 100
	for userID, selections := range byUser {
		sc := answer.Grade(key, selections)
		if userID == callerID {
			out.Own = &ParticipantScore{
				UserID:         userID,
				CorrectAnswers: sc.CorrectAnswers,
				Accuracy:       sc.Accuracy,
				HasPassed:      sc.HasPassed,
				TotalPoints:    sc.TotalPoints,
				TotalTimeSpent: sc.TotalTimeSpent,
			}
		}
		sum += sc.Accuracy
		if sc.Accuracy > out.HighestAccuracy {
			out.HighestAccuracy = sc.Accuracy
		}
		if sc.Accuracy < out.LowestAccuracy {
			out.LowestAccuracy = sc.Accuracy
		}
		if sc.HasPassed {
			out.Passed++
		}
	}
	out.Participants = len(byUser)
	out.AverageAccuracy = sum / float64(out.Participants)
	return out
}

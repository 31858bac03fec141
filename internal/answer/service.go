package answer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"etesti/internal/db"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrOptionNotFound  = errors.New("selected option not found")
	ErrAnswerNotFound  = errors.New("answer not found")
	ErrAnswerForbidden = errors.New("answer belongs to another user")
	ErrAnswerConflict  = errors.New("option already selected for this question")
)

type Service struct {
	db *sql.DB
}

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Answer struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"userId"`
	ExamID           uuid.UUID `json:"examId"`
	QuestionID       uuid.UUID `json:"questionId"`
	SelectedOptionID uuid.UUID `json:"selectedOptionId"`
	IsCorrect        bool      `json:"isCorrect"`
	PointsEarned     int       `json:"pointsEarned"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AnswerDetail is an answer with the question, option and exam it points at.
type AnswerDetail struct {
	Answer
	QuestionText string `json:"questionText"`
	OptionLetter string `json:"optionLetter"`
	OptionText   string `json:"optionText"`
	ExamTitle    string `json:"examTitle"`
}

type Result struct {
	ExamID uuid.UUID `json:"examId"`
	Score
	Answers []Answer `json:"answers"`
}

type SubmitInput struct {
	UserID           uuid.UUID
	ExamID           uuid.UUID
	QuestionID       uuid.UUID
	SelectedOptionID uuid.UUID
	Points           *int
	TimeSpentSeconds *int
}

type UpdateInput struct {
	AnswerID         uuid.UUID
	UserID           uuid.UUID
	SelectedOptionID uuid.UUID
	Points           *int
	TimeSpentSeconds *int
}

const answerColumns = `id, user_id, exam_id, question_id, selected_option_id, is_correct, points_earned, time_spent_seconds, created_at, updated_at`

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Submit records one selected option. Submitting the same
// (user, exam, question, option) again updates the stored row; created
// reports which of the two happened.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Answer, bool, error) {
	if in.UserID == uuid.Nil || in.ExamID == uuid.Nil || in.QuestionID == uuid.Nil || in.SelectedOptionID == uuid.Nil {
		return nil, false, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var isCorrect bool
	err = tx.QueryRowContext(ctx, `
		SELECT o.is_correct
		FROM question_options o
		JOIN questions q ON q.id = o.question_id
		WHERE o.id = $1 AND o.question_id = $2 AND q.exam_id = $3
		FOR SHARE OF o
	`, in.SelectedOptionID, in.QuestionID, in.ExamID).Scan(&isCorrect)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrOptionNotFound
		}
		return nil, false, fmt.Errorf("load option: %w", err)
	}

	timeSpent := 0
	if in.TimeSpentSeconds != nil && *in.TimeSpentSeconds > 0 {
		timeSpent = *in.TimeSpentSeconds
	}

	var (
		a        Answer
		inserted bool
	)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_answers (
			id, user_id, exam_id, question_id, selected_option_id,
			is_correct, points_earned, time_spent_seconds, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (user_id, exam_id, question_id, selected_option_id) DO UPDATE
		SET is_correct = EXCLUDED.is_correct,
			points_earned = EXCLUDED.points_earned,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			updated_at = now()
		RETURNING `+answerColumns+`, (xmax = 0) AS inserted
	`,
		uuid.New(), in.UserID, in.ExamID, in.QuestionID, in.SelectedOptionID,
		isCorrect, pointsFor(isCorrect, in.Points), timeSpent,
	).Scan(
		&a.ID, &a.UserID, &a.ExamID, &a.QuestionID, &a.SelectedOptionID,
		&a.IsCorrect, &a.PointsEarned, &a.TimeSpentSeconds, &a.CreatedAt, &a.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return &a, inserted, nil
}

// Update moves an answer to another option of the same question and
// re-snapshots its correctness.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*Answer, error) {
	if in.AnswerID == uuid.Nil || in.SelectedOptionID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	owner, questionID, prevTime, err := lockAnswer(ctx, tx, in.AnswerID)
	if err != nil {
		return nil, err
	}
	if owner != in.UserID {
		return nil, ErrAnswerForbidden
	}

	var isCorrect bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_correct FROM question_options WHERE id = $1 AND question_id = $2
	`, in.SelectedOptionID, questionID).Scan(&isCorrect)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOptionNotFound
		}
		return nil, fmt.Errorf("load option: %w", err)
	}

	timeSpent := prevTime
	if in.TimeSpentSeconds != nil && *in.TimeSpentSeconds > 0 {
		timeSpent = *in.TimeSpentSeconds
	}

	a, err := scanAnswer(tx.QueryRowContext(ctx, `
		UPDATE user_answers
		SET selected_option_id = $2,
			is_correct = $3,
			points_earned = $4,
			time_spent_seconds = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING `+answerColumns,
		in.AnswerID, in.SelectedOptionID, isCorrect, pointsFor(isCorrect, in.Points), timeSpent,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrAnswerConflict
		}
		return nil, fmt.Errorf("update answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return a, nil
}

// Withdraw deletes one of the caller's answers, deselecting that option.
func (s *Service) Withdraw(ctx context.Context, answerID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	owner, _, _, err := lockAnswer(ctx, tx, answerID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrAnswerForbidden
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_answers WHERE id = $1`, answerID); err != nil {
		return fmt.Errorf("delete answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, examID *uuid.UUID) ([]AnswerDetail, error) {
	query := `
		SELECT ua.id, ua.user_id, ua.exam_id, ua.question_id, ua.selected_option_id,
			ua.is_correct, ua.points_earned, ua.time_spent_seconds, ua.created_at, ua.updated_at,
			q.text, o.option_letter, o.text, e.title
		FROM user_answers ua
		JOIN questions q ON q.id = ua.question_id
		JOIN question_options o ON o.id = ua.selected_option_id
		JOIN exams e ON e.id = ua.exam_id
		WHERE ua.user_id = $1
	`
	args := []any{userID}
	if examID != nil {
		query += ` AND ua.exam_id = $2`
		args = append(args, *examID)
	}
	query += ` ORDER BY ua.created_at ASC, ua.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerDetail, 0)
	for rows.Next() {
		var d AnswerDetail
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.ExamID, &d.QuestionID, &d.SelectedOptionID,
			&d.IsCorrect, &d.PointsEarned, &d.TimeSpentSeconds, &d.CreatedAt, &d.UpdatedAt,
			&d.QuestionText, &d.OptionLetter, &d.OptionText, &d.ExamTitle,
		); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

// Results grades the user's current answers for the exam. An unknown exam
// yields an empty result.
func (s *Service) Results(ctx context.Context, userID, examID uuid.UUID) (*Result, error) {
	key, err := s.ExamKey(ctx, examID)
	if err != nil {
		return nil, err
	}
	answers, err := loadAnswers(ctx, s.db, `WHERE user_id = $1 AND exam_id = $2`, userID, examID)
	if err != nil {
		return nil, err
	}

	return &Result{
		ExamID:  examID,
		Score:   Grade(key, selectionsOf(answers)),
		Answers: answers,
	}, nil
}

// ExamKey loads the active questions of an exam in presentation order with
// the ids of their active correct options.
func (s *Service) ExamKey(ctx context.Context, examID uuid.UUID) ([]KeyedQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, o.id
		FROM questions q
		LEFT JOIN question_options o
			ON o.question_id = q.id AND o.is_active = TRUE AND o.is_correct = TRUE
		WHERE q.exam_id = $1 AND q.is_active = TRUE
		ORDER BY q.exam_part ASC, q.order_number ASC, q.id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	defer rows.Close()

	out := make([]KeyedQuestion, 0)
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var (
			qid uuid.UUID
			oid uuid.NullUUID
		)
		if err := rows.Scan(&qid, &oid); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		i, ok := index[qid]
		if !ok {
			i = len(out)
			index[qid] = i
			out = append(out, KeyedQuestion{ID: qid})
		}
		if oid.Valid {
			out[i].CorrectOptionIDs = append(out[i].CorrectOptionIDs, oid.UUID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer key: %w", err)
	}
	return out, nil
}

// SelectionsByUser returns every user's selections for the exam.
func (s *Service) SelectionsByUser(ctx context.Context, examID uuid.UUID) (map[uuid.UUID][]Selection, error) {
	answers, err := loadAnswers(ctx, s.db, `WHERE exam_id = $1`, examID)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]Selection)
	for _, a := range answers {
		out[a.UserID] = append(out[a.UserID], Selection{
			QuestionID:       a.QuestionID,
			SelectedOptionID: a.SelectedOptionID,
			PointsEarned:     a.PointsEarned,
			TimeSpentSeconds: a.TimeSpentSeconds,
		})
	}
	return out, nil
}

func lockAnswer(ctx context.Context, tx *sql.Tx, id uuid.UUID) (owner, questionID uuid.UUID, timeSpent int, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, question_id, time_spent_seconds FROM user_answers WHERE id = $1 FOR UPDATE
	`, id).Scan(&owner, &questionID, &timeSpent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, uuid.Nil, 0, ErrAnswerNotFound
		}
		return uuid.Nil, uuid.Nil, 0, fmt.Errorf("load answer: %w", err)
	}
	return owner, questionID, timeSpent, nil
}

func loadAnswers(ctx context.Context, q queryable, where string, args ...any) ([]Answer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+answerColumns+` FROM user_answers `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func selectionsOf(answers []Answer) []Selection {
	out := make([]Selection, 0, len(answers))
	for _, a := range answers {
		out = append(out, Selection{
			QuestionID:       a.QuestionID,
			SelectedOptionID: a.SelectedOptionID,
			PointsEarned:     a.PointsEarned,
			TimeSpentSeconds: a.TimeSpentSeconds,
		})
	}
	return out
}

// pointsFor returns the override (default 1) for a correct option, else 0.
func pointsFor(isCorrect bool, override *int) int {
	if !isCorrect {
		return 0
	}
	if override != nil && *override > 0 {
		return *override
	}
	return 1
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnswer(row rowScanner) (*Answer, error) {
	var a Answer
	if err := row.Scan(
		&a.ID, &a.UserID, &a.ExamID, &a.QuestionID, &a.SelectedOptionID,
		&a.IsCorrect, &a.PointsEarned, &a.TimeSpentSeconds, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"etesti/internal/db"
	"etesti/internal/masterdata"
	"etesti/internal/question"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrExamNotFound  = errors.New("exam not found")
	ErrUnknownSector = errors.New("sector does not exist")
	ErrNoQuestions   = errors.New("questions array is required and must not be empty")
)

type Service struct {
	db     *sql.DB
	mailer notifier
}

type notifier interface {
	SendNotification(ctx context.Context, email, subject, htmlBody string) error
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Exam carries the global isCompleted/hasPassed flags as stored. Per-user
// pass/fail is always computed from answers and never read from here.
type Exam struct {
	ID             uuid.UUID           `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	SectorID       uuid.UUID           `json:"sectorId"`
	IsActive       bool                `json:"isActive"`
	TotalQuestions int                 `json:"totalQuestions"`
	PassingScore   int                 `json:"passingScore"`
	IsCompleted    bool                `json:"isCompleted"`
	HasPassed      bool                `json:"hasPassed"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Sector         *masterdata.Sector  `json:"sector,omitempty"`
	Questions      []question.Question `json:"questions,omitempty"`
}

type CreateInput struct {
	Title          string
	Description    string
	SectorID       uuid.UUID
	IsActive       *bool
	TotalQuestions *int
	PassingScore   *int
}

type UpdateInput struct {
	Title          *string
	Description    *string
	SectorID       *uuid.UUID
	IsActive       *bool
	TotalQuestions *int
	PassingScore   *int
}

type CompleteInput struct {
	CreateInput
	Questions []question.CreateInput
}

type CompleteResult struct {
	Exam             *Exam  `json:"exam"`
	QuestionsCreated int    `json:"questionsCreated"`
	Message          string `json:"message"`
}

type ResetResult struct {
	Message string `json:"message"`
	Exam    *Exam  `json:"exam"`
}

const examSelect = `
	SELECT e.id, e.title, e.description, e.sector_id, e.is_active, e.total_questions, e.passing_score,
		e.is_completed, e.has_passed, e.created_at, e.updated_at,
		s.id, s.name, s.display_name, s.is_active, s.created_at, s.updated_at
	FROM exams e
	JOIN sectors s ON s.id = e.sector_id`

// NewService wires an optional mailer used for completion notices.
func NewService(db *sql.DB, mailer notifier) *Service {
	return &Service{db: db, mailer: mailer}
}

// List returns active exams, newest first, optionally for one sector.
func (s *Service) List(ctx context.Context, sectorID *uuid.UUID) ([]Exam, error) {
	query := examSelect + ` WHERE e.is_active = TRUE`
	args := []any{}
	if sectorID != nil {
		query += ` AND e.sector_id = $1`
		args = append(args, *sectorID)
	}
	query += ` ORDER BY e.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *Service) ListBySector(ctx context.Context, sectorID uuid.UUID) ([]Exam, error) {
	return s.List(ctx, &sectorID)
}

// Get returns the exam with its sector and active questions.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Exam, error) {
	e, err := loadExam(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	questions, err := question.LoadActive(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	e.Questions = questions
	return e, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Exam, error) {
	id, err := insertExam(ctx, s.db, in, false, 0)
	if err != nil {
		return nil, err
	}
	return loadExam(ctx, s.db, id, false)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Exam, error) {
	var title *string
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		title = &t
	}
	if err := validateCounts(in.TotalQuestions, in.PassingScore); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET title = COALESCE($2, title),
			description = COALESCE($3, description),
			sector_id = COALESCE($4, sector_id),
			is_active = COALESCE($5, is_active),
			total_questions = COALESCE($6, total_questions),
			passing_score = COALESCE($7, passing_score),
			updated_at = now()
		WHERE id = $1
	`, id, nullableString(title), nullableString(in.Description), nullableUUID(in.SectorID),
		nullableBool(in.IsActive), nullableInt(in.TotalQuestions), nullableInt(in.PassingScore))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrUnknownSector
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrExamNotFound
	}
	return loadExam(ctx, s.db, id, false)
}

// CreateComplete inserts an exam with all of its questions and options in
// one transaction. Nothing is written when any question is rejected.
func (s *Service) CreateComplete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	if len(in.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	examID, err := insertExam(ctx, tx, in.CreateInput, false, len(in.Questions))
	if err != nil {
		return nil, err
	}

	for i, q := range in.Questions {
		q.ExamID = examID
		if q.OrderNumber == nil {
			order := i + 1
			q.OrderNumber = &order
		}
		if _, err := question.Insert(ctx, tx, q); err != nil {
			switch {
			case errors.Is(err, question.ErrInvalidInput), errors.Is(err, question.ErrInvalidReference), errors.Is(err, question.ErrDuplicateLetter):
				return nil, fmt.Errorf("%w: questions[%d]: %s", ErrInvalidInput, i, err.Error())
			default:
				return nil, fmt.Errorf("questions[%d]: %w", i, err)
			}
		}
	}

	e, err := loadExam(ctx, tx, examID, false)
	if err != nil {
		return nil, err
	}
	questions, err := question.LoadActive(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	e.Questions = questions

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &CompleteResult{
		Exam:             e,
		QuestionsCreated: len(in.Questions),
		Message:          "Complete exam created successfully",
	}, nil
}

// DeleteExam removes the exam and everything it owns. Rows go in
// foreign key order: answers, options, questions, exam.
func (s *Service) DeleteExam(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked uuid.UUID
	if err := tx.QueryRowContext(ctx, `SELECT id FROM exams WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrExamNotFound
		}
		return fmt.Errorf("lock exam: %w", err)
	}

	steps := []struct {
		name  string
		query string
	}{
		{"delete answers", `DELETE FROM user_answers WHERE exam_id = $1`},
		{"delete options", `DELETE FROM question_options WHERE question_id IN (SELECT id FROM questions WHERE exam_id = $1)`},
		{"delete questions", `DELETE FROM questions WHERE exam_id = $1`},
		{"delete exam", `DELETE FROM exams WHERE id = $1`},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.query, id); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Complete raises the global completion flag. When email is set and a
// mailer is configured the caller is notified in the background.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, email string) (*Exam, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET is_completed = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("complete exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrExamNotFound
	}
	e, err := loadExam(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}

	if s.mailer != nil && strings.TrimSpace(email) != "" {
		go func(title string) {
			sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			body := fmt.Sprintf("<p>Ke përfunduar provimin <b>%s</b>. Rezultatet janë gati për t'u parë.</p>", html.EscapeString(title))
			if err := s.mailer.SendNotification(sendCtx, email, "Provimi u përfundua", body); err != nil {
				log.Printf("send completion mail: %v", err)
			}
		}(e.Title)
	}
	return e, nil
}

// Reset deletes the caller's answers for the exam and clears the global
// flags in one transaction. Other users' answers are untouched.
func (s *Service) Reset(ctx context.Context, id, userID uuid.UUID) (*ResetResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := loadExam(ctx, tx, id, true); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_answers WHERE user_id = $1 AND exam_id = $2`, userID, id); err != nil {
		return nil, fmt.Errorf("delete user answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE exams SET is_completed = FALSE, has_passed = FALSE, updated_at = now() WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("reset exam flags: %w", err)
	}
	e, err := loadExam(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &ResetResult{Message: "Exam reset successfully", Exam: e}, nil
}

func insertExam(ctx context.Context, q question.Queryer, in CreateInput, defaultActive bool, defaultTotal int) (uuid.UUID, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.SectorID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: title and sectorId are required", ErrInvalidInput)
	}
	if err := validateCounts(in.TotalQuestions, in.PassingScore); err != nil {
		return uuid.Nil, err
	}
	total := defaultTotal
	if in.TotalQuestions != nil {
		total = *in.TotalQuestions
	}
	passing := 0
	if in.PassingScore != nil {
		passing = *in.PassingScore
	}

	id := uuid.New()
	_, err := q.ExecContext(ctx, `
		INSERT INTO exams (id, title, description, sector_id, is_active, total_questions, passing_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, id, title, strings.TrimSpace(in.Description), in.SectorID, boolOr(in.IsActive, defaultActive), total, passing)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return uuid.Nil, ErrUnknownSector
		}
		return uuid.Nil, fmt.Errorf("insert exam: %w", err)
	}
	return id, nil
}

func loadExam(ctx context.Context, q question.Queryer, id uuid.UUID, forUpdate bool) (*Exam, error) {
	query := examSelect + ` WHERE e.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF e`
	}
	e, err := scanExam(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanExam(row rowScanner) (*Exam, error) {
	var (
		e  Exam
		sc masterdata.Sector
	)
	if err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.SectorID, &e.IsActive, &e.TotalQuestions, &e.PassingScore,
		&e.IsCompleted, &e.HasPassed, &e.CreatedAt, &e.UpdatedAt,
		&sc.ID, &sc.Name, &sc.DisplayName, &sc.IsActive, &sc.CreatedAt, &sc.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan exam: %w", err)
	}
	e.Sector = &sc
	return &e, nil
}

func validateCounts(total, passing *int) error {
	if total != nil && *total < 0 {
		return fmt.Errorf("%w: totalQuestions cannot be negative", ErrInvalidInput)
	}
	if passing != nil && *passing < 0 {
		return fmt.Errorf("%w: passingScore cannot be negative", ErrInvalidInput)
	}
	return nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return strings.TrimSpace(*v)
}

func nullableUUID(v *uuid.UUID) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"etesti/internal/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrInvalidReference = errors.New("subject or parent question does not exist")
	ErrDuplicateLetter  = errors.New("option letter already used in this question")
)

type Service struct {
	db *sql.DB
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Option struct {
	ID           uuid.UUID `json:"id"`
	Text         string    `json:"text"`
	ImageURL     *string   `json:"imageUrl"`
	QuestionID   uuid.UUID `json:"questionId"`
	OptionLetter string    `json:"optionLetter"`
	IsCorrect    bool      `json:"isCorrect"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Question struct {
	ID          uuid.UUID  `json:"id"`
	Text        string     `json:"text"`
	ImageURL    *string    `json:"imageUrl"`
	ExamID      uuid.UUID  `json:"examId"`
	SubjectID   *uuid.UUID `json:"subjectId"`
	ExamPart    string     `json:"examPart"`
	ParentID    *uuid.UUID `json:"parentId"`
	DisplayText *string    `json:"displayText"`
	Description *string    `json:"description"`
	OrderNumber int        `json:"orderNumber"`
	Points      int        `json:"points"`
	IsActive    bool       `json:"isActive"`
	IsComplex   bool       `json:"isComplex"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Options     []Option   `json:"options"`
}

type CreateInput struct {
	ExamID      uuid.UUID
	Text        string
	ImageURL    *string
	SubjectID   *uuid.UUID
	ExamPart    string
	ParentID    *uuid.UUID
	DisplayText *string
	Description *string
	OrderNumber *int
	Points      *int
	IsActive    *bool
	IsComplex   *bool
	Options     []OptionInput
}

// UpdateInput merges into the stored question. A non-nil Options replaces
// the option set by letter.
type UpdateInput struct {
	Text        *string
	ImageURL    *string
	SubjectID   *uuid.UUID
	ExamPart    *string
	ParentID    *uuid.UUID
	DisplayText *string
	Description *string
	OrderNumber *int
	Points      *int
	IsActive    *bool
	IsComplex   *bool
	Options     *[]OptionInput
}

const questionColumns = `q.id, q.text, q.image_url, q.exam_id, q.subject_id, q.exam_part, q.parent_id,
	q.display_text, q.description, q.order_number, q.points, q.is_active, q.is_complex, q.created_at, q.updated_at`

const optionColumns = `id, text, image_url, question_id, option_letter, is_correct, is_active, created_at, updated_at`

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListByExam(ctx context.Context, examID uuid.UUID) ([]Question, error) {
	return LoadActive(ctx, s.db, examID)
}

func (s *Service) ListByExamPart(ctx context.Context, examID uuid.UUID, part string) ([]Question, error) {
	part = strings.ToUpper(strings.TrimSpace(part))
	if !isLetter(part) {
		return nil, fmt.Errorf("%w: examPart must be a single letter", ErrInvalidInput)
	}
	return list(ctx, s.db, `q.exam_id = $1 AND q.exam_part = $2 AND q.is_active = TRUE`, true, examID, part)
}

func (s *Service) ListBySubject(ctx context.Context, examID, subjectID uuid.UUID) ([]Question, error) {
	return list(ctx, s.db, `q.exam_id = $1 AND q.subject_id = $2 AND q.is_active = TRUE`, true, examID, subjectID)
}

// Get returns the question with all of its options, retired ones included.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Question, error) {
	return loadOne(ctx, s.db, id)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM exams WHERE id = $1 FOR SHARE`, in.ExamID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	id, err := Insert(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	out, err := loadOne(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// Insert writes a question and its options using q, which is normally a
// transaction owned by the caller. A nil OrderNumber appends the question
// to the end of its exam part.
func Insert(ctx context.Context, q Queryer, in CreateInput) (uuid.UUID, error) {
	text := strings.TrimSpace(in.Text)
	if in.ExamID == uuid.Nil || text == "" {
		return uuid.Nil, fmt.Errorf("%w: examId and text are required", ErrInvalidInput)
	}
	part := "A"
	if p := strings.ToUpper(strings.TrimSpace(in.ExamPart)); p != "" {
		part = p
	}
	if !isLetter(part) {
		return uuid.Nil, fmt.Errorf("%w: examPart must be a single letter", ErrInvalidInput)
	}
	points := 1
	if in.Points != nil {
		if *in.Points < 0 {
			return uuid.Nil, fmt.Errorf("%w: points cannot be negative", ErrInvalidInput)
		}
		points = *in.Points
	}
	options, err := normalizeOptions(in.Options)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = q.ExecContext(ctx, `
		INSERT INTO questions (
			id, text, image_url, exam_id, subject_id, exam_part, parent_id,
			display_text, description, order_number, points, is_active, is_complex,
			created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			COALESCE($10, (SELECT COALESCE(MAX(order_number), 0) + 1 FROM questions WHERE exam_id = $4 AND exam_part = $6)),
			$11, $12, $13, now(), now()
		)
	`,
		id, text, nullableString(trimmed(in.ImageURL)), in.ExamID, nullableUUID(in.SubjectID), part, nullableUUID(in.ParentID),
		nullableString(trimmed(in.DisplayText)), nullableString(trimmed(in.Description)), nullableInt(in.OrderNumber),
		points, boolOr(in.IsActive, true), boolOr(in.IsComplex, false),
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return uuid.Nil, ErrInvalidReference
		}
		return uuid.Nil, fmt.Errorf("insert question: %w", err)
	}

	for _, o := range options {
		if err := insertOption(ctx, q, id, o); err != nil {
			return uuid.Nil, err
		}
	}
	return id, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Question, error) {
	if in.Text != nil && strings.TrimSpace(*in.Text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	var part any
	if in.ExamPart != nil {
		p := strings.ToUpper(strings.TrimSpace(*in.ExamPart))
		if !isLetter(p) {
			return nil, fmt.Errorf("%w: examPart must be a single letter", ErrInvalidInput)
		}
		part = p
	}
	if in.Points != nil && *in.Points < 0 {
		return nil, fmt.Errorf("%w: points cannot be negative", ErrInvalidInput)
	}
	if in.ParentID != nil && *in.ParentID == id {
		return nil, fmt.Errorf("%w: a question cannot be its own parent", ErrInvalidInput)
	}
	var incoming []OptionInput
	if in.Options != nil {
		var err error
		if incoming, err = normalizeOptions(*in.Options); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE questions
		SET text = COALESCE($2, text),
			image_url = COALESCE($3, image_url),
			subject_id = COALESCE($4, subject_id),
			exam_part = COALESCE($5, exam_part),
			parent_id = COALESCE($6, parent_id),
			display_text = COALESCE($7, display_text),
			description = COALESCE($8, description),
			order_number = COALESCE($9, order_number),
			points = COALESCE($10, points),
			is_active = COALESCE($11, is_active),
			is_complex = COALESCE($12, is_complex),
			updated_at = now()
		WHERE id = $1
	`,
		id, trimmedAny(in.Text), nullableString(trimmed(in.ImageURL)), nullableUUID(in.SubjectID), part, nullableUUID(in.ParentID),
		trimmedAny(in.DisplayText), trimmedAny(in.Description), nullableInt(in.OrderNumber), nullableInt(in.Points),
		nullableBool(in.IsActive), nullableBool(in.IsComplex),
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrInvalidReference
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQuestionNotFound
	}

	if in.Options != nil {
		if err := replaceOptions(ctx, tx, id, incoming); err != nil {
			return nil, err
		}
	}

	out, err := loadOne(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// DeleteQuestion removes the question's answers, then its options, then the
// question. Child questions keep existing with a cleared parent.
func (s *Service) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked uuid.UUID
	if err := tx.QueryRowContext(ctx, `SELECT id FROM questions WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("lock question: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_answers WHERE question_id = $1`, id); err != nil {
		return fmt.Errorf("delete question answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_options WHERE question_id = $1`, id); err != nil {
		return fmt.Errorf("delete question options: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func replaceOptions(ctx context.Context, tx *sql.Tx, questionID uuid.UUID, incoming []OptionInput) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+optionColumns+` FROM question_options WHERE question_id = $1 ORDER BY option_letter FOR UPDATE
	`, questionID)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	existing, err := scanOptions(rows)
	if err != nil {
		return err
	}

	referenced, err := referencedOptions(ctx, tx, existing)
	if err != nil {
		return err
	}

	plan := planOptionDiff(existing, incoming, referenced)

	if len(plan.Delete) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM question_options WHERE id = ANY($1::uuid[])`, uuidArray(plan.Delete)); err != nil {
			return fmt.Errorf("delete options: %w", err)
		}
	}
	if len(plan.Deactivate) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE question_options SET is_active = FALSE, updated_at = now() WHERE id = ANY($1::uuid[])
		`, uuidArray(plan.Deactivate)); err != nil {
			return fmt.Errorf("deactivate options: %w", err)
		}
	}
	for _, u := range plan.Update {
		if _, err := tx.ExecContext(ctx, `
			UPDATE question_options
			SET text = $2, image_url = $3, is_correct = $4, is_active = TRUE, updated_at = now()
			WHERE id = $1
		`, u.ID, u.Input.Text, nullableString(u.Input.ImageURL), u.Input.IsCorrect); err != nil {
			return fmt.Errorf("update option %s: %w", u.Input.OptionLetter, err)
		}
	}
	for _, o := range plan.Insert {
		if err := insertOption(ctx, tx, questionID, o); err != nil {
			return err
		}
	}
	return nil
}

func referencedOptions(ctx context.Context, q Queryer, options []Option) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	if len(options) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT selected_option_id FROM user_answers WHERE selected_option_id = ANY($1::uuid[])
	`, uuidArray(ids))
	if err != nil {
		return nil, fmt.Errorf("load referenced options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan referenced option: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referenced options: %w", err)
	}
	return out, nil
}

func insertOption(ctx context.Context, q Queryer, questionID uuid.UUID, o OptionInput) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO question_options (id, text, image_url, question_id, option_letter, is_correct, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now())
	`, uuid.New(), o.Text, nullableString(o.ImageURL), questionID, o.OptionLetter, o.IsCorrect)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateLetter
		}
		return fmt.Errorf("insert option %s: %w", o.OptionLetter, err)
	}
	return nil
}

// LoadActive returns the exam's active questions ordered by part and order
// number, each with its active options.
func LoadActive(ctx context.Context, q Queryer, examID uuid.UUID) ([]Question, error) {
	return list(ctx, q, `q.exam_id = $1 AND q.is_active = TRUE`, true, examID)
}

func list(ctx context.Context, q Queryer, where string, activeOptions bool, args ...any) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions q
		WHERE `+where+`
		ORDER BY q.exam_part ASC, q.order_number ASC, q.created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	out := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	// options are loaded on the same connection once rows is released
	if err := attachOptions(ctx, q, out, activeOptions); err != nil {
		return nil, err
	}
	return out, nil
}

func loadOne(ctx context.Context, q Queryer, id uuid.UUID) (*Question, error) {
	item, err := scanQuestion(q.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions q WHERE q.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	items := []Question{*item}
	if err := attachOptions(ctx, q, items, false); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func attachOptions(ctx context.Context, q Queryer, questions []Question, activeOnly bool) error {
	if len(questions) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(questions))
	index := make(map[uuid.UUID]int, len(questions))
	for i := range questions {
		questions[i].Options = make([]Option, 0)
		ids = append(ids, questions[i].ID)
		index[questions[i].ID] = i
	}

	query := `SELECT ` + optionColumns + ` FROM question_options WHERE question_id = ANY($1::uuid[])`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY question_id, option_letter ASC`

	rows, err := q.QueryContext(ctx, query, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	options, err := scanOptions(rows)
	if err != nil {
		return err
	}
	for _, o := range options {
		if i, ok := index[o.QuestionID]; ok {
			questions[i].Options = append(questions[i].Options, o)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var (
		item        Question
		image       sql.NullString
		subjectID   uuid.NullUUID
		parentID    uuid.NullUUID
		displayText sql.NullString
		description sql.NullString
	)
	if err := row.Scan(
		&item.ID, &item.Text, &image, &item.ExamID, &subjectID, &item.ExamPart, &parentID,
		&displayText, &description, &item.OrderNumber, &item.Points, &item.IsActive, &item.IsComplex,
		&item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.ImageURL = stringPtr(image)
	item.SubjectID = uuidPtr(subjectID)
	item.ParentID = uuidPtr(parentID)
	item.DisplayText = stringPtr(displayText)
	item.Description = stringPtr(description)
	return &item, nil
}

// scanOptions drains and closes rows.
func scanOptions(rows *sql.Rows) ([]Option, error) {
	defer rows.Close()
	out := make([]Option, 0)
	for rows.Next() {
		var (
			o     Option
			image sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.Text, &image, &o.QuestionID, &o.OptionLetter, &o.IsCorrect, &o.IsActive, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		o.ImageURL = stringPtr(image)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return out, nil
}

func uuidArray(ids []uuid.UUID) any {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return pq.Array(out)
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func uuidPtr(v uuid.NullUUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := v.UUID
	return &id
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func trimmedAny(v *string) any {
	if v == nil {
		return nil
	}
	return strings.TrimSpace(*v)
}

func nullableUUID(v *uuid.UUID) any {
	if v == nil || *v == uuid.Nil {
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

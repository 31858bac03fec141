package masterdata

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
	ErrSectorNotFound   = errors.New("sector not found")
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrUnknownSector    = errors.New("one or more sectors do not exist")
	ErrDuplicateSector  = errors.New("sector name already exists")
	ErrDuplicateSubject = errors.New("subject value already exists")
	ErrSectorInUse      = errors.New("sector is still referenced by exams")
)

type Service struct {
	db *sql.DB
}

type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Sector struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Subject struct {
	ID        uuid.UUID   `json:"id"`
	Label     string      `json:"label"`
	Value     string      `json:"value"`
	IsActive  bool        `json:"isActive"`
	SectorIDs []uuid.UUID `json:"sectorIds"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type CreateSectorInput struct {
	Name        string
	DisplayName string
	IsActive    *bool
}

type UpdateSectorInput struct {
	Name        *string
	DisplayName *string
	IsActive    *bool
}

type CreateSubjectInput struct {
	Label     string
	Value     string
	IsActive  *bool
	SectorIDs []uuid.UUID
}

// UpdateSubjectInput merges into the stored subject. A non-nil SectorIDs
// replaces the whole sector set.
type UpdateSubjectInput struct {
	Label     *string
	Value     *string
	IsActive  *bool
	SectorIDs *[]uuid.UUID
}

const sectorColumns = `id, name, display_name, is_active, created_at, updated_at`

const subjectSelect = `
	SELECT s.id, s.label, s.value, s.is_active, s.created_at, s.updated_at,
		COALESCE(array_agg(ss.sector_id::text ORDER BY ss.sector_id) FILTER (WHERE ss.sector_id IS NOT NULL), '{}')
	FROM subjects s
	LEFT JOIN subject_sectors ss ON ss.subject_id = s.id
`

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListSectors(ctx context.Context) ([]Sector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectorColumns+`
		FROM sectors
		WHERE is_active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sectors: %w", err)
	}
	defer rows.Close()

	out := make([]Sector, 0)
	for rows.Next() {
		sec, err := scanSector(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sector: %w", err)
		}
		out = append(out, *sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sectors: %w", err)
	}
	return out, nil
}

func (s *Service) GetSector(ctx context.Context, id uuid.UUID) (*Sector, error) {
	sec, err := scanSector(s.db.QueryRowContext(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSectorNotFound
		}
		return nil, fmt.Errorf("load sector: %w", err)
	}
	return sec, nil
}

func (s *Service) CreateSector(ctx context.Context, in CreateSectorInput) (*Sector, error) {
	name := strings.TrimSpace(in.Name)
	display := strings.TrimSpace(in.DisplayName)
	if name == "" || display == "" {
		return nil, ErrInvalidInput
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	sec, err := scanSector(s.db.QueryRowContext(ctx, `
		INSERT INTO sectors (id, name, display_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+sectorColumns,
		uuid.New(), name, display, active,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateSector
		}
		return nil, fmt.Errorf("create sector: %w", err)
	}
	return sec, nil
}

func (s *Service) UpdateSector(ctx context.Context, id uuid.UUID, in UpdateSectorInput) (*Sector, error) {
	if (in.Name != nil && strings.TrimSpace(*in.Name) == "") || (in.DisplayName != nil && strings.TrimSpace(*in.DisplayName) == "") {
		return nil, ErrInvalidInput
	}

	sec, err := scanSector(s.db.QueryRowContext(ctx, `
		UPDATE sectors
		SET name = COALESCE($2, name),
			display_name = COALESCE($3, display_name),
			is_active = COALESCE($4, is_active),
			updated_at = now()
		WHERE id = $1
		RETURNING `+sectorColumns,
		id, trimPtr(in.Name), trimPtr(in.DisplayName), in.IsActive,
	))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrSectorNotFound
		case db.IsUniqueViolation(err):
			return nil, ErrDuplicateSector
		}
		return nil, fmt.Errorf("update sector: %w", err)
	}
	return sec, nil
}

func (s *Service) DeleteSector(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sectors WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrSectorInUse
		}
		return fmt.Errorf("delete sector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSectorNotFound
	}
	return nil
}

// ListSubjects returns active subjects by label, optionally only those
// linked to sectorID.
func (s *Service) ListSubjects(ctx context.Context, sectorID *uuid.UUID) ([]Subject, error) {
	query := subjectSelect + ` WHERE s.is_active = TRUE`
	args := []any{}
	if sectorID != nil {
		query += ` AND EXISTS (SELECT 1 FROM subject_sectors f WHERE f.subject_id = s.id AND f.sector_id = $1)`
		args = append(args, *sectorID)
	}
	query += ` GROUP BY s.id ORDER BY s.label ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	out := make([]Subject, 0)
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

func (s *Service) GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return s.loadSubject(ctx, s.db, id)
}

func (s *Service) CreateSubject(ctx context.Context, in CreateSubjectInput) (*Subject, error) {
	label := strings.TrimSpace(in.Label)
	value := normalizeValue(in.Value)
	if label == "" || value == "" {
		return nil, ErrInvalidInput
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO subjects (id, label, value, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, label, value, active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateSubject
		}
		return nil, fmt.Errorf("insert subject: %w", err)
	}

	if err := replaceSubjectSectors(ctx, tx, id, in.SectorIDs); err != nil {
		return nil, err
	}

	sub, err := s.loadSubject(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return sub, nil
}

func (s *Service) UpdateSubject(ctx context.Context, id uuid.UUID, in UpdateSubjectInput) (*Subject, error) {
	if in.Label != nil && strings.TrimSpace(*in.Label) == "" {
		return nil, ErrInvalidInput
	}
	var value any
	if in.Value != nil {
		v := normalizeValue(*in.Value)
		if v == "" {
			return nil, ErrInvalidInput
		}
		value = v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE subjects
		SET label = COALESCE($2, label),
			value = COALESCE($3, value),
			is_active = COALESCE($4, is_active),
			updated_at = now()
		WHERE id = $1
	`, id, trimPtr(in.Label), value, in.IsActive)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateSubject
		}
		return nil, fmt.Errorf("update subject: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrSubjectNotFound
	}

	if in.SectorIDs != nil {
		if err := replaceSubjectSectors(ctx, tx, id, *in.SectorIDs); err != nil {
			return nil, err
		}
	}

	sub, err := s.loadSubject(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return sub, nil
}

func (s *Service) DeleteSubject(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

func (s *Service) loadSubject(ctx context.Context, q queryable, id uuid.UUID) (*Subject, error) {
	sub, err := scanSubject(q.QueryRowContext(ctx, subjectSelect+` WHERE s.id = $1 GROUP BY s.id`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("load subject: %w", err)
	}
	return sub, nil
}

func replaceSubjectSectors(ctx context.Context, tx *sql.Tx, subjectID uuid.UUID, sectorIDs []uuid.UUID) error {
	ids := dedupeIDs(sectorIDs)
	if len(ids) > 0 {
		var found int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sectors WHERE id = ANY($1::uuid[])`, pq.Array(ids)).Scan(&found); err != nil {
			return fmt.Errorf("check sectors: %w", err)
		}
		if found != len(ids) {
			return ErrUnknownSector
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_sectors WHERE subject_id = $1`, subjectID); err != nil {
		return fmt.Errorf("clear subject sectors: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subject_sectors (subject_id, sector_id) VALUES ($1, $2)
		`, subjectID, id); err != nil {
			return fmt.Errorf("link subject sector: %w", err)
		}
	}
	return nil
}

func dedupeIDs(in []uuid.UUID) []string {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id.String())
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSector(row rowScanner) (*Sector, error) {
	var sec Sector
	if err := row.Scan(&sec.ID, &sec.Name, &sec.DisplayName, &sec.IsActive, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

func scanSubject(row rowScanner) (*Subject, error) {
	var (
		sub     Subject
		sectors pq.StringArray
	)
	if err := row.Scan(&sub.ID, &sub.Label, &sub.Value, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt, &sectors); err != nil {
		return nil, err
	}
	sub.SectorIDs = make([]uuid.UUID, 0, len(sectors))
	for _, raw := range sectors {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse sector id %q: %w", raw, err)
		}
		sub.SectorIDs = append(sub.SectorIDs, id)
	}
	return &sub, nil
}

// normalizeValue turns a label-like value into the slug form used as key.
func normalizeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.Join(strings.Fields(v), "_")
}

func trimPtr(v *string) any {
	if v == nil {
		return nil
	}
	return strings.TrimSpace(*v)
}

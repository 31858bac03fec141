package masterdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ImportReport struct {
	TotalRows   int              `json:"totalRows"`
	SuccessRows int              `json:"successRows"`
	FailedRows  int              `json:"failedRows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type subjectRow struct {
	label   string
	value   string
	sectors []string
	// hasSectors distinguishes an absent column from an empty cell.
	hasSectors bool
}

// ImportSubjectsCSV upserts subjects keyed by value. The optional sectors
// column lists sector names separated by "|" and replaces the subject's
// sector links. Rows fail independently.
func (s *Service) ImportSubjectsCSV(ctx context.Context, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if n != "" {
			index[n] = i
		}
	}
	for _, col := range []string{"label", "value"} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}
	_, hasSectors := index["sectors"]

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.TotalRows++
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		if isRowEmpty(rec) {
			continue
		}
		report.TotalRows++

		row := parseSubjectRow(rec, index, hasSectors)
		if err := validateSubjectRow(row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		if err := s.importSubjectRow(ctx, row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}
	return report, nil
}

func parseSubjectRow(rec []string, index map[string]int, hasSectors bool) subjectRow {
	row := subjectRow{
		label:      cell(rec, index, "label"),
		value:      normalizeValue(cell(rec, index, "value")),
		hasSectors: hasSectors,
	}
	for _, name := range strings.Split(cell(rec, index, "sectors"), "|") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name != "" {
			row.sectors = append(row.sectors, name)
		}
	}
	return row
}

func validateSubjectRow(row subjectRow) error {
	if row.label == "" {
		return errors.New("label is required")
	}
	if row.value == "" {
		return errors.New("value is required")
	}
	return nil
}

func (s *Service) importSubjectRow(ctx context.Context, row subjectRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO subjects (id, label, value, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, now(), now())
		ON CONFLICT (value) DO UPDATE
		SET label = EXCLUDED.label, updated_at = now()
		RETURNING id
	`, uuid.New(), row.label, row.value).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}

	if row.hasSectors {
		ids, err := sectorIDsByName(ctx, tx, row.sectors)
		if err != nil {
			return err
		}
		if err := replaceSubjectSectors(ctx, tx, id, ids); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func sectorIDsByName(ctx context.Context, q queryable, names []string) ([]uuid.UUID, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT id, name FROM sectors WHERE name = ANY($1::text[])`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("lookup sectors: %w", err)
	}
	defer rows.Close()

	found := make(map[string]uuid.UUID, len(names))
	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan sector: %w", err)
		}
		found[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sectors: %w", err)
	}

	out := make([]uuid.UUID, 0, len(names))
	for _, n := range names {
		id, ok := found[n]
		if !ok {
			return nil, fmt.Errorf("unknown sector: %s", n)
		}
		out = append(out, id)
	}
	return out, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.ReplaceAll(h, "-", "_")
	return strings.ReplaceAll(h, " ", "_")
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

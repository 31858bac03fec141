package exam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"etesti/internal/question"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var sheetHeaders = []string{"part", "order", "question", "points", "letter", "option", "correct"}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows        int              `json:"totalRows"`
	SuccessRows      int              `json:"successRows"`
	FailedRows       int              `json:"failedRows"`
	Errors           []ImportRowError `json:"errors"`
	QuestionsCreated int              `json:"questionsCreated"`
	Exam             *Exam            `json:"exam,omitempty"`
}

type ImportInput struct {
	Title       string
	Description string
	SectorID    uuid.UUID
	IsActive    *bool
}

// ExportXLSX writes one row per option of every active question.
func (s *Service) ExportXLSX(ctx context.Context, id uuid.UUID) ([]byte, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	f := buildWorkbook(e.Questions)
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportXLSX creates a new exam from a workbook in the export layout.
// Invalid rows are reported and skipped; the remaining questions are
// created in one transaction.
func (s *Service) ImportXLSX(ctx context.Context, in ImportInput, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %s", ErrInvalidInput, err.Error())
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	questions, report, err := parseSheet(rows)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return report, ErrNoQuestions
	}

	res, err := s.CreateComplete(ctx, CompleteInput{
		CreateInput: CreateInput{
			Title:       in.Title,
			Description: in.Description,
			SectorID:    in.SectorID,
			IsActive:    in.IsActive,
		},
		Questions: questions,
	})
	if err != nil {
		return nil, err
	}
	report.QuestionsCreated = res.QuestionsCreated
	report.Exam = res.Exam
	return report, nil
}

func buildWorkbook(questions []question.Question) *excelize.File {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, h := range sheetHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	write := func(values []any) {
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		row++
	}
	for _, q := range questions {
		if len(q.Options) == 0 {
			write([]any{q.ExamPart, q.OrderNumber, q.Text, q.Points, "", "", ""})
			continue
		}
		for _, o := range q.Options {
			write([]any{q.ExamPart, q.OrderNumber, q.Text, q.Points, o.OptionLetter, o.Text, o.IsCorrect})
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 8)
	_ = f.SetColWidth(sheet, "C", "C", 60)
	_ = f.SetColWidth(sheet, "D", "E", 8)
	_ = f.SetColWidth(sheet, "F", "F", 40)
	return f
}

// parseSheet groups rows by (part, order) into questions. Row numbers in
// the report are 1-based sheet rows.
func parseSheet(rows [][]string) ([]question.CreateInput, *ImportReport, error) {
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}
	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"question", "letter", "option"} {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	fail := func(rowNo int, msg string) {
		report.FailedRows++
		report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: msg})
	}

	type key struct {
		part  string
		order int
	}
	index := map[key]int{}
	letters := map[key]map[string]bool{}
	var out []question.CreateInput

	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(name string) string {
			idx, ok := header[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlank(row) {
			continue
		}
		report.TotalRows++

		part := strings.ToUpper(get("part"))
		if part == "" {
			part = "A"
		}
		if len(part) != 1 || part[0] < 'A' || part[0] > 'Z' {
			fail(rowNo, "part must be a single letter")
			continue
		}
		text := get("question")
		if text == "" {
			fail(rowNo, "question text is required")
			continue
		}
		order := 0
		if raw := get("order"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				fail(rowNo, "order must be a positive number")
				continue
			}
			order = n
		}
		var points *int
		if raw := get("points"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				fail(rowNo, "points must be a non-negative number")
				continue
			}
			points = &n
		}
		correct, err := parseCorrect(get("correct"))
		if err != nil {
			fail(rowNo, err.Error())
			continue
		}

		k := key{part: part, order: order}
		if order == 0 {
			// Without an order every row is its own question.
			k.order = -rowNo
		}
		pos, seen := index[k]
		if !seen {
			q := question.CreateInput{Text: text, ExamPart: part, Points: points}
			if order > 0 {
				o := order
				q.OrderNumber = &o
			}
			out = append(out, q)
			pos = len(out) - 1
			index[k] = pos
			letters[k] = map[string]bool{}
		}

		letter := strings.ToUpper(get("letter"))
		optionText := get("option")
		if letter == "" && optionText == "" {
			report.SuccessRows++
			continue
		}
		if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
			fail(rowNo, "letter must be a single letter")
			continue
		}
		if letters[k][letter] {
			fail(rowNo, fmt.Sprintf("duplicate letter %s for question %s%d", letter, part, order))
			continue
		}
		if optionText == "" {
			fail(rowNo, "option text is required")
			continue
		}
		letters[k][letter] = true
		out[pos].Options = append(out[pos].Options, question.OptionInput{
			Text:         optionText,
			OptionLetter: letter,
			IsCorrect:    correct,
		})
		report.SuccessRows++
	}
	return out, report, nil
}

func parseCorrect(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "", "false", "0", "no", "jo":
		return false, nil
	case "true", "1", "yes", "po", "x":
		return true, nil
	}
	return false, errors.New("correct must be true or false")
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

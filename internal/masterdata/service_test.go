package masterdata

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNormalizeValue(t *testing.T) {
	tests := map[string]string{
		"  Gjuha Shqipe ":     "gjuha_shqipe",
		"MATEMATIKE":          "matematike",
		"fizike  e  avancuar": "fizike_e_avancuar",
		"   ":                 "",
	}
	for in, want := range tests {
		if got := normalizeValue(in); got != want {
			t.Fatalf("normalizeValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupeIDsDropsNilAndRepeats(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := dedupeIDs([]uuid.UUID{a, uuid.Nil, b, a})
	if len(got) != 2 || got[0] != a.String() || got[1] != b.String() {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestImportSubjectsCSVRejectsMissingColumn(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.ImportSubjectsCSV(context.Background(), strings.NewReader("label,sectors\nFizikë,KLASA_9\n"))
	if err == nil || !strings.Contains(err.Error(), "value") {
		t.Fatalf("expected missing value column error, got %v", err)
	}
}

func TestImportSubjectsCSVReportsRowErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	subjectID := uuid.New()
	sectorID := uuid.New()

	// row 2: ok, linked to one sector
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (value) DO UPDATE")).
		WithArgs(sqlmock.AnyArg(), "Fizikë", "fizike").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(subjectID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM sectors WHERE name = ANY($1::text[])")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(sectorID.String(), "KLASA_9"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sectors")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM subject_sectors WHERE subject_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subject_sectors")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// row 4: unknown sector, rolled back
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (value) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sectors WHERE name")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))
	mock.ExpectRollback()

	body := "Label,Value,Sectors\nFizikë,Fizike,klasa_9\n,pa_emer,\n\nKimi,kimi,KLASA_99\n"
	report, err := NewService(db).ImportSubjectsCSV(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.TotalRows != 3 || report.SuccessRows != 1 || report.FailedRows != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Errors[0].Row != 3 || report.Errors[0].Error != "label is required" {
		t.Fatalf("unexpected first error %+v", report.Errors[0])
	}
	if !strings.Contains(report.Errors[1].Error, "KLASA_99") {
		t.Fatalf("unexpected second error %+v", report.Errors[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSubjectUnknownSectorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subjects")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sectors")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err = NewService(db).CreateSubject(context.Background(), CreateSubjectInput{
		Label:     "Histori",
		Value:     "histori",
		SectorIDs: []uuid.UUID{uuid.New()},
	})
	if !errors.Is(err, ErrUnknownSector) {
		t.Fatalf("expected ErrUnknownSector, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteSectorMapsForeignKeyViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sectors WHERE id = $1")).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "exams_sector_id_fkey"})

	if err := NewService(db).DeleteSector(context.Background(), uuid.New()); !errors.Is(err, ErrSectorInUse) {
		t.Fatalf("expected ErrSectorInUse, got %v", err)
	}
}

func TestGetSubjectParsesSectorArray(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	id, s1, s2 := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.id = $1 GROUP BY s.id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "value", "is_active", "created_at", "updated_at", "sectors"}).
			AddRow(id.String(), "Biologji", "biologji", true, now, now, "{"+s1.String()+","+s2.String()+"}"))

	sub, err := NewService(db).GetSubject(context.Background(), id)
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if len(sub.SectorIDs) != 2 || sub.SectorIDs[0] != s1 || sub.SectorIDs[1] != s2 {
		t.Fatalf("unexpected sectors %v", sub.SectorIDs)
	}
}

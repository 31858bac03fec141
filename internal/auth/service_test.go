package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var userCols = []string{
	"id", "firebase_uid", "email", "first_name", "last_name", "avatar_url", "is_active",
	"municipality", "school", "sector_id", "created_at", "updated_at",
}

func userRow(uid, first, last string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userCols).AddRow(
		uuid.New().String(), uid, "ana@example.test", first, last, nil, true,
		nil, int64(7), nil, now, now,
	)
}

func TestSplitDisplayName(t *testing.T) {
	tests := []struct {
		name, email     string
		wantFirst, last string
	}{
		{name: "Ana Maria Hoxha", email: "ana@example.test", wantFirst: "Ana", last: "Maria Hoxha"},
		{name: "  Besa ", email: "", wantFirst: "Besa", last: ""},
		{name: "", email: "drin.k@example.test", wantFirst: "drin.k", last: ""},
		{name: "", email: "", wantFirst: "User", last: ""},
	}
	for _, tc := range tests {
		first, last := splitDisplayName(tc.name, tc.email)
		if first != tc.wantFirst || last != tc.last {
			t.Fatalf("splitDisplayName(%q,%q) = %q,%q", tc.name, tc.email, first, last)
		}
	}
}

func TestGetOrCreateInsertsOnFirstSight(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE firebase_uid = $1")).
		WithArgs("uid-1").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(sqlmock.AnyArg(), "uid-1", "ana@example.test", "Ana", "Hoxha", "").
		WillReturnRows(userRow("uid-1", "Ana", "Hoxha"))

	svc := NewService(db, ServiceConfig{})
	u, created, err := svc.GetOrCreate(context.Background(), Identity{UID: "uid-1", Email: "ana@example.test", Name: "Ana Hoxha"})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !created || u.FirstName != "Ana" || u.School == nil || *u.School != 7 {
		t.Fatalf("unexpected user %+v created=%v", u, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE firebase_uid = $1")).
		WithArgs("uid-1").
		WillReturnRows(userRow("uid-1", "Ana", ""))

	svc := NewService(db, ServiceConfig{})
	_, created, err := svc.GetOrCreate(context.Background(), Identity{UID: "uid-1"})
	if err != nil || created {
		t.Fatalf("expected existing user, created=%v err=%v", created, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetOrCreateLostInsertRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE firebase_uid = $1")).
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (firebase_uid) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE firebase_uid = $1")).
		WillReturnRows(userRow("uid-1", "Ana", ""))

	svc := NewService(db, ServiceConfig{})
	u, created, err := svc.GetOrCreate(context.Background(), Identity{UID: "uid-1", Name: "Ana"})
	if err != nil || created || u == nil {
		t.Fatalf("expected concurrent row to be returned, created=%v err=%v", created, err)
	}
}

func TestCreateRejectsExistingUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows(userCols))

	svc := NewService(db, ServiceConfig{})
	if _, err := svc.Create(context.Background(), Identity{UID: "uid-1"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestDeleteRemovesAnswersFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	userID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE firebase_uid = $1 FOR UPDATE")).
		WithArgs("uid-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(userID.String()))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_answers WHERE user_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewService(db, ServiceConfig{})
	if err := svc.Delete(context.Background(), "uid-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteUnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	svc := NewService(db, ServiceConfig{})
	if err := svc.Delete(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBuildMessageHasTextAlternative(t *testing.T) {
	msg, err := buildMessage("noreply@etesti.local", "ana@example.test", "Rezultati", "<h1>Përshëndetje</h1><p>Ke kaluar &amp; je gati.</p>")
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	s := string(msg)
	if !strings.Contains(s, "multipart/alternative") {
		t.Fatalf("expected multipart message")
	}
	if !strings.Contains(s, "Përshëndetje\nKe kaluar & je gati.") {
		t.Fatalf("expected stripped text part, got:\n%s", s)
	}
}

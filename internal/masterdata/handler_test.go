package masterdata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockCatalogService struct {
	createSectorFn  func(ctx context.Context, in CreateSectorInput) (*Sector, error)
	deleteSectorFn  func(ctx context.Context, id uuid.UUID) error
	listSubjectsFn  func(ctx context.Context, sectorID *uuid.UUID) ([]Subject, error)
	updateSubjectFn func(ctx context.Context, id uuid.UUID, in UpdateSubjectInput) (*Subject, error)
	importFn        func(ctx context.Context, r io.Reader) (*ImportReport, error)
}

func (m *mockCatalogService) ListSectors(ctx context.Context) ([]Sector, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalogService) GetSector(ctx context.Context, id uuid.UUID) (*Sector, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalogService) CreateSector(ctx context.Context, in CreateSectorInput) (*Sector, error) {
	if m.createSectorFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createSectorFn(ctx, in)
}

func (m *mockCatalogService) UpdateSector(ctx context.Context, id uuid.UUID, in UpdateSectorInput) (*Sector, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalogService) DeleteSector(ctx context.Context, id uuid.UUID) error {
	if m.deleteSectorFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteSectorFn(ctx, id)
}

func (m *mockCatalogService) ListSubjects(ctx context.Context, sectorID *uuid.UUID) ([]Subject, error) {
	if m.listSubjectsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listSubjectsFn(ctx, sectorID)
}

func (m *mockCatalogService) GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalogService) CreateSubject(ctx context.Context, in CreateSubjectInput) (*Subject, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalogService) UpdateSubject(ctx context.Context, id uuid.UUID, in UpdateSubjectInput) (*Subject, error) {
	if m.updateSubjectFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateSubjectFn(ctx, id, in)
}

func (m *mockCatalogService) DeleteSubject(ctx context.Context, id uuid.UUID) error {
	return errors.New("not implemented")
}

func (m *mockCatalogService) ImportSubjectsCSV(ctx context.Context, r io.Reader) (*ImportReport, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, r)
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateSectorUppercasesName(t *testing.T) {
	var got CreateSectorInput
	h := NewHandler(&mockCatalogService{
		createSectorFn: func(ctx context.Context, in CreateSectorInput) (*Sector, error) {
			got = in
			return &Sector{ID: uuid.New(), Name: in.Name, DisplayName: in.DisplayName, IsActive: true}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sectors", bytes.NewBufferString(`{"name":"klasa_10","displayName":"Klasa 10"}`))
	w := httptest.NewRecorder()
	h.CreateSector(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if got.Name != "KLASA_10" {
		t.Fatalf("expected upper-cased name, got %q", got.Name)
	}
}

func TestCreateSectorValidation(t *testing.T) {
	h := NewHandler(&mockCatalogService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sectors", bytes.NewBufferString(`{"name":"KLASA_10"}`))
	w := httptest.NewRecorder()
	h.CreateSector(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDeleteSectorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", err: nil, want: http.StatusNoContent},
		{name: "missing", err: ErrSectorNotFound, want: http.StatusNotFound},
		{name: "in_use", err: ErrSectorInUse, want: http.StatusConflict},
		{name: "boom", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockCatalogService{
				deleteSectorFn: func(ctx context.Context, id uuid.UUID) error { return tc.err },
			})
			req := withID(httptest.NewRequest(http.MethodDelete, "/", nil), uuid.New().String())
			w := httptest.NewRecorder()
			h.DeleteSector(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestDeleteSectorRejectsBadID(t *testing.T) {
	h := NewHandler(&mockCatalogService{})
	req := withID(httptest.NewRequest(http.MethodDelete, "/", nil), "not-a-uuid")
	w := httptest.NewRecorder()
	h.DeleteSector(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListSubjectsSectorFilter(t *testing.T) {
	sectorID := uuid.New()
	var got *uuid.UUID
	h := NewHandler(&mockCatalogService{
		listSubjectsFn: func(ctx context.Context, id *uuid.UUID) ([]Subject, error) {
			got = id
			return []Subject{}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListSubjects(w, httptest.NewRequest(http.MethodGet, "/api/v1/subjects?sectorId="+sectorID.String(), nil))
	if w.Code != http.StatusOK || got == nil || *got != sectorID {
		t.Fatalf("unexpected result code=%d filter=%v", w.Code, got)
	}

	w = httptest.NewRecorder()
	h.ListSubjects(w, httptest.NewRequest(http.MethodGet, "/api/v1/subjects?sectorId=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad filter, got %d", w.Code)
	}
}

func TestListSectorSubjectsPathParam(t *testing.T) {
	sectorID := uuid.New()
	var got *uuid.UUID
	h := NewHandler(&mockCatalogService{
		listSubjectsFn: func(ctx context.Context, id *uuid.UUID) ([]Subject, error) {
			got = id
			return []Subject{}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListSectorSubjects(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/sectors/x/subjects", nil), sectorID.String()))
	if w.Code != http.StatusOK || got == nil || *got != sectorID {
		t.Fatalf("unexpected result code=%d filter=%v", w.Code, got)
	}

	w = httptest.NewRecorder()
	h.ListSectorSubjects(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/sectors/x/subjects", nil), "12"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateSubjectKeepsSectorsWhenAbsent(t *testing.T) {
	var got UpdateSubjectInput
	h := NewHandler(&mockCatalogService{
		updateSubjectFn: func(ctx context.Context, id uuid.UUID, in UpdateSubjectInput) (*Subject, error) {
			got = in
			return &Subject{ID: id}, nil
		},
	})
	req := withID(httptest.NewRequest(http.MethodPut, "/", bytes.NewBufferString(`{"label":"Kimi"}`)), uuid.New().String())
	w := httptest.NewRecorder()
	h.UpdateSubject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.SectorIDs != nil {
		t.Fatalf("absent sectorIds must not replace links")
	}
}

func TestImportSubjectsCSVHandler(t *testing.T) {
	var uploaded string
	h := NewHandler(&mockCatalogService{
		importFn: func(ctx context.Context, r io.Reader) (*ImportReport, error) {
			b, _ := io.ReadAll(r)
			uploaded = string(b)
			return &ImportReport{TotalRows: 1, SuccessRows: 1, Errors: []ImportRowError{}}, nil
		},
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "subjects.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("label,value\nFizikë,fizike\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subjects/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ImportSubjectsCSV(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if uploaded != "label,value\nFizikë,fizike\n" {
		t.Fatalf("unexpected upload %q", uploaded)
	}
}

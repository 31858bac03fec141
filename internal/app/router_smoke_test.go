package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"etesti/internal/auth"
)

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	return nil, auth.ErrInvalidToken
}

func TestRouterSmoke(t *testing.T) {
	withVerifier := NewRouter(Config{CORSOrigin: "http://localhost:3000"}, nil, Deps{Verifier: stubVerifier{}})
	noVerifier := NewRouter(Config{}, nil, Deps{})

	tests := []struct {
		name       string
		router     http.Handler
		method     string
		target     string
		header     map[string]string
		wantStatus int
	}{
		{name: "healthz", router: withVerifier, method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", router: withVerifier, method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "unknown_route", router: withVerifier, method: http.MethodGet, target: "/api/v1/nope", wantStatus: http.StatusNotFound},
		{name: "exam_bad_id", router: withVerifier, method: http.MethodGet, target: "/api/v1/exams/12", wantStatus: http.StatusBadRequest},
		{name: "questions_bad_exam", router: withVerifier, method: http.MethodGet, target: "/api/v1/questions/exam/abc", wantStatus: http.StatusBadRequest},
		{name: "sector_subjects_bad_id", router: withVerifier, method: http.MethodGet, target: "/api/v1/subjects/sector/abc", wantStatus: http.StatusBadRequest},
		{name: "submit_without_token", router: withVerifier, method: http.MethodPost, target: "/api/v1/user-answers/submit", wantStatus: http.StatusUnauthorized},
		{name: "profile_without_token", router: withVerifier, method: http.MethodGet, target: "/api/v1/users/profile", wantStatus: http.StatusUnauthorized},
		{name: "create_exam_bad_token", router: withVerifier, method: http.MethodPost, target: "/api/v1/exams", header: map[string]string{"Authorization": "Bearer junk"}, wantStatus: http.StatusForbidden},
		{name: "verifier_unconfigured", router: noVerifier, method: http.MethodDelete, target: "/api/v1/exams/3f1c2a4e-8d6b-4c3a-9e7f-1a2b3c4d5e6f", wantStatus: http.StatusServiceUnavailable},
		{name: "cors_preflight", router: withVerifier, method: http.MethodOptions, target: "/api/v1/exams", header: map[string]string{"Origin": "http://localhost:3000"}, wantStatus: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			tc.router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("%s %s: got status %d, want %d body=%s", tc.method, tc.target, w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestHealthzBody(t *testing.T) {
	router := NewRouter(Config{}, nil, Deps{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body struct {
		OK   bool `json:"ok"`
		Data struct {
			Status    string `json:"status"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Data.Status != "OK" || body.Data.Timestamp == "" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
}

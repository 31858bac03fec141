package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (*Identity, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if m.verifyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.verifyFn(ctx, token)
}

type mockUserService struct {
	getOrCreateFn   func(ctx context.Context, id Identity) (*User, bool, error)
	createFn        func(ctx context.Context, id Identity) (*User, error)
	getByUIDFn      func(ctx context.Context, uid string) (*User, error)
	updateProfileFn func(ctx context.Context, uid string, in UpdateProfileInput) (*User, error)
	deleteFn        func(ctx context.Context, uid string) error
}

func (m *mockUserService) GetOrCreate(ctx context.Context, id Identity) (*User, bool, error) {
	if m.getOrCreateFn == nil {
		return nil, false, errors.New("not implemented")
	}
	return m.getOrCreateFn(ctx, id)
}

func (m *mockUserService) Create(ctx context.Context, id Identity) (*User, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, id)
}

func (m *mockUserService) GetByUID(ctx context.Context, uid string) (*User, error) {
	if m.getByUIDFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getByUIDFn(ctx, uid)
}

func (m *mockUserService) UpdateProfile(ctx context.Context, uid string, in UpdateProfileInput) (*User, error) {
	if m.updateProfileFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateProfileFn(ctx, uid, in)
}

func (m *mockUserService) Delete(ctx context.Context, uid string) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, uid)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestRequireAuthMapsVerifierErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "missing", err: ErrMissingToken, wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "expired", err: ErrTokenExpired, wantStatus: http.StatusUnauthorized, wantCode: "TOKEN_EXPIRED"},
		{name: "malformed", err: ErrTokenMalformed, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN_FORMAT"},
		{name: "revoked", err: ErrTokenRevoked, wantStatus: http.StatusUnauthorized, wantCode: "TOKEN_REVOKED"},
		{name: "invalid", err: ErrInvalidToken, wantStatus: http.StatusForbidden, wantCode: "INVALID_TOKEN"},
		{name: "keys_down", err: ErrKeysUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "service_unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockVerifier{
				verifyFn: func(ctx context.Context, token string) (*Identity, error) { return nil, tc.err },
			}, &mockUserService{})
			called := false
			next := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/user-answers", nil)
			req.Header.Set("Authorization", "Bearer abc")
			w := httptest.NewRecorder()
			next.ServeHTTP(w, req)

			if called {
				t.Fatalf("next handler must not run")
			}
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, w.Code)
			}
			if got := errorCode(t, w); got != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, got)
			}
		})
	}
}

func TestRequireAuthWithoutVerifier(t *testing.T) {
	h := NewHandler(nil, &mockUserService{})
	next := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler must not run")
	}))
	w := httptest.NewRecorder()
	next.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRequireAuthPassesBearerToken(t *testing.T) {
	var gotToken string
	h := NewHandler(&mockVerifier{
		verifyFn: func(ctx context.Context, token string) (*Identity, error) {
			gotToken = token
			return &Identity{UID: "uid-1"}, nil
		},
	}, &mockUserService{})

	var gotUID string
	next := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := CurrentIdentity(r.Context())
		gotUID = id.UID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer  tok-123 ")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusOK || gotToken != "tok-123" || gotUID != "uid-1" {
		t.Fatalf("unexpected result code=%d token=%q uid=%q", w.Code, gotToken, gotUID)
	}
}

func TestOptionalAuthIgnoresBadToken(t *testing.T) {
	h := NewHandler(&mockVerifier{
		verifyFn: func(ctx context.Context, token string) (*Identity, error) { return nil, ErrInvalidToken },
	}, &mockUserService{})

	called := false
	next := h.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := CurrentIdentity(r.Context()); ok {
			t.Fatalf("identity must not be set")
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	next.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatalf("next handler should run")
	}
}

func TestRequireUserRejectsDeactivatedAccount(t *testing.T) {
	h := NewHandler(nil, &mockUserService{
		getOrCreateFn: func(ctx context.Context, id Identity) (*User, bool, error) {
			return &User{ID: uuid.New(), FirebaseUID: id.UID, IsActive: false}, false, nil
		},
	})
	next := h.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &Identity{UID: "uid-9"}))
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if got := errorCode(t, w); got != "TOKEN_REVOKED" {
		t.Fatalf("expected TOKEN_REVOKED, got %s", got)
	}
}

func TestRequireUserStoresResolvedUser(t *testing.T) {
	userID := uuid.New()
	calls := 0
	h := NewHandler(nil, &mockUserService{
		getOrCreateFn: func(ctx context.Context, id Identity) (*User, bool, error) {
			calls++
			return &User{ID: userID, FirebaseUID: id.UID, IsActive: true}, true, nil
		},
	})

	var got uuid.UUID
	next := h.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := CurrentUser(r.Context())
		got = u.ID
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &Identity{UID: "uid-1"}))
	next.ServeHTTP(httptest.NewRecorder(), req)

	if calls != 1 || got != userID {
		t.Fatalf("expected one get-or-create resolving %s, got calls=%d id=%s", userID, calls, got)
	}
}

func TestCreateProfileExisting(t *testing.T) {
	h := NewHandler(nil, &mockUserService{
		createFn: func(ctx context.Context, id Identity) (*User, error) { return nil, ErrUserExists },
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/profile", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &Identity{UID: "uid-1"}))
	w := httptest.NewRecorder()

	h.CreateProfile(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateProfilePassesMergeFields(t *testing.T) {
	var got UpdateProfileInput
	h := NewHandler(nil, &mockUserService{
		updateProfileFn: func(ctx context.Context, uid string, in UpdateProfileInput) (*User, error) {
			got = in
			return &User{FirebaseUID: uid, FirstName: *in.FirstName}, nil
		},
	})

	payload := []byte(`{"firstName":"Ana","school":12}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/profile", bytes.NewReader(payload))
	req = req.WithContext(ContextWithIdentity(req.Context(), &Identity{UID: "uid-1"}))
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.FirstName == nil || *got.FirstName != "Ana" || got.School == nil || *got.School != 12 {
		t.Fatalf("unexpected input %+v", got)
	}
	if got.LastName != nil || got.AvatarURL != nil {
		t.Fatalf("absent fields must stay nil")
	}
}

func TestDeleteProfileNoContent(t *testing.T) {
	h := NewHandler(nil, &mockUserService{
		deleteFn: func(ctx context.Context, uid string) error { return nil },
	})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/profile", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &Identity{UID: "uid-1"}))
	w := httptest.NewRecorder()

	h.DeleteProfile(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

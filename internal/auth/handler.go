package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"etesti/internal/app/apiresp"
	"etesti/internal/app/observability"
	"etesti/internal/app/request"
)

type userService interface {
	GetOrCreate(ctx context.Context, id Identity) (*User, bool, error)
	Create(ctx context.Context, id Identity) (*User, error)
	GetByUID(ctx context.Context, uid string) (*User, error)
	UpdateProfile(ctx context.Context, uid string, in UpdateProfileInput) (*User, error)
	Delete(ctx context.Context, uid string) error
}

type Handler struct {
	verifier Verifier
	svc      userService
}

func NewHandler(verifier Verifier, svc userService) *Handler {
	return &Handler{verifier: verifier, svc: svc}
}

// RequireAuth verifies the bearer token and stores the identity in context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.verifier == nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, ErrVerifierDisabled.Error())
			return
		}

		id, err := h.verifier.Verify(r.Context(), bearerToken(r))
		if err != nil {
			writeTokenError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// OptionalAuth attaches an identity when a valid token is present and
// otherwise lets the request through anonymously.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if h.verifier == nil || token == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrTokenExpired) {
				log.Printf("optional auth: token rejected: %v", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// RequireUser resolves (get-or-create) the local user for the verified
// identity. Must run after RequireAuth.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := CurrentIdentity(r.Context())
		if !ok {
			apiresp.WriteErrorCode(w, r, http.StatusUnauthorized, "", ErrMissingToken.Error())
			return
		}
		user, _, err := h.svc.GetOrCreate(r.Context(), *id)
		if err != nil {
			log.Printf("resolve user %s: %v", id.UID, err)
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if !user.IsActive {
			apiresp.WriteErrorCode(w, r, http.StatusUnauthorized, "TOKEN_REVOKED", "account is deactivated, please sign in again")
			return
		}
		observability.SetUserID(r.Context(), user.ID.String())
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := CurrentIdentity(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.svc.Create(r.Context(), *id)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			apiresp.WriteError(w, r, http.StatusBadRequest, "User already exists")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "token has no subject")
		default:
			log.Printf("create profile %s: %v", id.UID, err)
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, user)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := CurrentIdentity(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in UpdateProfileInput
	if err := request.DecodeJSON(r, &in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), id.UID, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "User not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "firstName must not be empty")
		default:
			log.Printf("update profile %s: %v", id.UID, err)
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := CurrentIdentity(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Delete(r.Context(), id.UID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("delete profile %s: %v", id.UID, err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteNoContent(w)
}

func writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingToken):
		apiresp.WriteErrorCode(w, r, http.StatusUnauthorized, "", "Access token required")
	case errors.Is(err, ErrTokenExpired):
		apiresp.WriteErrorCode(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "Your authentication token has expired. Please refresh your token.")
	case errors.Is(err, ErrTokenMalformed):
		apiresp.WriteErrorCode(w, r, http.StatusUnauthorized, "INVALID_TOKEN_FORMAT", "The provided token is malformed.")
	case errors.Is(err, ErrTokenRevoked):
		apiresp.WriteErrorCode(w, r, http.StatusUnauthorized, "TOKEN_REVOKED", "Your authentication token has been revoked. Please sign in again.")
	case errors.Is(err, ErrKeysUnavailable):
		log.Printf("token verification unavailable: %v", err)
		apiresp.WriteError(w, r, http.StatusServiceUnavailable, ErrVerifierDisabled.Error())
	default:
		log.Printf("token verification failed: %v", err)
		apiresp.WriteErrorCode(w, r, http.StatusForbidden, "INVALID_TOKEN", "Token verification failed")
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

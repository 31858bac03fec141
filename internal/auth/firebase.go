package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultFirebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// FirebaseVerifier validates Firebase ID tokens (RS256) against Google's
// rotating x509 certificates.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	leeway    time.Duration
	now       func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

type FirebaseConfig struct {
	ProjectID string
	CertsURL  string
	Client    *http.Client
	Leeway    time.Duration
}

type firebaseClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	AuthTime int64  `json:"auth_time"`
	jwt.RegisteredClaims
}

// NewFirebaseVerifier returns nil when no project is configured.
func NewFirebaseVerifier(cfg FirebaseConfig) Verifier {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil
	}
	certsURL := strings.TrimSpace(cfg.CertsURL)
	if certsURL == "" {
		certsURL = defaultFirebaseCertsURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &FirebaseVerifier{
		projectID: projectID,
		certsURL:  certsURL,
		client:    client,
		leeway:    leeway,
		now:       time.Now,
		keys:      map[string]*rsa.PublicKey{},
	}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &firebaseClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrInvalidToken)
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if claims.AuthTime > 0 && time.Unix(claims.AuthTime, 0).After(v.now().Add(v.leeway)) {
		return nil, fmt.Errorf("%w: auth_time in the future", ErrInvalidToken)
	}

	return &Identity{
		UID:     claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, ErrKeysUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, ErrInvalidToken):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := v.now().Before(v.expiresAt)
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kid %q", ErrInvalidToken, kid)
	}
	return key, nil
}

func (v *FirebaseVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrKeysUnavailable, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("%w: decode certs: %v", ErrKeysUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pemCert := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemCert))
		if err != nil {
			return fmt.Errorf("%w: parse cert %s: %v", ErrKeysUnavailable, kid, err)
		}
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = v.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		if secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age=")); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Hour
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testProject = "etesti-test"

type tokenFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	hits   *int64
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
		_ = json.NewEncoder(w).Encode(map[string]string{"kid-1": string(certPEM)})
	}))
	t.Cleanup(srv.Close)

	return &tokenFixture{key: key, server: srv, hits: &hits}
}

func (f *tokenFixture) verifier() *FirebaseVerifier {
	return NewFirebaseVerifier(FirebaseConfig{ProjectID: testProject, CertsURL: f.server.URL}).(*FirebaseVerifier)
}

func (f *tokenFixture) sign(t *testing.T, mutate func(c *firebaseClaims)) string {
	t.Helper()
	now := time.Now()
	claims := &firebaseClaims{
		Email:    "ana@example.test",
		Name:     "Ana Hoxha",
		AuthTime: now.Add(-time.Minute).Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://securetoken.google.com/" + testProject,
			Audience:  jwt.ClaimStrings{testProject},
			Subject:   "firebase-uid-1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "kid-1"
	raw, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestFirebaseVerifierAcceptsValidToken(t *testing.T) {
	f := newTokenFixture(t)
	v := f.verifier()

	id, err := v.Verify(context.Background(), f.sign(t, nil))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UID != "firebase-uid-1" || id.Email != "ana@example.test" || id.Name != "Ana Hoxha" {
		t.Fatalf("unexpected identity %+v", id)
	}

	if _, err := v.Verify(context.Background(), f.sign(t, nil)); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if got := atomic.LoadInt64(f.hits); got != 1 {
		t.Fatalf("expected certs fetched once, got %d", got)
	}
}

func TestFirebaseVerifierClassifiesErrors(t *testing.T) {
	f := newTokenFixture(t)
	v := f.verifier()

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMissingToken},
		{name: "malformed", token: "not-a-jwt", want: ErrTokenMalformed},
		{
			name: "expired",
			token: f.sign(t, func(c *firebaseClaims) {
				c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-3 * time.Hour))
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
			}),
			want: ErrTokenExpired,
		},
		{
			name: "wrong_audience",
			token: f.sign(t, func(c *firebaseClaims) {
				c.Audience = jwt.ClaimStrings{"another-project"}
			}),
			want: ErrInvalidToken,
		},
		{
			name: "empty_subject",
			token: f.sign(t, func(c *firebaseClaims) {
				c.Subject = ""
			}),
			want: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFirebaseVerifierDisabledWithoutProject(t *testing.T) {
	if v := NewFirebaseVerifier(FirebaseConfig{}); v != nil {
		t.Fatalf("expected nil verifier without project id")
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=19302, must-revalidate"); got != 19302*time.Second {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge(""); got != time.Hour {
		t.Fatalf("expected 1h default, got %s", got)
	}
}

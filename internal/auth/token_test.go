package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		Role: "clinician",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dr-1",
			Issuer:    "novamind",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"BEARER  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, ExtractTokenFromHeader(r), header)
	}
}

func TestVerifier(t *testing.T) {
	v := NewVerifier(secret, "novamind")

	claims, err := v.Verify(sign(t, secret, jwt.SigningMethodHS256, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "dr-1", claims.Subject)
	assert.Equal(t, "clinician", claims.Role)

	_, err = v.Verify(sign(t, "other-secret", jwt.SigningMethodHS256, validClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err = v.Verify(sign(t, secret, jwt.SigningMethodHS256, expired))
	assert.ErrorIs(t, err, ErrTokenExpired)

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"
	_, err = v.Verify(sign(t, secret, jwt.SigningMethodHS256, wrongIssuer))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := validClaims()
	noExp.ExpiresAt = nil
	_, err = v.Verify(sign(t, secret, jwt.SigningMethodHS256, noExp))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func run(m *Middleware, r *http.Request) (*httptest.ResponseRecorder, *http.Request) {
	var seen *http.Request
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w, seen
}

func TestMiddlewareRequired(t *testing.T) {
	m := NewMiddleware(NewVerifier(secret, ""), true, nil)

	w, seen := run(m, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, seen)
	assert.Contains(t, w.Body.String(), `"type":"token_revoked"`)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	bad := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	bad.Header.Set("Authorization", "Bearer "+sign(t, "nope", jwt.SigningMethodHS256, validClaims()))
	w, seen = run(m, bad)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, seen)

	token := sign(t, secret, jwt.SigningMethodHS256, validClaims())
	good := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	good.Header.Set("Authorization", "Bearer "+token)
	w, seen = run(m, good)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, token, TokenFromContext(seen.Context()))
	claims, ok := ClaimsFromContext(seen.Context())
	require.True(t, ok)
	assert.Equal(t, "dr-1", claims.Subject)
}

func TestMiddlewareOptionalForwardsToken(t *testing.T) {
	m := NewMiddleware(nil, false, nil)

	w, seen := run(m, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "", TokenFromContext(seen.Context()))

	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.Header.Set("Authorization", "Bearer opaque-token")
	w, seen = run(m, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "opaque-token", TokenFromContext(seen.Context()))
	_, ok := ClaimsFromContext(seen.Context())
	assert.False(t, ok)
}

func TestMiddlewareOptionalWithVerifierLetsBadTokenThrough(t *testing.T) {
	m := NewMiddleware(NewVerifier(secret, ""), false, nil)
	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w, seen := run(m, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "garbage", TokenFromContext(seen.Context()))
	_, ok := ClaimsFromContext(seen.Context())
	assert.False(t, ok)
}

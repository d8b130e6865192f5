package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/mindgate/internal/auth"
	"github.com/harrylevesque/mindgate/internal/mlclient"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/retry"
	"github.com/harrylevesque/mindgate/internal/utils"
)

type backendCall struct {
	Method string
	Path   string
	Auth   string
	ReqID  string
	Body   map[string]any
}

// fakeBackend answers from a path table and records every call.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []backendCall
	replies map[string]reply
}

type reply struct {
	status int
	body   string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := backendCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		ReqID:  r.Header.Get(proxy.RequestIDHeader),
	}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &c.Body)
	}
	b.mu.Lock()
	b.calls = append(b.calls, c)
	rep, ok := b.replies[r.Method+" "+r.URL.Path]
	b.mu.Unlock()
	if !ok {
		rep = reply{http.StatusNotFound, `{"detail":"Not Found"}`}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	io.WriteString(w, rep.body)
}

func (b *fakeBackend) last() backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return backendCall{}
	}
	return b.calls[len(b.calls)-1]
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

const testSecret = "router-secret"

func newGateway(t *testing.T, replies map[string]reply, authRequired bool) (http.Handler, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{replies: replies}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	noSleep := retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	rt := retry.New(retry.DefaultPolicy(), noSleep)
	base := srv.URL + "/api/v1"

	ml, err := mlclient.New(base, mlclient.WithHTTPClient(srv.Client()), mlclient.WithRetrier(rt))
	require.NoError(t, err)
	fwd, err := proxy.NewForwarder(proxy.ForwarderOptions{BackendURL: base, Client: srv.Client(), Retrier: rt})
	require.NoError(t, err)

	var verifier *auth.Verifier
	if authRequired {
		verifier = auth.NewVerifier(testSecret, "")
	}
	h := NewHandler(Deps{
		ML:          ml,
		Forwarder:   fwd,
		Auth:        auth.NewMiddleware(verifier, authRequired, nil),
		CORSOrigins: []string{"https://dashboard.example"},
	})
	return h, fb
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) proxy.ErrorBody {
	t.Helper()
	var env proxy.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error
}

func TestHealth(t *testing.T) {
	h, fb := newGateway(t, nil, true)
	w := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, 0, fb.count())
}

func TestReady(t *testing.T) {
	h, _ := newGateway(t, map[string]reply{
		"GET /api/v1/mentallama/health": {200, `{"status":"healthy","version":"1.4"}`},
	}, false)
	w := do(h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","ml":"healthy"}`, w.Body.String())

	h, fb := newGateway(t, map[string]reply{
		"GET /api/v1/mentallama/health": {500, `{"detail":"model not loaded"}`},
	}, false)
	w = do(h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	e := envelope(t, w)
	assert.Equal(t, utils.ErrServiceUnavailable, e.Type)
	assert.Contains(t, e.Message, "model not loaded")
	assert.Equal(t, 1+retry.DefaultPolicy().MaxRetries, fb.count())

	h, _ = newGateway(t, map[string]reply{
		"GET /api/v1/mentallama/health": {200, `{"status":"degraded"}`},
	}, false)
	w = do(h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMLHandlerConvertsCasing(t *testing.T) {
	h, fb := newGateway(t, map[string]reply{
		"POST /api/v1/phi/detect": {200, `{"has_phi":true,"entities":[{"type":"NAME","text":"Ann","start":0,"end":3}]}`},
	}, false)

	w := do(h, http.MethodPost, "/api/ml/phi/detect", `{"text":"Ann came in","detectionLevel":"strict"}`,
		"Authorization", "Bearer abc", proxy.RequestIDHeader, "rid-42")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"hasPhi":true,"entities":[{"type":"NAME","text":"Ann","start":0,"end":3}]}`, w.Body.String())
	call := fb.last()
	assert.Equal(t, "/api/v1/phi/detect", call.Path)
	assert.Equal(t, map[string]any{"text": "Ann came in", "detection_level": "strict"}, call.Body)
	assert.Equal(t, "Bearer abc", call.Auth)
	assert.Equal(t, "rid-42", call.ReqID)
}

func TestMLSessionRoutes(t *testing.T) {
	h, fb := newGateway(t, map[string]reply{
		"POST /api/v1/digital-twin/sessions":              {201, `{"session_id":"s-9","session_type":"assessment","status":"active"}`},
		"GET /api/v1/digital-twin/sessions/s-9/insights":  {200, `{"key_themes":["sleep"]}`},
		"POST /api/v1/digital-twin/sessions/s-9/messages": {200, `{"reply_text":"hello"}`},
	}, false)

	w := do(h, http.MethodPost, "/api/ml/digital-twin/sessions", `{"therapistId":"t-1","sessionType":"assessment"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"sessionId":"s-9","sessionType":"assessment","status":"active"}`, w.Body.String())
	assert.Equal(t, map[string]any{"therapist_id": "t-1", "session_type": "assessment"}, fb.last().Body)

	w = do(h, http.MethodGet, "/api/ml/digital-twin/sessions/s-9/insights", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"keyThemes":["sleep"]}`, w.Body.String())

	w = do(h, http.MethodPost, "/api/ml/digital-twin/sessions/s-9/messages", `{"message":"hi","senderType":"therapist"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"replyText":"hello"}`, w.Body.String())
	assert.Equal(t, "therapist", fb.last().Body["sender_type"])
}

func TestMLValidationError(t *testing.T) {
	h, fb := newGateway(t, nil, false)
	w := do(h, http.MethodPost, "/api/ml/risk-assessment", `{"text":"","riskType":"weather"}`,
		proxy.RequestIDHeader, "rid-1")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := envelope(t, w)
	assert.Equal(t, utils.ErrValidation, e.Type)
	assert.Equal(t, "rid-1", e.RequestID)
	assert.Contains(t, e.Details, "text")
	assert.Contains(t, e.Details, "riskType")
	assert.Equal(t, 0, fb.count())
}

func TestMLMalformedBody(t *testing.T) {
	h, fb := newGateway(t, nil, false)
	w := do(h, http.MethodPost, "/api/ml/sentiment-analysis", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, utils.ErrBadRequest, envelope(t, w).Type)
	assert.Equal(t, 0, fb.count())
}

func TestMLBackendErrorIsNormalized(t *testing.T) {
	h, fb := newGateway(t, map[string]reply{
		"POST /api/v1/mentallama/sentiment-analysis": {429, `{"error":{"message":"slow down"}}`},
	}, false)
	w := do(h, http.MethodPost, "/api/ml/sentiment-analysis", `{"text":"fine"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	e := envelope(t, w)
	assert.Equal(t, utils.ErrRateLimit, e.Type)
	assert.Equal(t, "slow down", e.Message)
	assert.Equal(t, 1+retry.DefaultPolicy().MaxRetries, fb.count())
}

func TestProxyFallThrough(t *testing.T) {
	h, fb := newGateway(t, map[string]reply{
		"GET /api/v1/xgboost/predict-risk/p1": {200, `{"risk_level":"low","confidence_score":0.9}`},
		"GET /api/v1/mentallama/custom-model": {200, `{"model_name":"x"}`},
	}, false)

	w := do(h, http.MethodGet, "/api/patients/p1/risk-assessment", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"riskLevel":"low","confidence":0.9}`, w.Body.String())

	w = do(h, http.MethodGet, "/api/ml/custom-model", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"modelName":"x"}`, w.Body.String())
	assert.Equal(t, "/api/v1/mentallama/custom-model", fb.last().Path)
}

func TestAuthRequired(t *testing.T) {
	h, fb := newGateway(t, map[string]reply{
		"GET /api/v1/auth/me": {200, `{"user_id":"dr-1"}`},
	}, true)

	for _, path := range []string{"/api/users/me", "/api/ml/health"} {
		w := do(h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, utils.ErrTokenRevoked, envelope(t, w).Type)
	}
	assert.Equal(t, 0, fb.count())

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "dr-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	w := do(h, http.MethodGet, "/api/users/me", "", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"dr-1"}`, w.Body.String())
	assert.Equal(t, "Bearer "+token, fb.last().Auth)
}

func TestRequestIDMiddleware(t *testing.T) {
	h, fb := newGateway(t, map[string]reply{"GET /api/v1/auth/me": {200, `{}`}}, false)

	w := do(h, http.MethodGet, "/api/users/me", "")
	id := w.Header().Get(proxy.RequestIDHeader)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, fb.last().ReqID)

	w = do(h, http.MethodGet, "/api/users/me", "", proxy.RequestIDHeader, "dash-123")
	assert.Equal(t, "dash-123", w.Header().Get(proxy.RequestIDHeader))

	w = do(h, http.MethodGet, "/api/users/me", "", proxy.RequestIDHeader, "has space")
	assert.NotEqual(t, "has space", w.Header().Get(proxy.RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	h, fb := newGateway(t, nil, true)

	w := do(h, http.MethodOptions, "/api/ml/process", "",
		"Origin", "https://dashboard.example",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Authorization, Content-Type")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dashboard.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, 0, fb.count())

	w = do(h, http.MethodOptions, "/api/ml/process", "",
		"Origin", "https://evil.example",
		"Access-Control-Request-Method", "POST")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/mindgate/internal/utils"
)

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail string", `{"detail":"Patient not found"}`, "Patient not found"},
		{"detail list", `{"detail":[{"loc":["body","text"],"msg":"field required"},{"msg":"too short"}]}`, "field required; too short"},
		{"detail object", `{"detail":{"message":"nested"}}`, "nested"},
		{"error string", `{"error":"bad token"}`, "bad token"},
		{"error object", `{"error":{"message":"quota exceeded","code":42}}`, "quota exceeded"},
		{"message", `{"message":"plain"}`, "plain"},
		{"detail wins", `{"detail":"first","message":"second"}`, "first"},
		{"text body", `upstream exploded`, "upstream exploded"},
		{"broken json", `{"detail":`, ""},
		{"empty", ``, ""},
		{"no known field", `{"status":"x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractMessage([]byte(tt.body)))
		})
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()

	h := http.Header{}
	h.Set("Retry-After", "2")
	WriteError(w, r, utils.FromStatus(http.StatusTooManyRequests, "slow down", h))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, utils.ErrRateLimit, env.Error.Type)
	assert.Equal(t, "slow down", env.Error.Message)
	assert.Equal(t, http.StatusTooManyRequests, env.Error.Status)
	assert.Equal(t, "req-1", env.Error.RequestID)
}

func TestWriteErrorPlainError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	w := httptest.NewRecorder()
	WriteError(w, r, assertErr("kaput"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":{"type":"unexpected_error","message":"kaput","status":500}}`, w.Body.String())
}

func TestNewErrorEnvelopeDefaults(t *testing.T) {
	env := NewErrorEnvelope(&utils.APIError{Type: utils.ErrTimeout, RetryAfter: time.Second}, "")
	assert.Equal(t, http.StatusGatewayTimeout, env.Error.Status)
	assert.Equal(t, "Gateway Timeout", env.Error.Message)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

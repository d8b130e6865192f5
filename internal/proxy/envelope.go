package proxy

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/harrylevesque/mindgate/internal/utils"
)

// RequestIDHeader carries the correlation id between dashboard, gateway and backend.
const RequestIDHeader = "X-Request-ID"

// ErrorBody is the dashboard-facing description of a failed call.
type ErrorBody struct {
	Type      utils.ErrorType   `json:"type"`
	Message   string            `json:"message"`
	Status    int               `json:"status"`
	RequestID string            `json:"requestId,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// ErrorEnvelope wraps every error the gateway returns.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// NewErrorEnvelope builds the envelope for e.
func NewErrorEnvelope(e *utils.APIError, requestID string) ErrorEnvelope {
	status := e.Status
	if status == 0 {
		status = e.Type.HTTPStatus()
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return ErrorEnvelope{Error: ErrorBody{
		Type:      e.Type,
		Message:   msg,
		Status:    status,
		RequestID: requestID,
		Details:   e.Details,
	}}
}

// WriteError classifies err and writes it as an envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := utils.Classify(err)
	env := NewErrorEnvelope(e, r.Header.Get(RequestIDHeader))
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(e))
	}
	WriteJSON(w, env.Error.Status, env)
}

// WriteJSON writes payload as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func retryAfterSeconds(e *utils.APIError) string {
	return strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds())))
}

// ExtractMessage pulls a human readable message out of a backend error body.
// It understands FastAPI style {"detail": ...}, {"error": "..."},
// {"error": {"message": ...}} and {"message": ...}.
func ExtractMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		if body[0] != '{' && body[0] != '[' && len(body) <= 512 {
			return string(body)
		}
		return ""
	}
	if msg := detailMessage(m["detail"]); msg != "" {
		return msg
	}
	switch e := m["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if s, ok := e["message"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := m["message"].(string); ok {
		return s
	}
	return ""
}

func detailMessage(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case []any:
		msgs := make([]string, 0, len(d))
		for _, item := range d {
			switch it := item.(type) {
			case map[string]any:
				if s, ok := it["msg"].(string); ok && s != "" {
					msgs = append(msgs, s)
				}
			case string:
				msgs = append(msgs, it)
			}
		}
		return strings.Join(msgs, "; ")
	case map[string]any:
		if s, ok := d["message"].(string); ok {
			return s
		}
	}
	return ""
}

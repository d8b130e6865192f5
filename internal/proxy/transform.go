package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// Transformer rewrites request and response payloads between the dashboard's
// camelCase and the backend's snake_case. It never fails: a payload it cannot
// handle is logged and returned as it came in.
type Transformer struct {
	logger *zap.Logger
}

// NewTransformer creates a Transformer. A nil logger discards warnings.
func NewTransformer(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{logger: logger}
}

// Request converts a dashboard JSON body for the backend.
func (t *Transformer) Request(rule *Rule, body []byte) []byte {
	var overrides map[string]string
	if rule != nil {
		overrides = rule.RequestFields
	}
	return t.convert("request", rule, body, ToSnakeCase, overrides)
}

// Response converts a backend JSON body for the dashboard.
func (t *Transformer) Response(rule *Rule, body []byte) []byte {
	var overrides map[string]string
	if rule != nil {
		overrides = rule.ResponseFields
	}
	return t.convert("response", rule, body, ToCamelCase, overrides)
}

// Query snake-cases query parameter names. Values are kept as sent.
func (t *Transformer) Query(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		name := ToSnakeCase(k)
		out[name] = append(out[name], v...)
	}
	return out
}

func (t *Transformer) convert(direction string, rule *Rule, body []byte, conv func(string) string, overrides map[string]string) []byte {
	if len(bytes.TrimSpace(body)) == 0 {
		return body
	}
	out, err := ConvertJSON(body, conv, overrides)
	if err != nil {
		name := ""
		if rule != nil {
			name = rule.Name
		}
		t.logger.Warn("payload transform failed, passing through",
			zap.String("direction", direction),
			zap.String("route", name),
			zap.Error(err))
		return body
	}
	return out
}

// ConvertJSON decodes body, renames its keys and encodes it again. Numbers
// keep their literal form and HTML characters are not escaped.
func ConvertJSON(body []byte, conv func(string) string, overrides map[string]string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode: trailing data after JSON value")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ConvertKeys(v, conv, overrides)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Package mlclient calls the clinical backend's ML services: MentaLLaMA text
// analysis, digital twin sessions and PHI detection.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/auth"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/retry"
	"github.com/harrylevesque/mindgate/internal/utils"
)

const maxResponseBytes = 10 << 20

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	retrier *retry.Retrier
	logger  *zap.Logger
	token   string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetrier replaces the default retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithToken sets a fixed bearer token, used when the context carries none.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the ML API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ml url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid ml url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.DefaultPolicy(), retry.WithLogger(c.logger))
	}
	return c, nil
}

// call runs one ML request inside the retry loop. Parameters are already
// validated.
func call[T any](ctx context.Context, c *Client, op, method, path string, in any) (T, error) {
	return retry.Do(ctx, c.retrier, op, func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, method, path, in, &out)
		return out, err
	})
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return utils.New(utils.ErrUnexpected, fmt.Sprintf("failed to encode request: %v", err))
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := auth.TokenFromContext(ctx)
	if token == "" {
		token = c.token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		req.Header.Set(proxy.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return utils.FromStatus(resp.StatusCode, proxy.ExtractMessage(data), resp.Header)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &utils.APIError{
			Type:    utils.ErrUnexpected,
			Status:  http.StatusBadGateway,
			Message: "malformed response from ml service",
			Err:     err,
		}
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID makes outbound calls made with ctx carry id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

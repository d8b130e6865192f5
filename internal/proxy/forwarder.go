package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/crypto"
	"github.com/harrylevesque/mindgate/internal/retry"
	"github.com/harrylevesque/mindgate/internal/utils"
)

// MaxBodyBytes bounds request and response bodies handled by the forwarder.
const MaxBodyBytes = 10 << 20

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder is the catch-all dashboard API handler. It rewrites the call for
// the backend, sends it, and rewrites the answer for the dashboard.
type Forwarder struct {
	backend   *url.URL
	client    *http.Client
	retrier   *retry.Retrier
	transform *Transformer
	pseudo    *crypto.Pseudonymizer
	logger    *zap.Logger
	mapper    atomic.Pointer[Mapper]
}

// ForwarderOptions collects the collaborators of a Forwarder.
type ForwarderOptions struct {
	BackendURL string
	Client     *http.Client
	Mapper     *Mapper
	Retrier    *retry.Retrier
	Pseudo     *crypto.Pseudonymizer
	Logger     *zap.Logger
}

// NewForwarder validates the backend URL and wires a Forwarder.
func NewForwarder(opts ForwarderOptions) (*Forwarder, error) {
	u, err := url.Parse(opts.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", opts.BackendURL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.New(retry.DefaultPolicy(), retry.WithLogger(opts.Logger))
	}
	if opts.Mapper == nil {
		opts.Mapper = MustMapper(DefaultRules())
	}
	if opts.Pseudo == nil {
		p, err := crypto.NewPseudonymizer(nil)
		if err != nil {
			return nil, err
		}
		opts.Pseudo = p
	}
	f := &Forwarder{
		backend:   u,
		client:    opts.Client,
		retrier:   opts.Retrier,
		transform: NewTransformer(opts.Logger),
		pseudo:    opts.Pseudo,
		logger:    opts.Logger,
	}
	f.mapper.Store(opts.Mapper)
	return f, nil
}

// SetMapper swaps the route table. In-flight requests keep the table they started with.
func (f *Forwarder) SetMapper(m *Mapper) {
	f.mapper.Store(m)
}

// Mapper returns the active route table.
func (f *Forwarder) Mapper() *Mapper {
	return f.mapper.Load()
}

type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	// match on the escaped form so %2F stays inside its segment
	escaped := r.URL.EscapedPath()
	route, matched := f.Mapper().Match(escaped)
	backendPath := Normalize(escaped)
	if matched {
		backendPath = route.Path
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		WriteError(w, r, utils.New(utils.ErrBadRequest, "request body too large or unreadable"))
		return
	}
	if len(body) > 0 && isJSON(r.Header.Get("Content-Type")) {
		body = f.transform.Request(route.Rule, body)
	}

	target, err := f.target(backendPath)
	if err != nil {
		WriteError(w, r, utils.New(utils.ErrBadRequest, "malformed request path"))
		return
	}
	target.RawQuery = f.transform.Query(r.URL.Query()).Encode()

	send := func(ctx context.Context) (*upstreamResponse, error) {
		return f.send(ctx, r, target, body)
	}

	var resp *upstreamResponse
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		resp, err = retry.Do(r.Context(), f.retrier, "proxy "+routeName(route), send)
	} else {
		resp, err = send(r.Context())
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("route", routeName(route)),
		zap.String("backend_path", f.pseudo.Path(backendPath)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		apiErr := utils.Classify(err)
		f.logger.Warn("proxy call failed", append(fields,
			zap.String("type", string(apiErr.Type)),
			zap.Int("status", apiErr.Status),
			zap.Int("attempts", apiErr.Attempts))...)
		WriteError(w, r, apiErr)
		return
	}
	f.logger.Debug("proxy call", append(fields, zap.Int("status", resp.status))...)

	out := resp.body
	if len(out) > 0 && isJSON(resp.header.Get("Content-Type")) {
		out = f.transform.Response(route.Rule, out)
	}
	copyResponseHeaders(w.Header(), resp.header)
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.status)
	if r.Method != http.MethodHead {
		w.Write(out)
	}
}

// target joins an escaped backend path onto the base URL. Path and RawPath
// are both set so encoded bytes reach the backend as the dashboard sent them.
func (f *Forwarder) target(escapedPath string) (*url.URL, error) {
	raw := strings.TrimRight(f.backend.EscapedPath(), "/") + "/" + escapedPath
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return nil, err
	}
	u := *f.backend
	u.Path = decoded
	u.RawPath = raw
	return &u, nil
}

// send performs one backend round trip. Any status of 400 and above comes
// back as a classified error carrying the backend's own message.
func (f *Forwarder) send(ctx context.Context, in *http.Request, target *url.URL, body []byte) (*upstreamResponse, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, in.Method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	copyHeaders(req.Header, in.Header)
	req.Header.Del("Content-Length")
	// let the transport negotiate compression so bodies arrive decoded
	req.Header.Del("Accept-Encoding")
	if id := in.Header.Get(RequestIDHeader); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
	if host, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			host = prior + ", " + host
		}
		req.Header.Set("X-Forwarded-For", host)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, utils.FromStatus(resp.StatusCode, ExtractMessage(data), resp.Header)
	}
	return &upstreamResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHop(k) {
			continue
		}
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// copyResponseHeaders keeps the gateway's own CORS headers. Upstream
// Access-Control-* headers are dropped and Vary is merged.
func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch {
		case isHop(k), strings.HasPrefix(http.CanonicalHeaderKey(k), "Access-Control-"):
			continue
		case http.CanonicalHeaderKey(k) == "Vary":
			for _, v := range vv {
				dst.Add("Vary", v)
			}
		default:
			dst.Del(k)
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}

func isHop(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

func routeName(r Route) string {
	if r.Rule == nil {
		return "passthrough"
	}
	return r.Rule.Name
}

package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/crypto"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/utils"
)

const maxRequestIDLength = 128

// RequestID makes sure every request carries an X-Request-ID, keeping a sane
// inbound one, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(proxy.RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
			r.Header.Set(proxy.RequestIDHeader, id)
		}
		w.Header().Set(proxy.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// Recover turns a handler panic into a 500 envelope.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					zap.String("request_id", r.Header.Get(proxy.RequestIDHeader)),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()))
				proxy.WriteError(w, r, utils.New(utils.ErrUnexpected, "internal error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsHeaders = []string{"Authorization", "Content-Type", proxy.RequestIDHeader}
	corsExpose  = []string{proxy.RequestIDHeader, "Retry-After"}
)

// CORS allows the listed dashboard origins. "*" allows any origin without
// credentials. An empty list disables CORS.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	allowed := make([]string, 0, len(origins))
	anyOrigin := false
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed = append(allowed, strings.TrimRight(o, "/"))
	}
	opts := []handlers.CORSOption{
		handlers.AllowedOrigins(allowed),
		handlers.AllowedMethods(corsMethods),
		handlers.AllowedHeaders(corsHeaders),
		handlers.ExposedHeaders(corsExpose),
		handlers.MaxAge(600),
		handlers.OptionStatusCode(http.StatusNoContent),
	}
	if !anyOrigin {
		opts = append(opts, handlers.AllowCredentials())
	}
	return handlers.CORS(opts...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLog logs one line per request. Identifiers in the path are replaced
// with pseudonyms.
func AccessLog(logger *zap.Logger, pseudo *crypto.Pseudonymizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", pseudo.Path(r.URL.Path)),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", r.Header.Get(proxy.RequestIDHeader)),
			}
			switch {
			case rec.status >= 500:
				logger.Error("request", fields...)
			case rec.status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/utils"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when a token fails signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token's exp is in the past.
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the dashboard session claims the gateway understands.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed dashboard tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier creates a Verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Verify parses and validates token.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractTokenFromHeader returns the bearer token of r, or "".
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type ctxKey int

const (
	tokenKey ctxKey = iota
	claimsKey
)

// WithToken stores the raw bearer token for outbound calls.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the caller's bearer token, or "".
func TokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey).(string)
	return s
}

// ClaimsFromContext returns verified claims, if the request was verified.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// Middleware authenticates dashboard requests.
type Middleware struct {
	verifier *Verifier
	required bool
	logger   *zap.Logger
}

// NewMiddleware creates the auth middleware. With a nil verifier tokens are
// forwarded unverified and the backend stays the authority.
func NewMiddleware(verifier *Verifier, required bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{verifier: verifier, required: required, logger: logger}
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractTokenFromHeader(r)
		if token == "" {
			if m.required {
				reject(w, r, ErrMissingToken)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithToken(r.Context(), token)
		if m.verifier != nil {
			claims, err := m.verifier.Verify(token)
			if err != nil {
				m.logger.Info("rejected bearer token", zap.Error(err))
				if m.required {
					reject(w, r, err)
					return
				}
			} else {
				ctx = context.WithValue(ctx, claimsKey, claims)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func reject(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mindgate"`)
	proxy.WriteError(w, r, utils.New(utils.ErrTokenRevoked, err.Error()))
}

// Package retry runs a single call with exponential backoff and jitter,
// retrying only the failure types the error taxonomy marks as transient.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/utils"
)

// Policy configures retry behavior.
type Policy struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // upper bound for any single delay
	Multiplier   float64       // growth factor per attempt
	Jitter       float64       // fraction of the delay randomized either way, 0..1
}

// DefaultPolicy returns the gateway defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 300 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// Backoff computes the delay before retry number attempt (0 based). r must
// return values in [0,1).
func (p Policy) Backoff(attempt int, r float64) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + 2*p.Jitter*r
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier carries a policy and its collaborators. It is safe for concurrent use.
type Retrier struct {
	policy Policy
	sleep  SleepFunc
	logger *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithSleep replaces the context-aware timer, mostly for tests.
func WithSleep(s SleepFunc) Option {
	return func(r *Retrier) { r.sleep = s }
}

// WithLogger sets the logger used for attempt reporting.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retrier) { r.logger = l }
}

// WithSeed makes jitter deterministic.
func WithSeed(seed int64) Option {
	return func(r *Retrier) { r.rnd = rand.New(rand.NewSource(seed)) }
}

// New creates a Retrier for policy.
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy,
		sleep:  sleepContext,
		logger: zap.NewNop(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the configured policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

func (r *Retrier) float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// delay picks the wait before retry attempt, preferring a longer
// server-provided Retry-After.
func (r *Retrier) delay(attempt int, apiErr *utils.APIError) time.Duration {
	d := r.policy.Backoff(attempt, r.float())
	if apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
		if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
			d = r.policy.MaxDelay
		}
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// policy's retries are spent. fn runs 1 + min(failures, MaxRetries) times.
// The returned error is always an *utils.APIError with Attempts set.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, withAttempts(err, attempt)
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.String("op", op), zap.Int("attempt", attempt+1))
			}
			return v, nil
		}

		apiErr := withAttempts(err, attempt+1)
		if !apiErr.Type.Retryable() || attempt >= r.policy.MaxRetries {
			if attempt > 0 || apiErr.Type.Retryable() {
				r.logger.Warn("giving up",
					zap.String("op", op),
					zap.String("type", string(apiErr.Type)),
					zap.Int("attempts", apiErr.Attempts),
					zap.Error(err))
			}
			return zero, apiErr
		}

		wait := r.delay(attempt, apiErr)
		r.logger.Debug("attempt failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.String("type", string(apiErr.Type)),
			zap.Duration("backoff", wait))

		if err := r.sleep(ctx, wait); err != nil {
			return zero, withAttempts(err, attempt+1)
		}
	}
}

// withAttempts classifies err into a fresh APIError. An *APIError handed in
// by the caller may be shared, so it is copied rather than updated.
func withAttempts(err error, attempts int) *utils.APIError {
	c := *utils.Classify(err)
	c.Attempts = attempts
	return &c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

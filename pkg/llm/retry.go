package llm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/normativa/pkg/faults"
)

// MaxRetries is the default number of attempts per call.
const MaxRetries = 3

// Providers report throttling and server faults only through the error
// text, so status codes are recognized there.
var transientStatus = regexp.MustCompile(`(?i)\b(429|500|502|503|504)\b|too many requests|rate limit|service unavailable|connection reset`)

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := 30 * time.Second
	if attempt < 5 {
		base = time.Duration(1<<uint(max(attempt, 0))) * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// classify wraps err as a ServiceError, marking throttling and 5xx replies
// as retryable on top of the timeouts faults.Service already recognizes.
func classify(svc, op string, err error) error {
	err = faults.Service(svc, op, err)
	var se *faults.ServiceError
	if errors.As(err, &se) && !se.Retryable && se.Err != nil && transientStatus.MatchString(se.Err.Error()) {
		se.Retryable = true
	}
	return err
}

// caller applies rate limiting, a per-attempt timeout and retries with
// backoff to calls against one external service.
type caller struct {
	service  string
	limiter  *rate.Limiter
	timeout  time.Duration
	attempts int
	backoff  func(attempt int) time.Duration
	logger   *slog.Logger
}

func newCaller(svc string, perSecond float64, timeout time.Duration, attempts int, logger *slog.Logger) *caller {
	if attempts <= 0 {
		attempts = MaxRetries
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &caller{
		service:  svc,
		limiter:  newLimiter(perSecond),
		timeout:  timeout,
		attempts: attempts,
		backoff:  Backoff,
		logger:   logger,
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func call[T any](ctx context.Context, c *caller, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := range c.attempts {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, faults.Service(c.service, op, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = classify(c.service, op, err)
		if !faults.IsRetryable(lastErr) || attempt == c.attempts-1 {
			break
		}

		c.logger.Warn("retryable service error", "service", c.service, "op", op, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return zero, faults.Service(c.service, op, ctx.Err())
		}
	}
	return zero, lastErr
}

package registry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
)

// RetryConfig configures retry behavior for rate limits and transient errors.
type RetryConfig struct {
	// MaxRetries is the number of consecutive failures after which a request
	// gives up.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the registry retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// backoff computes the delay after the n-th consecutive failure (n >= 1).
func (rc *RetryConfig) backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := float64(rc.InitialBackoff) * math.Pow(2, float64(n-1))
	if base > float64(rc.MaxBackoff) {
		return rc.MaxBackoff
	}
	return time.Duration(base)
}

// delay returns the backoff for failure n, raised to the server's
// Retry-After hint when one was given. The result never exceeds MaxBackoff.
func (rc *RetryConfig) delay(n int, retryAfter time.Duration) time.Duration {
	d := rc.backoff(n)
	if retryAfter > d {
		d = retryAfter
	}
	if d > rc.MaxBackoff {
		d = rc.MaxBackoff
	}
	return d
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// isTransient returns true for transport errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return retryableStatus(ae.Status)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing or malformed values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// sleep waits for d on clk or until the context is cancelled.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

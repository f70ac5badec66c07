package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/logging"
)

// Decision is the outcome of one throttle check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// WriteHeaders emits the rate limit headers, plus Retry-After when the
// request was rejected.
func (d Decision) WriteHeaders(w http.ResponseWriter) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		retryAfter := int(time.Until(d.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
}

// LoginThrottle caps login attempts per client IP over a fixed window.
type LoginThrottle struct {
	counter  Counter
	limit    int
	window   time.Duration
	disabled bool
}

// NewLoginThrottle builds the throttle. A non-positive limit or the
// disabled flag turns it into a pass-through.
func NewLoginThrottle(counter Counter, limit int, window time.Duration, disabled bool) *LoginThrottle {
	if window <= 0 {
		window = time.Minute
	}
	return &LoginThrottle{counter: counter, limit: limit, window: window, disabled: disabled}
}

// Check records one attempt from ip and decides whether it may proceed.
// A counter backend error fails open: login availability wins over
// throttle precision.
func (t *LoginThrottle) Check(ctx context.Context, ip string) Decision {
	if t.disabled || t.limit <= 0 {
		return Decision{Allowed: true}
	}
	count, resetAt, err := t.counter.Incr(ctx, "login:"+ip, t.window)
	if err != nil {
		logging.Warn("login throttle counter unavailable, failing open", zap.Error(err))
		return Decision{Allowed: true}
	}
	remaining := t.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(t.limit),
		Limit:     t.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

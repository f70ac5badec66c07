package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

type bucketEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// RuleEngine applies per-API rate rules. Window rules count through the
// shared Counter; token bucket rules hold one rate.Limiter per scope key
// in this process.
type RuleEngine struct {
	counter Counter
	buckets *shardedMap[*bucketEntry]

	totalAllowed atomic.Int64
	totalDenied  atomic.Int64

	done chan struct{}
	once sync.Once
}

// NewRuleEngine creates the engine and starts the bucket sweep.
func NewRuleEngine(counter Counter) *RuleEngine {
	e := &RuleEngine{
		counter: counter,
		buckets: newShardedMap[*bucketEntry](),
		done:    make(chan struct{}),
	}
	go e.sweep()
	return e
}

// Apply runs one rule against the caller and records the outcome.
// Inactive or zero-limit rules pass through.
func (e *RuleEngine) Apply(ctx context.Context, rule *model.RateRule, username string) Decision {
	if rule == nil || !rule.Active || rule.Limit <= 0 {
		return Decision{Allowed: true}
	}
	window := time.Duration(rule.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	var d Decision
	switch rule.RuleType {
	case model.RuleTokenBucket:
		d = e.applyBucket(rule, username, window)
	default:
		d = e.applyWindow(ctx, rule, username, window)
	}
	if d.Allowed {
		e.totalAllowed.Add(1)
	} else {
		e.totalDenied.Add(1)
	}
	return d
}

func (e *RuleEngine) applyWindow(ctx context.Context, rule *model.RateRule, username string, window time.Duration) Decision {
	count, resetAt, err := e.counter.Incr(ctx, "rule:"+rule.Key(username), window)
	if err != nil {
		logging.Warn("rate rule counter unavailable, failing open",
			zap.String("rule", rule.RuleName), zap.Error(err))
		return Decision{Allowed: true}
	}
	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(rule.Limit),
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (e *RuleEngine) applyBucket(rule *model.RateRule, username string, window time.Duration) Decision {
	key := "rule:" + rule.Key(username)
	now := time.Now()
	rps := float64(rule.Limit) / window.Seconds()

	s := e.buckets.getShard(key)
	s.mu.Lock()
	entry, ok := s.items[key]
	if !ok {
		entry = &bucketEntry{lim: rate.NewLimiter(rate.Limit(rps), rule.Limit)}
		s.items[key] = entry
	}
	entry.lastUsed = now
	lim := entry.lim
	s.mu.Unlock()

	allowed := lim.Allow()
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(window)
	if !allowed {
		// Next token arrives after 1/rps seconds.
		resetAt = now.Add(time.Duration(float64(time.Second) / rps))
	}
	return Decision{Allowed: allowed, Limit: rule.Limit, Remaining: remaining, ResetAt: resetAt}
}

// TotalAllowed reports requests passed by rules since start.
func (e *RuleEngine) TotalAllowed() int64 { return e.totalAllowed.Load() }

// TotalDenied reports requests rejected by rules since start.
func (e *RuleEngine) TotalDenied() int64 { return e.totalDenied.Load() }

// Close stops the bucket sweep.
func (e *RuleEngine) Close() {
	e.once.Do(func() { close(e.done) })
}

func (e *RuleEngine) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			e.buckets.deleteFunc(func(_ string, entry *bucketEntry) bool {
				return entry.lastUsed.Before(cutoff)
			})
		case <-e.done:
			return
		}
	}
}

// Package ratelimit tracks per-account, per-model lockouts and computes
// when an account becomes eligible again after a failure.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Reason classifies why an account or model was locked out, driving both
// the backoff duration and the HTTP status the dispatcher eventually
// surfaces.
type Reason string

const (
	ReasonQuotaExhausted        Reason = "QUOTA_EXHAUSTED"
	ReasonRateLimitExceeded     Reason = "RATE_LIMIT_EXCEEDED"
	ReasonTransient5xx          Reason = "TRANSIENT_5XX"
	ReasonAuthRevoked           Reason = "AUTH_REVOKED"
	ReasonModelCapacityExhausted Reason = "MODEL_CAPACITY_EXHAUSTED"
	ReasonNotFound              Reason = "NOT_FOUND"
)

// backoffLadder is the exponential fallback used when no precise reset hint
// is available, indexed by the account's consecutive-failure count.
var backoffLadder = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// QuotaFetcher performs a side-channel real-time quota check for an
// account/model pair, used as the second-tier fallback before resorting to
// exponential backoff. Implemented by internal/tokenrefresh's authenticated
// client at wiring time.
type QuotaFetcher interface {
	FetchResetTime(ctx context.Context, accountID, model string) (time.Time, bool)
}

// lockout is the per-account-and-model (or account-wide, model == "")
// lockout entry.
type lockout struct {
	until  time.Time
	reason Reason
}

// Tracker owns the lockout map. It never touches the account store
// directly; callers (the scheduler and dispatcher) read IsLocked before
// picking a candidate and call RecordFailure/RecordSuccess after a
// dispatch attempt completes.
type Tracker struct {
	mu       sync.Mutex
	lockouts map[string]lockout

	quota QuotaFetcher
	// jitter is the fractional jitter applied to ladder-derived backoffs,
	// e.g. 0.2 for +/-20%.
	jitter   float64
	rng      *rand.Rand
	failures *failureCounter
}

// NewTracker builds a Tracker. quota may be nil if no side-channel quota
// fetch is wired.
func NewTracker(quota QuotaFetcher) *Tracker {
	return &Tracker{
		lockouts: make(map[string]lockout),
		quota:    quota,
		jitter:   0.2,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		failures: newFailureCounter(),
	}
}

func key(accountID, model string) string { return accountID + "\x00" + model }

// IsLocked reports whether accountID (for model, or "" for account-wide) is
// currently within a lockout window.
func (t *Tracker) IsLocked(accountID, model string) (bool, time.Time, Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.lockouts[key(accountID, model)]
	if !ok || !l.until.After(time.Now()) {
		return false, time.Time{}, ""
	}
	return true, l.until, l.reason
}

// failureCounter tracks failure counts per account for ladder indexing,
// separate from the lockout map since a lockout can expire while the streak
// continues to grow the next backoff.
type failureCounter struct {
	mu    sync.Mutex
	count map[string]int
}

func newFailureCounter() *failureCounter { return &failureCounter{count: make(map[string]int)} }

func (f *failureCounter) increment(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count[accountID]++
	return f.count[accountID]
}

func (f *failureCounter) reset(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.count, accountID)
}

// RecordFailure locks accountID out for model given the classified reason
// and an optional explicit reset delay reported by the upstream
// (quotaResetDelay). Only QUOTA_EXHAUSTED with neither an explicit hint nor
// a cached quota cadence falls through to the exponential backoff ladder;
// the other reasons carry a flat, reason-specific delay per the tracker's
// policy table. RATE_LIMIT_EXCEEDED and MODEL_CAPACITY_EXHAUSTED still bump
// the consecutive-failure streak (it drives the ladder for later
// QUOTA_EXHAUSTED failures); TRANSIENT_5XX does not, since it is
// reason-isolated and never escalates.
func (t *Tracker) RecordFailure(ctx context.Context, accountID, model string, reason Reason, explicitDelay string) time.Time {
	var until time.Time
	if explicitDelay != "" {
		if d, err := ParseQuotaResetDelay(explicitDelay); err == nil {
			until = time.Now().Add(d)
		}
	}

	switch reason {
	case ReasonTransient5xx:
		if until.IsZero() {
			until = time.Now().Add(20 * time.Second)
		}
	case ReasonModelCapacityExhausted:
		t.failures.increment(accountID)
		if until.IsZero() {
			until = time.Now().Add(15 * time.Second)
		}
	case ReasonRateLimitExceeded:
		t.failures.increment(accountID)
		if until.IsZero() {
			until = time.Now().Add(30 * time.Second)
		}
	default: // QUOTA_EXHAUSTED and anything unclassified
		streak := t.failures.increment(accountID)
		if until.IsZero() && t.quota != nil {
			if reset, ok := t.quota.FetchResetTime(ctx, accountID, model); ok {
				until = reset
			}
		}
		if until.IsZero() {
			until = time.Now().Add(t.jitterize(t.ladderDuration(streak)))
		}
	}

	t.mu.Lock()
	t.lockouts[key(accountID, model)] = lockout{until: until, reason: reason}
	t.mu.Unlock()
	return until
}

// RecordSuccess clears the account's failure streak and any active
// lockouts for it, resetting the counter to zero rather than decrementing,
// matching mark_account_success in the original token manager.
func (t *Tracker) RecordSuccess(accountID string) {
	t.failures.reset(accountID)
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.lockouts {
		if len(k) >= len(accountID) && k[:len(accountID)] == accountID {
			delete(t.lockouts, k)
		}
	}
}

func (t *Tracker) ladderDuration(streak int) time.Duration {
	idx := streak - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffLadder) {
		idx = len(backoffLadder) - 1
	}
	return backoffLadder[idx]
}

func (t *Tracker) jitterize(d time.Duration) time.Duration {
	if t.jitter <= 0 {
		return d
	}
	t.mu.Lock()
	factor := 1 + (t.rng.Float64()*2-1)*t.jitter
	t.mu.Unlock()
	return time.Duration(float64(d) * factor)
}

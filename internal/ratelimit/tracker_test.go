package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordFailure_RateLimitExceededFlat30s(t *testing.T) {
	tr := NewTracker(nil)
	before := time.Now()
	until := tr.RecordFailure(context.Background(), "acct-1", "", ReasonRateLimitExceeded, "")

	require.WithinDuration(t, before.Add(30*time.Second), until, 2*time.Second)
	locked, _, reason := tr.IsLocked("acct-1", "")
	require.True(t, locked)
	require.Equal(t, ReasonRateLimitExceeded, reason)
}

func TestRecordFailure_ModelCapacityExhaustedFlat15s(t *testing.T) {
	tr := NewTracker(nil)
	before := time.Now()
	until := tr.RecordFailure(context.Background(), "acct-1", "gemini-2.5-pro", ReasonModelCapacityExhausted, "")

	require.WithinDuration(t, before.Add(15*time.Second), until, 2*time.Second)
}

func TestRecordFailure_Transient5xxFlat20sNoStreak(t *testing.T) {
	tr := NewTracker(nil)
	before := time.Now()
	until := tr.RecordFailure(context.Background(), "acct-1", "", ReasonTransient5xx, "")

	require.WithinDuration(t, before.Add(20*time.Second), until, 2*time.Second)

	// TRANSIENT_5XX must not bump the consecutive-failure streak: a
	// following QUOTA_EXHAUSTED failure should still land on the ladder's
	// first rung (60s), not its second (5m).
	quotaUntil := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.Less(t, time.Until(quotaUntil), 90*time.Second)
}

func TestRecordFailure_QuotaExhaustedLadder(t *testing.T) {
	tr := NewTracker(nil)
	tr.jitter = 0

	first := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.WithinDuration(t, time.Now().Add(60*time.Second), first, 2*time.Second)

	second := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.WithinDuration(t, time.Now().Add(5*time.Minute), second, 2*time.Second)

	third := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.WithinDuration(t, time.Now().Add(30*time.Minute), third, 2*time.Second)

	fourth := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.WithinDuration(t, time.Now().Add(2*time.Hour), fourth, 2*time.Second)

	// Clamped: a fifth consecutive failure stays at the ladder's last rung.
	fifth := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.WithinDuration(t, time.Now().Add(2*time.Hour), fifth, 2*time.Second)
}

func TestRecordFailure_ExplicitDelayOverridesReasonDefault(t *testing.T) {
	tr := NewTracker(nil)
	before := time.Now()
	until := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "1h")
	require.WithinDuration(t, before.Add(time.Hour), until, 2*time.Second)
}

// TestRecordFailure_TwoAccountsIndependentLockouts is the tracker-level
// analog of the two-account 429 rotation scenario: account A is locked out
// with an explicit hour-long quotaResetDelay while account B, never having
// failed, remains unlocked.
func TestRecordFailure_TwoAccountsIndependentLockouts(t *testing.T) {
	tr := NewTracker(nil)
	until := tr.RecordFailure(context.Background(), "acct-a", "gemini-3-pro-high", ReasonQuotaExhausted, "1h")
	require.WithinDuration(t, time.Now().Add(time.Hour), until, 2*time.Second)

	lockedA, _, _ := tr.IsLocked("acct-a", "gemini-3-pro-high")
	require.True(t, lockedA)

	lockedB, _, _ := tr.IsLocked("acct-b", "gemini-3-pro-high")
	require.False(t, lockedB)
}

func TestRecordSuccess_ClearsLockoutsAndStreak(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	locked, _, _ := tr.IsLocked("acct-1", "")
	require.True(t, locked)

	tr.RecordSuccess("acct-1")
	locked, _, _ = tr.IsLocked("acct-1", "")
	require.False(t, locked)

	// Streak reset: the next QUOTA_EXHAUSTED failure lands back on the
	// ladder's first rung rather than continuing from where it left off.
	tr.jitter = 0
	until := tr.RecordFailure(context.Background(), "acct-1", "", ReasonQuotaExhausted, "")
	require.WithinDuration(t, time.Now().Add(60*time.Second), until, 2*time.Second)
}

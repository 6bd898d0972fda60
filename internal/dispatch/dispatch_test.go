package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/cloudcode-gateway/gateway/internal/account"
	"github.com/cloudcode-gateway/gateway/internal/ratelimit"
	"github.com/cloudcode-gateway/gateway/internal/scheduler"
	"github.com/cloudcode-gateway/gateway/internal/tokenrefresh"
)

func newTestDispatcher(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *account.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := account.NewMemoryStore()
	store.Put(&account.Account{
		ID:          "acct-1",
		Tier:        account.TierFree,
		AccessToken: "token-1",
		Expiry:      time.Now().Add(time.Hour),
	})

	tracker := ratelimit.NewTracker(nil)
	sched := scheduler.New(store, tracker)
	refresher := tokenrefresh.New(store, &oauth2.Config{})

	d := New(store, sched, tracker, refresher, srv.Client(), Endpoints{Prod: srv.URL, Daily: srv.URL})
	return d, store
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	result, err := d.Do(context.Background(), Request{Model: "gemini-2.5-pro", Body: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
}

func TestDo_ForbiddenMarksAccount(t *testing.T) {
	d, store := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	d.MaxAttempts = 1

	_, err := d.Do(context.Background(), Request{Model: "gemini-2.5-pro", Body: []byte(`{}`)})
	require.Error(t, err)

	a, getErr := store.Get(context.Background(), "acct-1")
	require.NoError(t, getErr)
	require.True(t, a.Forbidden)
}

func TestDo_RateLimitRecordsFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"details":[{"metadata":{"quotaResetDelay":"2m"}}]}}`))
	})
	d.MaxAttempts = 1

	_, err := d.Do(context.Background(), Request{Model: "gemini-2.5-pro", Body: []byte(`{}`)})
	require.Error(t, err)

	locked, _, reason := d.Tracker.IsLocked("acct-1", "")
	require.True(t, locked)
	require.Equal(t, ratelimit.ReasonQuotaExhausted, reason)
}

func TestClassifyRateLimitReason_DistinguishesRatePerMinute(t *testing.T) {
	require.Equal(t, ratelimit.ReasonRateLimitExceeded, classifyRateLimitReason([]byte("exceeded rate limit per minute")))
	require.Equal(t, ratelimit.ReasonQuotaExhausted, classifyRateLimitReason([]byte("daily quota exhausted")))
}

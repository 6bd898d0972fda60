// Package dispatch drives the per-request retry loop: pick an account,
// obtain its token, send upstream, classify the outcome, and rotate or back
// off as needed. It is the glue between internal/scheduler,
// internal/tokenrefresh, internal/ratelimit and internal/upstream.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudcode-gateway/gateway/internal/account"
	"github.com/cloudcode-gateway/gateway/internal/gwerr"
	"github.com/cloudcode-gateway/gateway/internal/ratelimit"
	"github.com/cloudcode-gateway/gateway/internal/scheduler"
	"github.com/cloudcode-gateway/gateway/internal/tokenrefresh"
	"github.com/cloudcode-gateway/gateway/internal/util"
)

// DefaultMaxAttempts bounds the retry loop; a run that exhausts every
// account without success still stops here rather than looping forever.
const DefaultMaxAttempts = 6

// Endpoint identifies which upstream host a request is sent to.
type Endpoint string

const (
	EndpointProd  Endpoint = "prod"
	EndpointDaily Endpoint = "daily"
)

// Endpoints holds the upstream base URLs the dispatcher falls back between
// on transient failures. StreamProd/StreamDaily target the upstream's
// streaming-suffixed path; when left empty they fall back to Prod/Daily, so
// a caller that only ever does non-streaming dispatch can leave them unset.
type Endpoints struct {
	Prod       string
	Daily      string
	StreamProd  string
	StreamDaily string
}

func (e Endpoints) urlFor(ep Endpoint) string {
	if ep == EndpointDaily {
		return e.Daily
	}
	return e.Prod
}

func (e Endpoints) streamURLFor(ep Endpoint) string {
	if ep == EndpointDaily {
		if e.StreamDaily != "" {
			return e.StreamDaily
		}
		return e.Daily
	}
	if e.StreamProd != "" {
		return e.StreamProd
	}
	return e.Prod
}

// Request is one dispatch attempt's static input, already mapped to the
// canonical model name by the model router.
type Request struct {
	Model string
	Mode  scheduler.Mode
	Body  []byte
	// Headers are additional upstream headers beyond Authorization.
	Headers map[string]string
	Turns   []scheduler.Turn
	// FlattenOnSignatureRetry, when set, is called once if the upstream
	// rejects the request for a missing thinking signature, so the caller
	// can strip thinking blocks and disable thinking before the retry.
	FlattenOnSignatureRetry func(body []byte) []byte
}

// Result is the outcome of a fully dispatched request.
type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	AccountID  string
}

// Dispatcher owns the shared account store, scheduler, token refresher,
// rate-limit tracker and HTTP client for a single upstream.
type Dispatcher struct {
	Store       account.Store
	Scheduler   *scheduler.Scheduler
	Tracker     *ratelimit.Tracker
	Refresher   *tokenrefresh.Refresher
	Client      *http.Client
	Endpoints   Endpoints
	MaxAttempts int
}

// New builds a Dispatcher with DefaultMaxAttempts.
func New(store account.Store, sched *scheduler.Scheduler, tracker *ratelimit.Tracker, refresher *tokenrefresh.Refresher, client *http.Client, endpoints Endpoints) *Dispatcher {
	return &Dispatcher{
		Store:       store,
		Scheduler:   sched,
		Tracker:     tracker,
		Refresher:   refresher,
		Client:      client,
		Endpoints:   endpoints,
		MaxAttempts: DefaultMaxAttempts,
	}
}

var (
	errAuthExpired      = errors.New("dispatch: upstream reports auth expired")
	errSignatureMissing = errors.New("dispatch: upstream rejected missing thinking signature")
)

// Do runs the full retry loop for req and returns the first successful
// response, or the last classified failure.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Result, error) {
	usedSignatureFlatten := false
	authRetryUsed := false
	body := req.Body

	var lastErr error
	for attempt := 0; attempt < d.MaxAttempts; attempt++ {
		acct, err := d.Scheduler.Pick(ctx, scheduler.Request{
			Model: req.Model,
			Mode:  req.Mode,
			Turns: req.Turns,
		})
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		accessToken, err := d.Refresher.EnsureFresh(ctx, acct.ID)
		if err != nil {
			lastErr = err
			continue
		}

		result, classifyErr := d.attempt(ctx, acct, accessToken, req, body)
		switch {
		case classifyErr == nil:
			d.Tracker.RecordSuccess(acct.ID)
			return result, nil

		case errors.Is(classifyErr, errAuthExpired) && !authRetryUsed:
			authRetryUsed = true
			attempt--
			continue

		case errors.Is(classifyErr, errSignatureMissing) && !usedSignatureFlatten && req.FlattenOnSignatureRetry != nil:
			usedSignatureFlatten = true
			body = req.FlattenOnSignatureRetry(body)
			attempt--
			continue

		default:
			lastErr = classifyErr
			continue
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, gwerr.New(http.StatusServiceUnavailable, "dispatch_exhausted", "no account produced a successful response", true)
}

// transient5xxBackoffs is the in-process retry schedule for 5xx/529
// responses, applied against the same account rather than rotating to a
// different one, since these are server-side failures, not account-side.
var transient5xxBackoffs = []time.Duration{
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// attempt performs one full account attempt: primary endpoint, falling back
// to the secondary endpoint exactly once on 404/408/429/5xx, then classifies
// the final outcome against the account. A 5xx/529 classification is retried
// in place against the same account per transient5xxBackoffs before giving
// up, rather than being handed back to Do's account-rotation loop.
func (d *Dispatcher) attempt(ctx context.Context, acct *account.Account, accessToken string, req Request, body []byte) (*Result, error) {
	for i := 0; ; i++ {
		resp, respBody, err := d.send(ctx, EndpointProd, accessToken, req, body)
		if err != nil {
			return nil, err
		}

		if shouldFallback(resp.StatusCode) {
			fallbackResp, fallbackBody, fallbackErr := d.send(ctx, EndpointDaily, accessToken, req, body)
			if fallbackErr == nil {
				resp, respBody = fallbackResp, fallbackBody
			}
		}

		result, classifyErr := d.classify(ctx, acct, resp, respBody)
		if classifyErr == nil || !isTransient5xx(classifyErr) || i >= len(transient5xxBackoffs) {
			return result, classifyErr
		}

		select {
		case <-time.After(transient5xxBackoffs[i]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isTransient5xx(err error) bool {
	var gerr *gwerr.Error
	if errors.As(err, &gerr) {
		return gerr.Code == "upstream_5xx"
	}
	return false
}

func shouldFallback(status int) bool {
	return status == http.StatusNotFound || status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests || status >= 500
}

func (d *Dispatcher) send(ctx context.Context, ep Endpoint, accessToken string, req Request, body []byte) (*http.Response, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoints.urlFor(ep), bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, respBody, nil
}

// classify implements §4.7's per-status-code handling: it updates the
// account's rate-limit state and returns either a Result or a sentinel error
// the caller's retry loop understands.
func (d *Dispatcher) classify(ctx context.Context, acct *account.Account, resp *http.Response, body []byte) (*Result, error) {
	status := resp.StatusCode

	if status >= 200 && status < 300 {
		return &Result{StatusCode: status, Body: body, Header: resp.Header, AccountID: acct.ID}, nil
	}

	log.WithFields(log.Fields{
		"account_id": acct.ID,
		"status":     status,
	}).Debugf("dispatch: upstream error body: %s", util.RedactSensitiveJSON(body))

	if status == http.StatusUnauthorized {
		return nil, errAuthExpired
	}

	if status == http.StatusForbidden {
		_ = d.Store.SetForbidden(ctx, acct.ID, true, "upstream returned 403")
		return nil, gwerr.New(status, "forbidden", "account forbidden by upstream", false)
	}

	if status == http.StatusTooManyRequests {
		reason, delay := parseRateLimit(body)
		d.Tracker.RecordFailure(ctx, acct.ID, "", reason, delay)
		return nil, gwerr.New(status, "rate_limited", "upstream rate limit", true)
	}

	if status >= 500 || status == 529 {
		// Server-side failure: retried in place by attempt's backoff loop
		// against this same account, not recorded as a lockout, so the
		// scheduler never rotates away from it for this reason.
		return nil, gwerr.New(status, "upstream_5xx", fmt.Sprintf("upstream returned %d", status), true)
	}

	if status == http.StatusBadRequest {
		if isSignatureMissing(body) {
			return nil, errSignatureMissing
		}
		return nil, gwerr.New(status, "bad_request", "upstream rejected the request", false)
	}

	return nil, gwerr.New(status, "upstream_error", fmt.Sprintf("upstream returned %d", status), false)
}

// StreamResult is the outcome of a successfully opened streaming attempt.
// Body is the live upstream response; the caller is responsible for reading
// it until EOF (or context cancellation) and closing it.
type StreamResult struct {
	Body      io.ReadCloser
	Header    http.Header
	AccountID string
}

// DoStreaming opens a single streaming attempt: one account, one endpoint,
// no mid-stream fallback. Once the upstream has started sending bytes there
// is no way to silently retry on a different account without the client
// noticing a gap, so unlike Do this does not rotate accounts on failure; it
// picks the best candidate once and surfaces any error to the caller, who
// renders it as a client-visible error before any bytes have been written.
func (d *Dispatcher) DoStreaming(ctx context.Context, req Request) (*StreamResult, error) {
	acct, err := d.Scheduler.Pick(ctx, scheduler.Request{
		Model: req.Model,
		Mode:  req.Mode,
		Turns: req.Turns,
	})
	if err != nil {
		return nil, err
	}

	accessToken, err := d.Refresher.EnsureFresh(ctx, acct.ID)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoints.streamURLFor(EndpointProd), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		_, classifyErr := d.classify(ctx, acct, resp, body)
		return nil, classifyErr
	}

	d.Tracker.RecordSuccess(acct.ID)
	return &StreamResult{Body: resp.Body, Header: resp.Header, AccountID: acct.ID}, nil
}

func isSignatureMissing(body []byte) bool {
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("thought_signature")) && bytes.Contains(lower, []byte("missing"))
}

// parseRateLimit extracts the upstream's quotaResetDelay hint (if present)
// and classifies whether this is a per-minute rate limit or a longer quota
// exhaustion, per §4.7.
func parseRateLimit(body []byte) (ratelimit.Reason, string) {
	delay := extractQuotaResetDelay(body)
	return classifyRateLimitReason(body), delay
}

func classifyRateLimitReason(body []byte) ratelimit.Reason {
	lower := bytes.ToLower(body)
	if bytes.Contains(lower, []byte("per minute")) || bytes.Contains(lower, []byte("rate limit")) {
		return ratelimit.ReasonRateLimitExceeded
	}
	return ratelimit.ReasonQuotaExhausted
}

// extractQuotaResetDelay pulls details[i].metadata.quotaResetDelay out of a
// Google API error body without requiring the full error schema.
func extractQuotaResetDelay(body []byte) string {
	var envelope struct {
		Error struct {
			Details []struct {
				Metadata struct {
					QuotaResetDelay string `json:"quotaResetDelay"`
				} `json:"metadata"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, d := range envelope.Error.Details {
		if d.Metadata.QuotaResetDelay != "" {
			return d.Metadata.QuotaResetDelay
		}
	}
	return ""
}

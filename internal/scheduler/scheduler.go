// Package scheduler picks which account serves a request, honoring session
// affinity, the configured scheduling mode, and account lockout state.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/cloudcode-gateway/gateway/internal/account"
	"github.com/cloudcode-gateway/gateway/internal/background"
	"github.com/cloudcode-gateway/gateway/internal/gwerr"
	"github.com/cloudcode-gateway/gateway/internal/ratelimit"
)

// Mode selects the scheduling strategy.
type Mode string

const (
	// CacheFirst prefers session-affine reuse of the same account to
	// maximize upstream prompt-cache hit rate, falling back to
	// round-robin only when the bound account is unavailable.
	CacheFirst Mode = "cache_first"
	// Balance spreads load round-robin across every available account,
	// ignoring session affinity.
	Balance Mode = "balance"
	// PerformanceFirst prefers the highest tier account available,
	// breaking ties round-robin within a tier.
	PerformanceFirst Mode = "performance_first"
)

// Store is the subset of account.Store the scheduler reads.
type Store interface {
	List(ctx context.Context) ([]*account.Account, error)
}

// DefaultMaxWait bounds how long CacheFirst will wait for a locked bound
// account to clear before falling through to Balance-style selection.
const DefaultMaxWait = 60 * time.Second

// Scheduler picks an account for each request.
type Scheduler struct {
	store    Store
	tracker  *ratelimit.Tracker
	sessions *SessionTable
	cursors  map[string]int
	maxWait  time.Duration
}

// New builds a Scheduler.
func New(store Store, tracker *ratelimit.Tracker) *Scheduler {
	return &Scheduler{
		store:    store,
		tracker:  tracker,
		sessions: NewSessionTable(DefaultStickyWindow),
		cursors:  make(map[string]int),
		maxWait:  DefaultMaxWait,
	}
}

// Request is what the scheduler needs to pick an account.
type Request struct {
	Model       string
	Mode        Mode
	Turns       []Turn
	MaxTokens   int
	TurnCount   int
	Background  bool
}

// Pick selects an account for req. If the request is a background task
// (per internal/background's heuristic, or explicitly flagged), the model
// is first overridden to the cheapest background tier by the caller before
// invoking Pick, per the model router's resolution order.
func (s *Scheduler) Pick(ctx context.Context, req Request) (*account.Account, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates, cooldown, disabled, other, earliest, statuses := s.filter(all, req.Model)
	if len(candidates) == 0 {
		return nil, s.unavailableError(req.Model, len(all), cooldown, disabled, other, earliest, statuses)
	}

	fingerprint := Fingerprint(req.Turns)
	mode := req.Mode
	if mode == "" {
		mode = CacheFirst
	}

	if mode == CacheFirst && fingerprint != "" {
		if boundID, ok := s.sessions.Lookup(fingerprint); ok {
			for _, c := range candidates {
				if c.ID == boundID {
					s.sessions.Bind(fingerprint, boundID)
					return c, nil
				}
			}
			if bound, ok := s.awaitBound(ctx, boundID, req.Model, all); ok {
				s.sessions.Bind(fingerprint, bound.ID)
				return bound, nil
			}
			// Bound account is no longer eligible; drop the stale binding
			// and fall through to normal selection.
			s.sessions.Unbind(fingerprint)
		}
	}

	picked := s.selectByMode(mode, req.Model, candidates)
	if mode == CacheFirst && fingerprint != "" {
		s.sessions.Bind(fingerprint, picked.ID)
	}
	return picked, nil
}

// awaitBound implements CacheFirst's bounded wait: if boundID names an
// account that is merely locked (not disabled, forbidden, or gone), it
// blocks until min(locked_until, now+maxWait) and reports whether the
// account cleared its lockout in time. An account that is disabled,
// forbidden, or absent from the store is reported unavailable immediately
// without waiting.
func (s *Scheduler) awaitBound(ctx context.Context, boundID, model string, all []*account.Account) (*account.Account, bool) {
	bound := findAccount(all, boundID)
	if bound == nil || bound.Disabled || bound.Forbidden || bound.Status == account.StatusDisabled {
		return nil, false
	}

	locked, until, _ := s.tracker.IsLocked(bound.ID, model)
	if !locked {
		locked, until, _ = s.tracker.IsLocked(bound.ID, "")
	}
	if !locked {
		return bound, true
	}

	deadline := time.Now().Add(s.maxWait)
	waitUntil := until
	if waitUntil.After(deadline) {
		waitUntil = deadline
	}
	if !sleepUntil(ctx, waitUntil) {
		return nil, false
	}

	stillLocked, _, _ := s.tracker.IsLocked(bound.ID, model)
	if !stillLocked {
		stillLocked, _, _ = s.tracker.IsLocked(bound.ID, "")
	}
	if stillLocked {
		return nil, false
	}
	return bound, true
}

func findAccount(all []*account.Account, id string) *account.Account {
	for _, a := range all {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// sleepUntil blocks until t or ctx cancellation, reporting whether it woke
// up because t was reached rather than because ctx was cancelled.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) selectByMode(mode Mode, model string, candidates []*account.Account) *account.Account {
	switch mode {
	case PerformanceFirst:
		sorted := append([]*account.Account(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Tier.Weight() > sorted[j].Tier.Weight()
		})
		topWeight := sorted[0].Tier.Weight()
		tier := sorted[:0]
		for _, c := range sorted {
			if c.Tier.Weight() == topWeight {
				tier = append(tier, c)
			}
		}
		return s.roundRobin("perf:"+model, tier)
	case Balance, CacheFirst:
		return s.roundRobin("bal:"+model, candidates)
	default:
		return s.roundRobin("bal:"+model, candidates)
	}
}

func (s *Scheduler) roundRobin(key string, candidates []*account.Account) *account.Account {
	sorted := append([]*account.Account(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	idx := s.cursors[key]
	if idx >= 2_147_483_640 {
		idx = 0
	}
	s.cursors[key] = idx + 1
	return sorted[idx%len(sorted)]
}

func (s *Scheduler) filter(all []*account.Account, model string) (
	candidates []*account.Account, cooldown, disabled, other int, earliest time.Time, statuses map[int]int,
) {
	now := time.Now()
	statuses = make(map[int]int)
	for _, a := range all {
		if a.Disabled || a.Forbidden || a.Status == account.StatusDisabled {
			disabled++
			continue
		}
		locked, until, reason := s.tracker.IsLocked(a.ID, model)
		if !locked {
			locked, until, reason = s.tracker.IsLocked(a.ID, "")
		}
		if !locked {
			candidates = append(candidates, a)
			continue
		}
		if reason == ratelimit.ReasonQuotaExhausted || reason == ratelimit.ReasonModelCapacityExhausted {
			cooldown++
		} else {
			other++
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
		if st, ok := a.ModelStates[model]; ok && st != nil && st.LastError != nil && st.LastError.HTTPStatus > 0 {
			statuses[st.LastError.HTTPStatus]++
		}
		_ = now
	}
	return
}

func (s *Scheduler) unavailableError(model string, total, cooldown, disabled, other int, earliest time.Time, statuses map[int]int) error {
	resetIn := time.Duration(0)
	if !earliest.IsZero() {
		resetIn = time.Until(earliest)
		if resetIn < 0 {
			resetIn = 0
		}
	}
	if total > 0 && cooldown == total {
		return gwerr.NewModelCooldownError(model, "antigravity", resetIn)
	}
	return &gwerr.AllAccountsUnavailableError{
		Model: model, Provider: "antigravity", ResetIn: resetIn,
		Cooldown: cooldown, Disabled: disabled, Other: other, LastStatuses: statuses,
	}
}

// BackgroundRequest adapts a scheduler Request into the shape
// internal/background's detector expects.
func BackgroundRequest(req Request) background.Request {
	var firstUser, system string
	for _, t := range req.Turns {
		if t.Role == "system" && system == "" {
			system = t.Text
		}
		if t.Role == "user" && firstUser == "" {
			firstUser = t.Text
		}
	}
	return background.Request{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Turns:         req.TurnCount,
		FirstUserText: firstUser,
		SystemPrompt:  system,
	}
}

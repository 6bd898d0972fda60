package gwerr

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// ModelCooldownError reports that every account capable of serving a model
// is currently in a quota-exhaustion cooldown window.
type ModelCooldownError struct {
	Model    string
	Provider string
	ResetIn  time.Duration
}

// NewModelCooldownError clamps a negative reset window to zero.
func NewModelCooldownError(model, provider string, resetIn time.Duration) *ModelCooldownError {
	if resetIn < 0 {
		resetIn = 0
	}
	return &ModelCooldownError{Model: model, Provider: provider, ResetIn: resetIn}
}

func (e *ModelCooldownError) resetSeconds() int {
	s := int(math.Ceil(e.ResetIn.Seconds()))
	if s < 0 {
		return 0
	}
	return s
}

func (e *ModelCooldownError) displayDuration() time.Duration {
	d := e.ResetIn
	if d > 0 && d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

func (e *ModelCooldownError) Error() string {
	name := e.Model
	if name == "" {
		name = "requested model"
	}
	msg := fmt.Sprintf("all accounts for model %s are cooling down", name)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s via provider %s", msg, e.Provider)
	}
	body := map[string]any{
		"error": map[string]any{
			"code":          "model_cooldown",
			"message":       msg,
			"model":         e.Model,
			"reset_time":    e.displayDuration().String(),
			"reset_seconds": e.resetSeconds(),
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"error":{"code":"model_cooldown","message":%q}}`, msg)
	}
	return string(data)
}

func (e *ModelCooldownError) StatusCode() int { return http.StatusTooManyRequests }

func (e *ModelCooldownError) Headers() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", strconv.Itoa(e.resetSeconds()))
	return h
}

// AllAccountsUnavailableError reports that every account is blocked for
// reasons other than a uniform quota cooldown (disabled, forbidden, mixed
// failure causes).
type AllAccountsUnavailableError struct {
	Model        string
	Provider     string
	ResetIn      time.Duration
	Cooldown     int
	Disabled     int
	Other        int
	LastStatuses map[int]int
}

func (e *AllAccountsUnavailableError) resetSeconds() int {
	s := int(math.Ceil(e.ResetIn.Seconds()))
	if s < 0 {
		return 0
	}
	return s
}

func (e *AllAccountsUnavailableError) Error() string {
	name := e.Model
	if name == "" {
		name = "requested model"
	}
	msg := fmt.Sprintf("all accounts for model %s are temporarily unavailable", name)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s via provider %s", msg, e.Provider)
	}
	errBody := map[string]any{
		"code":          "accounts_unavailable",
		"message":       msg,
		"model":         e.Model,
		"reset_seconds": e.resetSeconds(),
		"blocked": map[string]any{
			"cooldown": e.Cooldown,
			"disabled": e.Disabled,
			"other":    e.Other,
		},
	}
	if e.Provider != "" {
		errBody["provider"] = e.Provider
	}
	if len(e.LastStatuses) > 0 {
		statuses := make(map[string]int, len(e.LastStatuses))
		for k, v := range e.LastStatuses {
			if k <= 0 || v <= 0 {
				continue
			}
			statuses[strconv.Itoa(k)] = v
		}
		if len(statuses) > 0 {
			errBody["last_http_statuses"] = statuses
		}
	}
	data, err := json.Marshal(map[string]any{"error": errBody})
	if err != nil {
		return fmt.Sprintf(`{"error":{"code":"accounts_unavailable","message":%q}}`, msg)
	}
	return string(data)
}

func (e *AllAccountsUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

func (e *AllAccountsUnavailableError) Headers() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if s := e.resetSeconds(); s > 0 {
		h.Set("Retry-After", strconv.Itoa(s))
	}
	return h
}

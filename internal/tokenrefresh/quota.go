package tokenrefresh

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// quotaEndpointSuffix mirrors the Antigravity IDE's own quota probe: an
// empty-bodied v1internal:fetchAvailableModels call returns each model's
// live quotaInfo, keyed by model name.
const quotaEndpointSuffix = "/v1internal:fetchAvailableModels"

// QuotaClient implements ratelimit.QuotaFetcher against the same upstream
// this gateway dispatches to. It is defined here rather than in
// internal/ratelimit because fetching a live quota reading needs a fresh
// access token, and the Refresher already owns that concern.
type QuotaClient struct {
	Refresher *Refresher
	Client    *http.Client
	BaseURL   string
}

// NewQuotaClient builds a QuotaClient. baseURL is the upstream host with no
// trailing slash, e.g. "https://cloudcode-pa.googleapis.com".
func NewQuotaClient(refresher *Refresher, client *http.Client, baseURL string) *QuotaClient {
	return &QuotaClient{Refresher: refresher, Client: client, BaseURL: baseURL}
}

type fetchModelsResponse struct {
	Models map[string]struct {
		QuotaInfo struct {
			ResetTime         string  `json:"resetTime"`
			RemainingFraction float64 `json:"remainingFraction"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

// FetchResetTime performs a live quota probe for accountID and returns the
// reset instant the upstream reports for model. It reports false when the
// upstream has no cadence for that model or the probe itself fails; callers
// fall through to exponential backoff in that case.
func (q *QuotaClient) FetchResetTime(ctx context.Context, accountID, model string) (time.Time, bool) {
	accessToken, err := q.Refresher.EnsureFresh(ctx, accountID)
	if err != nil {
		return time.Time{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.BaseURL+quotaEndpointSuffix, strings.NewReader("{}"))
	if err != nil {
		return time.Time{}, false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.Client.Do(req)
	if err != nil {
		return time.Time{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return time.Time{}, false
	}

	var parsed fetchModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return time.Time{}, false
	}

	entry, ok := parsed.Models[model]
	if !ok || entry.QuotaInfo.ResetTime == "" {
		return time.Time{}, false
	}
	resetTime, err := time.Parse(time.RFC3339, entry.QuotaInfo.ResetTime)
	if err != nil {
		return time.Time{}, false
	}
	return resetTime, true
}

// Package tokenrefresh exchanges an account's refresh token for a fresh
// access token, coalescing concurrent refresh attempts for the same
// account so a burst of requests never triggers a refresh stampede.
package tokenrefresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/cloudcode-gateway/gateway/internal/account"
)

// refreshSkew mirrors the original token manager's now >= expiry-300s
// trigger: refresh five minutes ahead of the reported expiry rather than
// waiting for the account to actually fail a request.
const refreshSkew = 5 * time.Minute

// ErrInvalidGrant is returned when the upstream rejects the refresh token
// outright; the caller must mark the account forbidden rather than retry.
var ErrInvalidGrant = errors.New("tokenrefresh: refresh token revoked (invalid_grant)")

// Store is the subset of account.Store the refresher needs.
type Store interface {
	Get(ctx context.Context, id string) (*account.Account, error)
	Update(ctx context.Context, a *account.Account) error
	SetForbidden(ctx context.Context, id string, forbidden bool, reason string) error
}

// Refresher refreshes OAuth2 credentials against the Cloud Code/Antigravity
// token endpoint.
type Refresher struct {
	store  Store
	config *oauth2.Config
	group  singleflight.Group
	now    func() time.Time
}

// New builds a Refresher. config supplies the OAuth2 endpoint and client
// credentials shared by every account in the pool.
func New(store Store, config *oauth2.Config) *Refresher {
	return &Refresher{store: store, config: config, now: time.Now}
}

// EnsureFresh returns a valid access token for accountID, refreshing it
// first if it is expired or within refreshSkew of expiring. Concurrent
// callers for the same account share a single in-flight refresh.
func (r *Refresher) EnsureFresh(ctx context.Context, accountID string) (string, error) {
	a, err := r.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if a.Forbidden {
		return "", fmt.Errorf("tokenrefresh: account %s is forbidden", accountID)
	}
	if !a.Expiry.IsZero() && r.now().Before(a.Expiry.Add(-refreshSkew)) {
		return a.AccessToken, nil
	}

	v, err, _ := r.group.Do(accountID, func() (any, error) {
		return r.refresh(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Refresher) refresh(ctx context.Context, accountID string) (string, error) {
	a, err := r.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	// Re-check under the singleflight key: another caller may have already
	// refreshed while we waited for the group to admit us.
	if !a.Expiry.IsZero() && r.now().Before(a.Expiry.Add(-refreshSkew)) {
		return a.AccessToken, nil
	}

	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: a.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if isInvalidGrant(err) {
			_ = r.store.SetForbidden(ctx, accountID, true, "invalid_grant: refresh token revoked")
			return "", ErrInvalidGrant
		}
		return "", fmt.Errorf("tokenrefresh: refresh account %s: %w", accountID, err)
	}

	a.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		a.RefreshToken = tok.RefreshToken
	}
	a.Expiry = tok.Expiry
	if err := r.store.Update(ctx, a); err != nil {
		return "", fmt.Errorf("tokenrefresh: persist refreshed token for %s: %w", accountID, err)
	}
	return a.AccessToken, nil
}

func isInvalidGrant(err error) bool {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return rErr.ErrorCode == "invalid_grant"
	}
	return strings.Contains(err.Error(), "invalid_grant")
}

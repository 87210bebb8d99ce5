// Package oauth keeps a stored OAuth token fresh. A Refresher wakes up on a
// jittered interval and refreshes the token once its remaining lifetime falls
// inside the configured window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/twitchapi"
)

// Store persists tokens by provider.
type Store interface {
	Get(ctx context.Context, provider string) (db.Token, error)
	Upsert(ctx context.Context, t db.Token) error
}

// RefreshFunc performs the provider specific refresh grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Refresher refreshes the token of one provider.
type Refresher struct {
	Store    Store
	Provider string
	Refresh  RefreshFunc
	// Interval between checks; default 5m.
	Interval time.Duration
	// Window before expiry in which the token is refreshed; default 15m.
	Window time.Duration
	// OnRefresh, when set, is called with every stored refreshed token.
	OnRefresh func(db.Token)
	Logger    *slog.Logger
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
}

// Run checks the token until ctx is done. The first check happens after a
// random delay of up to half an interval to spread instances apart.
func (r *Refresher) Run(ctx context.Context) {
	r.defaults()
	var wait time.Duration
	if half := r.Interval / 2; half > 0 {
		wait = rand.N(half)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if _, err := r.Check(ctx); err != nil && !errors.Is(err, db.ErrTokenNotFound) {
			r.Logger.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
		wait = jitter(r.Interval)
	}
}

// Check refreshes the token when it expires within the window and reports
// whether it did.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	tok, err := r.Store.Get(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if tok.RefreshToken == "" || tok.Expiry.IsZero() || time.Until(tok.Expiry) > r.Window {
		return false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	fresh, err := r.Refresh(rctx, tok.RefreshToken)
	if err != nil {
		return false, err
	}

	tok.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		tok.RefreshToken = fresh.RefreshToken
	}
	tok.Expiry = fresh.Expiry
	if scope := strings.TrimSpace(twitchapi.Scope(fresh)); scope != "" {
		tok.Scope = scope
	}
	if err := r.Store.Upsert(ctx, tok); err != nil {
		return false, err
	}
	r.Logger.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expires_at", tok.Expiry))
	if r.OnRefresh != nil {
		r.OnRefresh(tok)
	}
	return true, nil
}

// jitter returns d varied by up to ±20%.
func jitter(d time.Duration) time.Duration {
	span := int64(d / 5)
	if span <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(2*span)-span)
}

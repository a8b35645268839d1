package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// RefreshFunc performs the provider-specific refresh grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (Token, error)

// Refresher periodically checks a stored token and refreshes it once its
// remaining lifetime drops inside Window.
type Refresher struct {
	Store    TokenStore
	Provider string
	Interval time.Duration
	Window   time.Duration
	Refresh  RefreshFunc
	// OnRefresh runs after a refreshed token is persisted.
	OnRefresh func(Token)

	now func() time.Time
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	if r.now == nil {
		r.now = time.Now
	}
}

// StartRefresher launches a Refresher in a goroutine that stops with ctx.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc, onRefresh func(Token)) {
	r := &Refresher{Store: store, Provider: provider, Interval: interval, Window: window, Refresh: fn, OnRefresh: onRefresh}
	go func() {
		if err := r.Run(ctx); err != nil {
			slog.Error("token refresher stopped", slog.String("provider", provider), slog.Any("err", err))
		}
	}()
}

// Run checks on a jittered interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.defaults()
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initial := time.Duration(rand.Int63n(int64(r.Interval/2) + 1))
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(initial):
	}
	for {
		if _, err := r.Check(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.nextSleep()):
		}
	}
}

// nextSleep is Interval with ±20% jitter, never below half the interval.
func (r *Refresher) nextSleep() time.Duration {
	jitterRange := int64(r.Interval / 5)
	if jitterRange <= 0 {
		return r.Interval
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	d := r.Interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
	if d < r.Interval/2 {
		d = r.Interval / 2
	}
	return d
}

// Check runs a single refresh pass and reports whether the token was replaced.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	cur, err := r.Store.GetToken(ctx, r.Provider)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.RefreshToken == "" || cur.Expiry.IsZero() {
		return false, nil
	}
	if cur.Expiry.Sub(r.now()) > r.Window {
		return false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	next, err := r.Refresh(ctx2, cur.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	next.Scope = strings.TrimSpace(next.Scope)
	if next.Login == "" {
		next.Login = cur.Login
	}
	if err := r.Store.PutToken(ctx, r.Provider, next); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expires_at", next.Expiry))
	if r.OnRefresh != nil {
		r.OnRefresh(next)
	}
	return true, nil
}

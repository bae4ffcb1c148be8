// Package session implements the Session Coordinator (§4.9): single-flight
// re-authentication, startup acquisition with exponential backoff, and
// degraded-mode gating, grounded on the teacher's backend/auth bcrypt/JWT
// exchange idiom for the login call itself.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantwell/optioncore/backend/cache"
	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/logging"
)

// LoginFunc performs the sidecar login exchange (request token -> access
// token), as defined by the broker contract in §6.
type LoginFunc func(ctx context.Context) (accessToken string, err error)

var ErrDegraded = errors.New("session: degraded mode, manual login required")

// Coordinator owns the process-wide access token and its expiry, collapsing
// concurrent re-auth attempts onto a single in-flight login.
type Coordinator struct {
	login    LoginFunc
	calendar execution.Calendar
	clock    execution.Clock
	store    cache.Cache

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	degraded atomic.Bool
}

const sessionCacheKey = "session:access_token"

// NewCoordinator wires the coordinator's collaborators. store durably
// persists the token (e.g. Redis) so a process restart can restore it
// without a fresh login.
func NewCoordinator(login LoginFunc, calendar execution.Calendar, clock execution.Clock, store cache.Cache) *Coordinator {
	if clock == nil {
		clock = execution.SystemClock{}
	}
	return &Coordinator{login: login, calendar: calendar, clock: clock, store: store}
}

// Token returns the current access token, or ErrDegraded if the system is in
// degraded mode.
func (c *Coordinator) Token() (string, error) {
	if c.degraded.Load() {
		return "", ErrDegraded
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, nil
}

// Start attempts to restore a non-expired session from the durable store; if
// none is present, it runs the startup login with exponential backoff on a
// background worker so application readiness is never blocked.
func (c *Coordinator) Start(ctx context.Context) {
	if c.restoreFromStore(ctx) {
		return
	}
	go c.startupWithBackoff(ctx)
}

func (c *Coordinator) restoreFromStore(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	v, err := c.store.Get(ctx, sessionCacheKey)
	if err != nil {
		return false
	}
	rec, ok := v.(tokenRecord)
	if !ok {
		// A JSON-backed store (cache.RedisCache) returns the record decoded
		// into a generic map; re-decode it into a tokenRecord.
		if b, err := json.Marshal(v); err == nil {
			ok = json.Unmarshal(b, &rec) == nil && rec.Token != ""
		}
	}
	if !ok || !c.clock.Now().Before(rec.ExpiresAt) {
		return false
	}
	c.mu.Lock()
	c.token = rec.Token
	c.expiresAt = rec.ExpiresAt
	c.mu.Unlock()
	return true
}

type tokenRecord struct {
	Token     string
	ExpiresAt time.Time
}

func (c *Coordinator) startupWithBackoff(ctx context.Context) {
	delay := 60 * time.Second
	const maxDelay = 300 * time.Second
	const maxAttempts = 10

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.reauth(ctx); err == nil {
			return
		}
		logging.Warn("session: startup login attempt failed", logging.Int("attempt", attempt))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	c.degraded.Store(true)
	logging.Error("session: exhausted startup retries, entering degraded mode", nil)
}

// Reauth performs single-flight re-authentication: concurrent callers
// collapse onto one in-flight login and all observe its result.
func (c *Coordinator) Reauth(ctx context.Context) error {
	return c.reauth(ctx)
}

func (c *Coordinator) reauth(ctx context.Context) error {
	_, err, _ := c.group.Do("reauth", func() (any, error) {
		token, err := c.login(ctx)
		if err != nil {
			return nil, err
		}

		expiresAt := c.clock.Now().Add(18 * time.Hour)
		if c.calendar != nil {
			expiresAt = c.calendar.NextSixAM(c.clock.Now())
		}

		c.mu.Lock()
		c.token = token
		c.expiresAt = expiresAt
		c.mu.Unlock()
		c.degraded.Store(false)

		if c.store != nil {
			c.store.Set(ctx, sessionCacheKey, tokenRecord{Token: token, ExpiresAt: expiresAt}, time.Until(expiresAt))
		}
		return token, nil
	})
	return err
}

// Degraded reports whether the coordinator is currently in degraded mode.
func (c *Coordinator) Degraded() bool { return c.degraded.Load() }

// ExpiresAt returns the current token's expiry.
func (c *Coordinator) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantwell/optioncore/backend/cache"
)

func TestReauthStoresTokenAndClearsDegraded(t *testing.T) {
	login := func(ctx context.Context) (string, error) { return "tok-1", nil }
	c := NewCoordinator(login, nil, nil, nil)
	c.degraded.Store(true)

	if err := c.Reauth(context.Background()); err != nil {
		t.Fatalf("Reauth() error = %v", err)
	}

	tok, err := c.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("unexpected token %q", tok)
	}
	if c.Degraded() {
		t.Fatal("expected Reauth success to clear degraded mode")
	}
}

func TestReauthPropagatesLoginFailure(t *testing.T) {
	loginErr := errors.New("sidecar unreachable")
	login := func(ctx context.Context) (string, error) { return "", loginErr }
	c := NewCoordinator(login, nil, nil, nil)

	if err := c.Reauth(context.Background()); err == nil {
		t.Fatal("expected Reauth to propagate the login error")
	}
}

func TestReauthCollapsesConcurrentCallsOntoOneLogin(t *testing.T) {
	var calls atomic.Int32
	login := func(ctx context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "tok-1", nil
	}
	c := NewCoordinator(login, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Reauth(context.Background())
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected singleflight to collapse to 1 login call, got %d", calls.Load())
	}
}

func TestTokenReturnsErrDegradedWhenDegraded(t *testing.T) {
	c := NewCoordinator(func(ctx context.Context) (string, error) { return "tok-1", nil }, nil, nil, nil)
	c.degraded.Store(true)

	if _, err := c.Token(); !errors.Is(err, ErrDegraded) {
		t.Fatalf("expected ErrDegraded, got %v", err)
	}
}

func TestStartRestoresNonExpiredTokenFromStore(t *testing.T) {
	store := cache.NewMemoryCache(1<<20, 10)
	rec := tokenRecord{Token: "restored-tok", ExpiresAt: time.Now().Add(time.Hour)}
	store.Set(context.Background(), sessionCacheKey, rec, time.Hour)

	login := func(ctx context.Context) (string, error) {
		t.Fatal("did not expect a fresh login when a valid session can be restored")
		return "", nil
	}
	c := NewCoordinator(login, nil, nil, store)

	c.Start(context.Background())

	tok, err := c.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "restored-tok" {
		t.Fatalf("expected the restored token, got %q", tok)
	}
}

func TestStartIgnoresExpiredStoredToken(t *testing.T) {
	store := cache.NewMemoryCache(1<<20, 10)
	rec := tokenRecord{Token: "stale-tok", ExpiresAt: time.Now().Add(-time.Hour)}
	store.Set(context.Background(), sessionCacheKey, rec, time.Hour)

	var loggedIn atomic.Bool
	login := func(ctx context.Context) (string, error) {
		loggedIn.Store(true)
		return "fresh-tok", nil
	}
	c := NewCoordinator(login, nil, nil, store)

	c.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if loggedIn.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected Start to trigger a fresh login for an expired stored token")
}

package apiclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/testutil"
	"github.com/nkiryanov/partsearch/internal/tokenstore"
)

func TestClient_ConcurrentRefresh(t *testing.T) {
	const n = 8

	setup := func(t *testing.T) (*testutil.Backend, *Client, *fakeRedirector) {
		b := testutil.NewBackend(t)
		b.AddUser("ann@example.com", "password-123")

		redirector := &fakeRedirector{path: "/dashboard"}
		c, _ := newTestClient(t, b.URL(), WithRedirector(redirector))
		login(t, c, "ann@example.com", "password-123")

		b.ExpireAccess()
		return b, c, redirector
	}

	// fire n profile requests and wait until all but the owner are queued
	fire := func(t *testing.T, c *Client) <-chan error {
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				errs <- c.Get(context.Background(), PathProfile, nil)
			}()
		}

		require.Eventually(t, func() bool {
			return c.Coordinator().Pending() == n-1
		}, 2*time.Second, 5*time.Millisecond, "all but one caller should wait in the queue")
		require.Equal(t, StateRefreshing, c.Coordinator().State())

		return errs
	}

	t.Run("one refresh for all callers", func(t *testing.T) {
		b, c, redirector := setup(t)
		release := b.HoldRefresh()
		t.Cleanup(release)

		errs := fire(t, c)
		release()

		for i := 0; i < n; i++ {
			require.NoError(t, <-errs, "every queued caller should succeed after refresh")
		}
		require.Equal(t, 1, b.Calls(PathRefresh), "exactly one refresh call must be issued")
		require.Equal(t, 2*n, b.Calls(PathProfile), "every caller replays once")
		require.Equal(t, StateIdle, c.Coordinator().State())
		require.Equal(t, 0, c.Coordinator().Pending())
		require.Empty(t, redirector.Redirects())
	})

	t.Run("failed refresh rejects all callers", func(t *testing.T) {
		b, c, redirector := setup(t)
		b.FailRefresh(true)
		release := b.HoldRefresh()
		t.Cleanup(release)

		errs := fire(t, c)
		release()

		for i := 0; i < n; i++ {
			err := <-errs
			require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		}
		require.Equal(t, 1, b.Calls(PathRefresh))
		require.Equal(t, n, b.Calls(PathProfile), "no replay after failed refresh")
		require.Equal(t, []string{"/signin"}, redirector.Redirects(), "redirect happens once per cycle")
		require.Equal(t, "", c.Store().Get(context.Background()))
	})
}

func TestCoordinator(t *testing.T) {
	blockingRefresh := func(token string, err error) (RefreshFunc, chan struct{}) {
		gate := make(chan struct{})
		return func(ctx context.Context) (string, error) {
			<-gate
			return token, err
		}, gate
	}

	t.Run("state names", func(t *testing.T) {
		require.Equal(t, "idle", StateIdle.String())
		require.Equal(t, "refreshing", StateRefreshing.String())
	})

	t.Run("stores new credential", func(t *testing.T) {
		store := tokenstore.New(nil, nil)
		store.Set(t.Context(), "old")
		c := NewCoordinator(func(context.Context) (string, error) { return "new", nil }, store, nil, nil)

		require.NoError(t, c.Await(t.Context()))
		require.Equal(t, "new", store.Get(t.Context()))
	})

	t.Run("cookie only refresh keeps credential", func(t *testing.T) {
		store := tokenstore.New(nil, nil)
		store.Set(t.Context(), "old")
		c := NewCoordinator(func(context.Context) (string, error) { return "", nil }, store, nil, nil)

		require.NoError(t, c.Await(t.Context()))
		require.Equal(t, "old", store.Get(t.Context()))
	})

	t.Run("callers after drain start a new cycle", func(t *testing.T) {
		c := NewCoordinator(func(context.Context) (string, error) { return "new", nil }, tokenstore.New(nil, nil), nil, nil)

		require.NoError(t, c.Await(t.Context()))
		require.NoError(t, c.Await(t.Context()))

		require.Equal(t, 2, c.Cycles())
		require.Equal(t, StateIdle, c.State())
	})

	t.Run("waiter gives up on its context", func(t *testing.T) {
		refresh, gate := blockingRefresh("new", nil)
		c := NewCoordinator(refresh, tokenstore.New(nil, nil), nil, nil)

		ownerDone := make(chan error, 1)
		go func() { ownerDone <- c.Await(context.Background()) }()
		require.Eventually(t, func() bool { return c.State() == StateRefreshing }, time.Second, time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		waiterDone := make(chan error, 1)
		go func() { waiterDone <- c.Await(ctx) }()
		require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

		cancel()
		require.ErrorIs(t, <-waiterDone, context.Canceled)

		close(gate)
		require.NoError(t, <-ownerDone, "cycle must finish regardless of waiters")
		require.Equal(t, StateIdle, c.State())
	})

	t.Run("owner cancellation doesn't abort refresh", func(t *testing.T) {
		store := tokenstore.New(nil, nil)
		c := NewCoordinator(func(ctx context.Context) (string, error) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "new", nil
		}, store, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, c.Await(ctx))
		require.Equal(t, "new", store.Get(context.Background()))
	})

	t.Run("failure wraps refresh error", func(t *testing.T) {
		refreshErr := &Error{StatusCode: http.StatusUnauthorized, Method: http.MethodPost, Path: PathRefresh}
		store := tokenstore.New(nil, nil)
		store.Set(t.Context(), "old")
		redirector := &fakeRedirector{path: "/history"}
		c := NewCoordinator(func(context.Context) (string, error) { return "", refreshErr }, store, redirector, nil)

		err := c.Await(t.Context())

		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, "", store.Get(t.Context()))
		require.Equal(t, []string{"/signin"}, redirector.Redirects())
	})
}

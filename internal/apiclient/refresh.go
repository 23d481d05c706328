package apiclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/logger"
)

const (
	defaultRefreshTimeout = 15 * time.Second

	signInPath = "/signin"
	signUpPath = "/signup"
)

type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RefreshFunc obtains a fresh access token. Empty token with nil error means
// the backend refreshed the cookie only.
type RefreshFunc func(ctx context.Context) (string, error)

// Redirector sends the user to the sign-in page
type Redirector interface {
	CurrentPath() string
	Redirect(path string)
}

// Coordinator makes sure at most one refresh is in flight.
// The first caller that needs a refresh owns the cycle; everyone who comes
// while it runs waits in the queue and gets the owner's outcome.
type Coordinator struct {
	mu     sync.Mutex
	state  State
	queue  []chan error
	cycles int

	refresh    RefreshFunc
	store      TokenStore
	redirector Redirector
	timeout    time.Duration
	logger     logger.Logger
}

func NewCoordinator(refresh RefreshFunc, store TokenStore, redirector Redirector, l logger.Logger) *Coordinator {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Coordinator{
		state:      StateIdle,
		refresh:    refresh,
		store:      store,
		redirector: redirector,
		timeout:    defaultRefreshTimeout,
		logger:     l,
	}
}

// Await returns when the current refresh cycle (joined or started) is over.
// The error wraps apperrors.ErrSessionExpired when the refresh failed.
func (c *Coordinator) Await(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateRefreshing {
		done := make(chan error, 1)
		c.queue = append(c.queue, done)
		pending := len(c.queue)
		c.mu.Unlock()

		c.logger.Debug("Waiting for refresh in flight", "pending", pending)

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.state = StateRefreshing
	c.cycles++
	cycle := c.cycles
	c.mu.Unlock()

	return c.run(ctx, cycle)
}

// run is executed by the cycle owner only
func (c *Coordinator) run(ctx context.Context, cycle int) error {
	c.logger.Debug("Refresh started", "cycle", cycle)

	// Waiters depend on this call, so the owner's cancellation must not kill it
	ctx = context.WithoutCancel(ctx)
	refreshCtx, cancel := context.WithTimeout(ctx, c.timeout)
	access, err := c.refresh(refreshCtx)
	cancel()

	switch {
	case err != nil:
		c.store.Set(ctx, "")
		err = fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, err)
	case access != "":
		c.store.Set(ctx, access)
	}

	// Queue swap and the idle transition happen together: whoever comes later
	// belongs to the next cycle
	c.mu.Lock()
	waiters := c.queue
	c.queue = nil
	c.state = StateIdle
	c.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}

	if err != nil {
		c.logger.Warn("Refresh failed", "cycle", cycle, "rejected", len(waiters), "error", err)
		c.redirectToSignIn()
		return err
	}

	c.logger.Debug("Refresh finished", "cycle", cycle, "resolved", len(waiters))
	return nil
}

func (c *Coordinator) redirectToSignIn() {
	if c.redirector == nil {
		return
	}

	switch c.redirector.CurrentPath() {
	case signInPath, signUpPath:
		return
	default:
		c.redirector.Redirect(signInPath)
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of callers waiting on the running cycle
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Cycles is the number of refresh calls issued so far
func (c *Coordinator) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

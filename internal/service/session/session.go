package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/events"
	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/models"
	"github.com/nkiryanov/partsearch/internal/service/validate"
)

// API is the part of the backend client the controller needs
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body any, out any) error
	Patch(ctx context.Context, path string, body any, out any) error
}

// Controller keeps the signed in user and the credential in sync.
// Every change of the user is published as events.TopicSessionChanged.
type Controller struct {
	api    API
	store  apiclient.TokenStore
	bus    *events.Bus
	logger logger.Logger

	mu      sync.RWMutex
	user    *models.User
	loading bool
}

func NewController(api API, store apiclient.TokenStore, bus *events.Bus, l logger.Logger) *Controller {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	c := &Controller{
		api:     api,
		store:   store,
		bus:     bus,
		logger:  l,
		loading: true,
	}

	// A failed refresh ends the session. The bus forbids publishing from a handler,
	// the sign in event itself tells listeners what happened.
	if bus != nil {
		_ = bus.Subscribe(events.TopicSignInRequired, c.onSignInRequired)
	}

	return c
}

// Probe asks the backend who we are. Any failure means there is no session.
func (c *Controller) Probe(ctx context.Context) {
	user, err := c.fetchProfile(ctx)
	if err != nil {
		c.logger.Debug("No active session", "error", err)
	}

	c.mu.Lock()
	c.user = user
	c.loading = false
	c.mu.Unlock()

	c.publish(user)
}

// Loading is true until the first Probe finishes
func (c *Controller) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

func (c *Controller) Login(ctx context.Context, creds models.LoginCredentials) (*models.User, error) {
	if err := validate.Struct(creds); err != nil {
		return nil, err
	}

	var resp models.AuthResponse
	if err := c.api.Post(ctx, apiclient.PathLogin, creds, &resp); err != nil {
		c.logger.Info("Login failed", "email", creds.Email, "error", err)
		return nil, err
	}

	return c.start(ctx, resp)
}

func (c *Controller) Register(ctx context.Context, data models.RegisterData) (*models.User, error) {
	if err := validate.Struct(data); err != nil {
		return nil, err
	}

	var resp models.AuthResponse
	if err := c.api.Post(ctx, apiclient.PathRegister, data, &resp); err != nil {
		c.logger.Info("Registration failed", "email", data.Email, "error", err)
		return nil, err
	}

	return c.start(ctx, resp)
}

// start keeps the credential from an auth response and loads the profile
func (c *Controller) start(ctx context.Context, resp models.AuthResponse) (*models.User, error) {
	if resp.Access != "" {
		c.store.Set(ctx, resp.Access)
	}

	user, err := c.fetchProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("signed in but failed to load profile: %w", err)
	}

	c.setUser(user)
	c.logger.Info("Signed in", "user_id", user.ID)
	return user, nil
}

// Logout tells the backend (best effort) and always drops the local session
func (c *Controller) Logout(ctx context.Context) {
	if err := c.api.Post(ctx, apiclient.PathLogout, nil, nil); err != nil {
		c.logger.Warn("Logout request failed", "error", err)
	}

	c.store.Set(ctx, "")
	c.setUser(nil)
}

// RefreshUser reloads the profile; on failure the session is dropped
func (c *Controller) RefreshUser(ctx context.Context) (*models.User, error) {
	user, err := c.fetchProfile(ctx)
	if err != nil {
		c.setUser(nil)
		return nil, err
	}

	c.setUser(user)
	return user, nil
}

func (c *Controller) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.User, error) {
	if err := validate.Struct(update); err != nil {
		return nil, err
	}

	var user models.User
	if err := c.api.Patch(ctx, apiclient.PathProfile, update, &user); err != nil {
		return nil, err
	}

	c.setUser(&user)
	return &user, nil
}

// ChangePassword returns the backend confirmation message
func (c *Controller) ChangePassword(ctx context.Context, change models.PasswordChange) (string, error) {
	if err := validate.Struct(change); err != nil {
		return "", err
	}

	var resp models.MessageResponse
	if err := c.api.Post(ctx, apiclient.PathChangePassword, change, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Controller) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := validate.Email("email", email); err != nil {
		return "", err
	}

	var resp models.MessageResponse
	if err := c.api.Post(ctx, apiclient.PathPasswordReset, map[string]string{"email": email}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Controller) ConfirmPasswordReset(ctx context.Context, confirm models.PasswordResetConfirm) (string, error) {
	if err := validate.Struct(confirm); err != nil {
		return "", err
	}

	var resp models.MessageResponse
	if err := c.api.Post(ctx, apiclient.PathPasswordResetConfirm, confirm, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// UpdateUser replaces the local user without asking the backend
func (c *Controller) UpdateUser(user *models.User) {
	c.setUser(user)
}

// User returns a copy of the current user or nil
func (c *Controller) User() *models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

func (c *Controller) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil
}

func (c *Controller) fetchProfile(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.api.Get(ctx, apiclient.PathProfile, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Controller) setUser(user *models.User) {
	c.mu.Lock()
	c.user = user
	c.loading = false
	c.mu.Unlock()

	c.publish(user)
}

func (c *Controller) publish(user *models.User) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.TopicSessionChanged, user)
}

func (c *Controller) onSignInRequired(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.user != nil {
		c.logger.Info("Session ended, sign in required", "user_id", c.user.ID, "path", path)
	}
	c.user = nil
	c.loading = false
}

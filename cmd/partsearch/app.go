package main

import (
	"context"
	"fmt"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/events"
	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/service/orchestrator"
	"github.com/nkiryanov/partsearch/internal/service/search"
	"github.com/nkiryanov/partsearch/internal/service/session"
	"github.com/nkiryanov/partsearch/internal/service/vehicle"
	"github.com/nkiryanov/partsearch/internal/tokenstore"
)

// App is the wired client: one per process
type App struct {
	Logger    logger.Logger
	Bus       *events.Bus
	Navigator *events.Navigator
	Store     *tokenstore.Store
	API       *apiclient.Client

	Session      *session.Controller
	Search       *search.Service
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// NewApp builds the client; path is where the user starts (sign in pages are never redirected)
func NewApp(ctx context.Context, c *Config, path string) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &App{Logger: l}

	slot, err := app.tokenSlot(ctx, c)
	if err != nil {
		return nil, err
	}

	app.Bus = events.New()
	app.Navigator = events.NewNavigator(app.Bus, path)
	app.Store = tokenstore.New(slot, l)

	app.API, err = apiclient.New(
		apiclient.Config{BaseURL: c.APIURL, Timeout: c.RequestTimeout},
		app.Store,
		apiclient.WithLogger(l),
		apiclient.WithRedirector(app.Navigator),
	)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("error while creating api client. Err: %w", err)
	}

	// Initialize services
	app.Session = session.NewController(app.API, app.Store, app.Bus, l)
	app.Search = search.NewService(app.API, l)
	vehicles := vehicle.NewClient(vehicle.Config{RegistryURL: c.RegistryURL, Timeout: c.RequestTimeout}, l)
	app.Orchestrator = orchestrator.New(orchestrator.Config{Debounce: c.Debounce}, vehicles, app.Search, app.Bus, l)

	if err := app.Bus.Subscribe(events.TopicSignInRequired, func(path string) {
		l.Warn("Sign in required", "redirect", path)
	}); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("error while subscribing to events. Err: %w", err)
	}

	return app, nil
}

func (a *App) tokenSlot(ctx context.Context, c *Config) (tokenstore.Slot, error) {
	switch c.TokenStore {
	case TokenStoreFile:
		slot, err := tokenstore.NewFileSlot(c.StateDir, c.SessionName, c.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("error while opening token file. Err: %w", err)
		}
		return slot, nil

	case TokenStoreRedis:
		slot, err := tokenstore.NewRedisSlot(ctx, tokenstore.RedisConfig{Addr: c.RedisAddr}, c.SessionName)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		a.closers = append(a.closers, slot.Close)
		return slot, nil

	default:
		return nil, nil
	}
}

func (a *App) Close() error {
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

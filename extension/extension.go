// Package extension provides a Forge extension entry point for rowguard.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/api"
	"github.com/xraph/rowguard/bundle"
	"github.com/xraph/rowguard/cache"
	"github.com/xraph/rowguard/cache/redis"
	"github.com/xraph/rowguard/plugin"
	"github.com/xraph/rowguard/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "rowguard"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Row and column level data permission engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// bundleActor is recorded in the change log for policies imported on start.
const bundleActor = "system:bundle"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts rowguard as a Forge extension.
type Extension struct {
	config     Config
	eng        *rowguard.Engine
	apiHandler *api.API
	logger     *slog.Logger
	engineOpts []rowguard.Option
	plugins    []plugin.Plugin
	redis      goredis.UniversalClient
}

// New creates a rowguard Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return ExtensionName }

// Description returns the extension description.
func (e *Extension) Description() string { return ExtensionDescription }

// Version returns the extension version.
func (e *Extension) Version() string { return ExtensionVersion }

// Dependencies returns the list of extension names this extension depends on.
func (e *Extension) Dependencies() []string { return []string{} }

// Engine returns the underlying rowguard engine.
func (e *Extension) Engine() *rowguard.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Register implements [forge.Extension]. It initializes the engine,
// registers it in the DI container, and optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.init(fapp); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*rowguard.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("rowguard: register engine in container: %w", err)
	}

	return nil
}

func (e *Extension) init(fapp forge.App) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]rowguard.Option, 0, len(e.engineOpts)+len(e.plugins)+4)
	opts = append(opts,
		rowguard.WithLogger(logger),
		rowguard.WithConfig(e.config.engineConfig()),
	)

	// Try to resolve store from DI container, fall back to option-provided store.
	if s, err := forge.Inject[store.Store](fapp.Container()); err == nil {
		opts = append(opts, rowguard.WithStore(s))
	}

	c, err := e.buildCache()
	if err != nil {
		return err
	}
	if c != nil {
		opts = append(opts, rowguard.WithCache(c))
	}

	// User-provided options may override store and cache.
	opts = append(opts, e.engineOpts...)

	for _, x := range e.plugins {
		opts = append(opts, rowguard.WithPlugin(x))
	}

	eng, err := rowguard.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("rowguard: create engine: %w", err)
	}
	e.eng = eng

	e.apiHandler = api.New(eng, fapp.Router())

	if !e.config.DisableRoutes {
		if err := e.apiHandler.RegisterRoutes(fapp.Router()); err != nil {
			return fmt.Errorf("rowguard: register routes: %w", err)
		}
	}

	return nil
}

func (e *Extension) buildCache() (rowguard.Cache, error) {
	switch e.config.Cache {
	case "", CacheMemory:
		opts := []cache.MemoryOption{cache.WithTTL(e.config.CacheTTL)}
		if e.config.CacheMaxSize > 0 {
			opts = append(opts, cache.WithMaxSize(e.config.CacheMaxSize))
		}
		return cache.NewMemory(opts...), nil
	case CacheRedis:
		if len(e.config.RedisAddrs) == 0 {
			return nil, errors.New("rowguard: redis cache requires redis_addrs")
		}
		e.redis = goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: e.config.RedisAddrs})
		return redis.New(e.redis, redis.WithTTL(e.config.CacheTTL)), nil
	case CacheNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("rowguard: unknown cache %q", e.config.Cache)
	}
}

// Start runs migrations if enabled, imports the configured policy bundle
// and starts the engine.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("rowguard: extension not initialized")
	}

	if !e.config.DisableMigrate {
		s := e.eng.Store()
		if s != nil {
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("rowguard: migration failed: %w", err)
			}
		}
	}

	if e.config.BundlePath != "" {
		b, err := bundle.LoadFile(e.config.BundlePath)
		if err != nil {
			return fmt.Errorf("rowguard: load bundle: %w", err)
		}
		if _, err := e.eng.ImportBundle(ctx, bundleActor, b); err != nil {
			return fmt.Errorf("rowguard: import bundle %s: %w", e.config.BundlePath, err)
		}
	}

	return e.eng.Start(ctx)
}

// Stop gracefully shuts down the rowguard engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		return nil
	}
	err := e.eng.Stop(ctx)
	if e.redis != nil {
		err = errors.Join(err, e.redis.Close())
	}
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("rowguard: extension not initialized")
	}
	s := e.eng.Store()
	if s == nil {
		return errors.New("rowguard: no store configured")
	}
	if err := s.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// Handler returns the HTTP handler for all API routes.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all rowguard API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) error {
	if e.apiHandler != nil {
		return e.apiHandler.RegisterRoutes(router)
	}
	return nil
}

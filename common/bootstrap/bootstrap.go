package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/flowrunner/common/config"
	"github.com/lyzr/flowrunner/common/db"
	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/common/redis"
	"github.com/lyzr/flowrunner/store"
)

// Setup initializes all service components
// This is the main entry point for the service
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize stores (if not skipped)
	if !options.skipStore {
		components.Logger.Info("initializing store",
			"backend", components.Config.Store.Backend,
		)

		switch components.Config.Store.Backend {
		case "memory":
			components.Workflows = store.NewMemoryWorkflows()
			components.Executions = store.NewMemoryExecutions(components.Config.Store.MaxExecutions)
		case "postgres":
			components.DB, err = db.New(ctx, components.Config, components.Logger)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			// Register cleanup
			components.addCleanup(func() error {
				components.Logger.Info("closing database connection")
				components.DB.Close()
				return nil
			})

			workflows := store.NewPostgresWorkflows(components.DB)
			executions := store.NewPostgresExecutions(components.DB, components.Config.Store.MaxExecutions)
			if err := workflows.Init(ctx); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to init workflows table: %w", err)
			}
			if err := executions.Init(ctx); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to init executions table: %w", err)
			}
			components.Workflows = workflows
			components.Executions = executions
		default:
			return nil, fmt.Errorf("unknown store backend: %s", components.Config.Store.Backend)
		}
	}

	// 4. Initialize redis (if enabled and not skipped)
	if !options.skipRedis && components.Config.Redis.Enabled {
		components.Logger.Info("connecting to redis")
		components.Redis, err = redis.Connect(ctx, components.Config.Redis.URL, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

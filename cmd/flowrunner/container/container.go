// Package container wires the flowrunner service components together.
package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lyzr/flowrunner/common/bootstrap"
	"github.com/lyzr/flowrunner/common/ratelimit"
	"github.com/lyzr/flowrunner/common/relay"
	"github.com/lyzr/flowrunner/common/security"
	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/nodes"
	"github.com/lyzr/flowrunner/engine/runner"
	"github.com/lyzr/flowrunner/engine/webhook"
	"github.com/lyzr/flowrunner/scheduler"
)

// Container holds all initialized services (singleton pattern).
type Container struct {
	Components *bootstrap.Components

	Registry   *node.Registry
	Runner     *runner.Runner
	Dispatcher *webhook.Dispatcher
	Hub        *relay.Hub
	Scheduler  *scheduler.Scheduler

	// RateLimiter is nil unless Redis is connected and webhook rate
	// limiting is enabled.
	RateLimiter *ratelimit.RateLimiter

	// Events is the sink every run emits into. Without Redis it feeds
	// the local hub directly; with Redis it publishes to PubSub and the
	// subscriber feeds the hub, so each instance delivers the combined
	// stream exactly once.
	Events event.Sink

	subscriber *relay.RedisSubscriber
}

// New builds the service container from bootstrapped components.
func New(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	registry := nodes.NewRegistry()
	hub := relay.NewHub(log)

	events := hub.Sink()
	var subscriber *relay.RedisSubscriber
	if components.Redis != nil {
		events = relay.NewRedisPublisher(components.Redis, cfg.Redis.EventChannelPrefix, log).Sink()
		subscriber = relay.NewRedisSubscriber(components.Redis, hub, cfg.Redis.EventChannelPrefix, log)
	}

	var checkURL func(string) error
	if cfg.Engine.HTTPGuardEnabled {
		checkURL = security.NewGuard().Check
	}

	r := runner.New(runner.Opts{
		Registry:      registry,
		Log:           log,
		HTTPClient:    &http.Client{Timeout: cfg.Engine.HTTPTimeout},
		CheckURL:      checkURL,
		MaxDepth:      cfg.Engine.MaxExecutionDepth,
		MaxIterations: cfg.Engine.MaxIterations,
		CodeTimeout:   cfg.Engine.CodeTimeout,
		WaitCap:       cfg.Engine.WaitCap,
	})

	dispatcher := webhook.NewDispatcher(webhook.Opts{
		Workflows:  components.Workflows,
		Executions: components.Executions,
		Runner:     r,
		Log:        log,
		OnEvent:    events,
	})

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Opts{
			Workflows:  components.Workflows,
			Executions: components.Executions,
			Runner:     r,
			Log:        log,
			OnEvent:    events,
		})
	}

	var limiter *ratelimit.RateLimiter
	if components.Redis != nil && cfg.Webhook.RateLimitEnabled {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	return &Container{
		Components:  components,
		Registry:    registry,
		Runner:      r,
		Dispatcher:  dispatcher,
		Hub:         hub,
		Scheduler:   sched,
		RateLimiter: limiter,
		Events:      events,
		subscriber:  subscriber,
	}, nil
}

// Start launches the relay hub, the Redis event bridge, and the
// scheduler. The hub and the bridge stop when ctx is cancelled.
func (c *Container) Start(ctx context.Context) error {
	go c.Hub.Run(ctx)

	if c.subscriber != nil {
		go func() {
			if err := c.subscriber.Start(ctx); err != nil {
				c.Components.Logger.Error("event relay subscriber stopped", "error", err)
			}
		}()
	}

	if c.Scheduler != nil {
		if err := c.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		c.Components.Logger.Info("scheduler started", "entries", c.Scheduler.Entries())
	}

	return nil
}

// Stop halts the scheduler and waits for in-flight cron runs.
func (c *Container) Stop() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
}

package bootstrap

import (
	"github.com/lyzr/flowrunner/common/config"
	"github.com/lyzr/flowrunner/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipStore    bool
	skipRedis    bool
	customLogger *logger.Logger
	customConfig *config.Config
}

// WithoutStore skips store initialization
func WithoutStore() Option {
	return func(o *options) {
		o.skipStore = true
	}
}

// WithoutRedis skips redis initialization even when enabled in config
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

func defaultOptions() *options {
	return &options{
		skipStore: false,
		skipRedis: false,
	}
}

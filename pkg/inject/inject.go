// Package inject builds the dependency container the route handlers
// resolve their services from
package inject

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// NewContainer creates and registers a container. Container ids are
// process global, so each call gets a fresh id prefixed with name.
func NewContainer(name string, logger ectologger.Logger) (ectocontainer.DIContainer, error) {
	cfg := ectoinject.DefaultContainerConfig
	cfg.ID = name + "-" + uuid.New().String()
	cfg.LoggerConfig = &ectocontainer.DIContainerLoggerConfig{
		Prefix:   "ectoinject",
		LogLevel: loglevel.WARN,
		Enabled:  true,
		LogFunc: func(ctx context.Context, level, msg string) {
			entry := logger.WithContext(ctx).WithField("container", cfg.ID)
			if level == loglevel.WARN {
				entry.Warn(msg)
				return
			}
			entry.Debug(msg)
		},
	}
	return ectoinject.NewDIContainer(cfg)
}

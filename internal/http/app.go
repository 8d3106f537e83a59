// Package http holds what the router needs from the composition root: the
// modules to mount and the dependencies every module shares.
package http

import (
	"context"

	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// Pinger is a dependency probed by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// App is assembled by cmd/api and handed to router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Ready maps a dependency name to its readiness probe.
	Ready   map[string]Pinger
	Modules []Module
}

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups a module mounts on.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is /api/v1 behind the per-IP rate limiter.
	V1 *gin.RouterGroup
	// Protected is V1 behind JWT authentication.
	Protected *gin.RouterGroup
}

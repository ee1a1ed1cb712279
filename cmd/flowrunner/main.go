package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/cmd/flowrunner/routes"
	"github.com/lyzr/flowrunner/common/bootstrap"
	"github.com/lyzr/flowrunner/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "flowrunner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap flowrunner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	c, err := container.New(components)
	if err != nil {
		components.Logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	if err := c.Start(ctx); err != nil {
		components.Logger.Error("failed to start background components", "error", err)
		os.Exit(1)
	}
	defer c.Stop()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	routes.Register(e, c)

	srv := server.New(components.Config.Service.Name, components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": components.Config.Service.Name,
		})
	})
}

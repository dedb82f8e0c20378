package cli

import (
	"context"
	"flag"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/backend/gotrue"
	"github.com/goliatone/go-auth-session/callback"
	"github.com/goliatone/go-auth-session/metrics"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Serve the auth callback route and metrics",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}
	cmd.Flags.String("addr", ":3000", "Listen address")
	cmd.Flags.Duration("refresh", 30*time.Second, "Session refresh check interval")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		registry := prometheus.NewRegistry()
		m := metrics.NewMetrics(registry)

		rt, err := app.open(ctx, m)
		if err != nil {
			return err
		}
		defer rt.Close()

		sub := m.Attach(rt.coordinator)
		defer sub.Unsubscribe()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if client, ok := rt.backend.(*gotrue.Client); ok {
			interval := cmd.Flags.Lookup("refresh").Value.(flag.Getter).Get().(time.Duration)
			go func() {
				_ = client.RunAutoRefresh(ctx, interval)
			}()
		}

		srv, fiberApp := newServer(rt, registry)
		go func() {
			<-ctx.Done()
			_ = fiberApp.Shutdown()
		}()

		if err := srv.Serve(flagString(cmd, "addr")); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
	return cmd
}

// newServer mounts the callback on the router and the metrics and session
// endpoints on the fiber app underneath it.
func newServer(rt *runtime, registry *prometheus.Registry) (router.Server[*fiber.App], *fiber.App) {
	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = router.DefaultFiberOptions(fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}))
		return app
	})

	callback.Register(srv.Router(), callback.New(rt.coordinator, callback.Config{
		Path:   rt.cfg.CallbackPath,
		Logger: rt.logger,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(registry)))
	app.Get("/session", func(c *fiber.Ctx) error {
		return c.JSON(rt.coordinator.Snapshot())
	})

	return srv, app
}

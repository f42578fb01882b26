package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/core"
	beaconauth_fiber "github.com/marshallshelly/beaconauth-plugin/integrations/fiber"
	"github.com/marshallshelly/beaconauth-plugin/metrics"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// server is the standalone auth service
type server struct {
	app     *fiber.App
	plugin  *beaconauth.BeaconAuth
	closers []func() error
}

// newServer opens the stores and mounts the auth routes
func newServer(ctx context.Context, cfg *Config, environ map[string]string, registry *prometheus.Registry) (*server, error) {
	logger := core.NewDefaultLogger(core.ResolveEnv())

	enabled, err := cfg.providerOptions(environ)
	if err != nil {
		return nil, err
	}

	adapter, err := cfg.openAdapter(ctx)
	if err != nil {
		return nil, err
	}

	s := &server{closers: []func() error{adapter.Close}}
	opts := []beaconauth.Option{
		beaconauth.WithAdapter(adapter),
		beaconauth.WithLogger(logger),
		beaconauth.WithSessionName(cfg.SessionName),
		beaconauth.WithSessionExpiresIn(cfg.ActivePeriod, cfg.IdlePeriod),
		beaconauth.WithSuccessRedirect(cfg.SuccessRedirect),
	}

	sessions, err := cfg.openSessionStore(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	if sessions != nil {
		opts = append(opts, beaconauth.WithSessionAdapter(sessions))
		s.closers = append(s.closers, sessions.Close)
	}

	if cfg.Metrics {
		observer, err := metrics.New(registry)
		if err != nil {
			s.close()
			return nil, err
		}
		opts = append(opts,
			beaconauth.WithObserver(observer),
			beaconauth.WithOAuthOptions(oauth.WithObserver(observer)),
		)
	}

	for id, providerOpts := range enabled {
		opts = append(opts, beaconauth.WithProvider(id, providerOpts))
	}

	s.plugin, err = beaconauth.New(opts...)
	if err != nil {
		s.close()
		return nil, err
	}

	s.app = fiber.New(fiber.Config{
		ErrorHandler:          beaconauth_fiber.ErrorHandler,
		DisableStartupMessage: true,
	})
	s.app.Use(beaconauth_fiber.Middleware(s.plugin))

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := s.plugin.Auth().Ping(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.SendString("ok")
	})
	if cfg.Metrics {
		s.app.Get("/metrics", beaconauth_fiber.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	beaconauth_fiber.Mount(s.app, cfg.Prefix, s.plugin)

	logger.Info("server configured",
		"adapter", cfg.Adapter,
		"redis_sessions", sessions != nil,
		"prefix", cfg.Prefix,
		"providers", s.plugin.Providers(),
	)
	return s, nil
}

// run serves until ctx is done or a termination signal arrives
func (s *server) run(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return errors.Join(err, s.close())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.app.ShutdownWithContext(shutdownCtx)
	return errors.Join(err, s.close())
}

func (s *server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

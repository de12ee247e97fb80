package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/easybook/easybook/internal/config"
	"github.com/easybook/easybook/internal/domain/account"
	"github.com/easybook/easybook/internal/domain/booking"
	"github.com/easybook/easybook/internal/domain/schedule"
	"github.com/easybook/easybook/internal/platform/auth"
	"github.com/easybook/easybook/internal/platform/cache"
	"github.com/easybook/easybook/internal/platform/db"
	"github.com/easybook/easybook/internal/platform/middleware"
	"github.com/easybook/easybook/internal/platform/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodySize     = "64K"
)

// serverDeps is everything newServer needs; runServer builds the real
// implementations.
type serverDeps struct {
	cfg          *config.Config
	logger       zerolog.Logger
	pinger       db.Pinger
	accounts     account.Repository
	schedules    schedule.Repository
	appointments booking.Repository
	cache        booking.AvailabilityCache
	registry     *prometheus.Registry
	tokens       *auth.TokenIssuer
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := telemetry.NewLogger("easybook", cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: requests without a token are treated as admin")
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var availability booking.AvailabilityCache
	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			// Availability is always computable from Postgres.
			logger.Warn().Err(err).Msg("redis unavailable, availability cache disabled")
		} else {
			defer client.Close()
			availability = cache.NewAvailabilityCache(client, cfg.AvailabilityCacheTTL)
			logger.Info().Dur("ttl", cfg.AvailabilityCacheTTL).Msg("availability cache enabled")
		}
	}

	tokens, err := auth.NewTokenIssuer(cfg.AuthIssuer, []byte(cfg.AuthSigningKey), cfg.AuthTokenTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e := newServer(serverDeps{
		cfg:          cfg,
		logger:       logger,
		pinger:       pool,
		accounts:     account.NewRepoPG(pool),
		schedules:    schedule.NewRepoPG(pool),
		appointments: booking.NewRepoPG(pool),
		cache:        availability,
		registry:     reg,
		tokens:       tokens,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(d serverDeps) *echo.Echo {
	cfg, logger := d.cfg, d.logger

	scheduleSvc := schedule.NewService(d.schedules, logger)
	var opts []booking.Option
	if d.cache != nil {
		opts = append(opts, booking.WithCache(d.cache))
	}
	bookingSvc := booking.NewService(d.appointments, scheduleSvc, logger, opts...)
	accountSvc := account.NewService(d.accounts, logger)

	booking.RegisterMetrics(d.registry)
	httpMetrics := telemetry.NewHTTPMetrics(d.registry)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware(otel.GetTracerProvider()))
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.BodyLimit(maxBodySize))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"service": "easybook", "version": version})
	})
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	e.GET("/health", db.HealthHandler(d.pinger))
	e.GET("/metrics", telemetry.PrometheusHandler(d.registry))

	api := e.Group("/api/v1")
	account.NewHandler(accountSvc, d.tokens).RegisterRoutes(api)
	booking.NewHandler(bookingSvc).RegisterRoutes(api)
	schedule.NewHandler(scheduleSvc).RegisterRoutes(api)

	return e
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	echopprof "github.com/sevenNt/echo-pprof"
	"github.com/urfave/cli/v2"

	"github.com/opentransit/gtfsrt.tools/pkg/api"
	"github.com/opentransit/gtfsrt.tools/pkg/config"
	"github.com/opentransit/gtfsrt.tools/pkg/feed"
	"github.com/opentransit/gtfsrt.tools/pkg/ingest"
	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

func main() {
	app := cli.App{
		Name:    "gtfsrt-server",
		Usage:   "gtfs-realtime snapshot ingester and read api",
		Version: "0.0.1",
	}

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			Value:   false,
			EnvVars: []string{"GT_DEBUG"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port to serve the http server on",
			Value:   8080,
			EnvVars: []string{"GT_PORT"},
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "path to the sqlite database",
			Value:   "/data/gtfsrt.db",
			EnvVars: []string{"GT_SQLITE_PATH"},
		},
		&cli.BoolFlag{
			Name:    "migrate-db",
			Usage:   "run database migrations",
			Value:   true,
			EnvVars: []string{"GT_MIGRATE_DB"},
		},
		&cli.StringFlag{
			Name:    "provider-config",
			Usage:   "path to the provider registry yaml",
			Value:   "./providers.yaml",
			EnvVars: []string{"GT_PROVIDER_CONFIG"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "interval between feed polls",
			Value:   30 * time.Second,
			EnvVars: []string{"GT_POLL_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "unfinished-snapshot-ttl",
			Usage:   "age after which unfinished snapshots are garbage collected",
			Value:   time.Hour,
			EnvVars: []string{"GT_UNFINISHED_SNAPSHOT_TTL"},
		},
		&cli.Float64Flag{
			Name:    "feed-rate-limit",
			Usage:   "rate limit for feed fetches in requests per second",
			Value:   5,
			EnvVars: []string{"GT_FEED_RATE_LIMIT"},
		},
	}

	app.Action = Server

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// Server is the main function for the ingester and read API
func Server(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	// Logging
	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel, AddSource: true}))
	slog.SetDefault(slog.New(logger.Handler()))

	logger.Info("starting up")

	st, err := store.Open(cctx.String("sqlite-path"), cctx.Bool("migrate-db"))
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}

	cfg, err := config.Load(cctx.String("provider-config"))
	if err != nil {
		logger.Error("failed to load provider config", "error", err)
		return err
	}

	client := feed.NewClient(logger, cctx.Float64("feed-rate-limit"))
	normalizer := ingest.NewNormalizer(logger, st)
	poller := ingest.NewPoller(logger, cfg, client, normalizer, st, cctx.Duration("poll-interval"))

	// Run the poller in a goroutine
	pollerKill := make(chan struct{})
	pollerShutdownFinished := make(chan struct{})
	go func() {
		logger := logger.With("source", "poller")

		logger.Info("starting poller")
		err := poller.Run(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("poller returned an error", "error", err)
			close(pollerKill)
		}
		logger.Info("poller shut down")
		close(pollerShutdownFinished)
	}()

	// Start a goroutine to garbage collect unfinished snapshots left behind
	// by crashes mid-ingest
	shutdownSweeper := make(chan struct{})
	sweeperShutdown := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()

		logger := slog.With("source", "snapshot_sweeper")
		ttl := cctx.Duration("unfinished-snapshot-ttl")

		for {
			select {
			case <-shutdownSweeper:
				logger.Info("shutting down snapshot sweeper")
				close(sweeperShutdown)
				return
			case <-ticker.C:
				n, err := st.DeleteStaleUnfinished(time.Now().Add(-ttl))
				if err != nil {
					logger.Error("failed to sweep unfinished snapshots", "error", err)
				} else if n > 0 {
					logger.Info("swept unfinished snapshots", "count", n)
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(slogecho.New(logger))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace: "gtfsrt",
		HistogramOptsFunc: func(opts prometheus.HistogramOpts) prometheus.HistogramOpts {
			opts.Buckets = prometheus.ExponentialBuckets(0.00001, 2, 20)
			return opts
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "GTFS-RT Snapshots")
	})
	a := api.NewAPI(logger, st)
	a.RegisterRoutes(e)
	echopprof.Wrap(e)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cctx.Int("port")),
		Handler: e,
	}

	// Startup HTTP server
	shutdownHTTPServer := make(chan struct{})
	httpServerShutdown := make(chan struct{})
	go func() {
		logger := logger.With("source", "http_server")

		logger.Info("http server listening on port", "port", cctx.Int("port"))

		go func() {
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("failed to start http server", "error", err)
			}
		}()
		<-shutdownHTTPServer
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down http server", "error", err)
		}
		logger.Info("http server shut down")
		close(httpServerShutdown)
	}()

	// Trap SIGINT to trigger a shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		logger.Info("received signal, shutting down")
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case <-pollerKill:
		logger.Info("shutting down due to poller error")
	}

	logger.Info("shutting down, waiting for routines to finish")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := poller.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down poller", "error", err)
	}
	cancel()
	close(shutdownSweeper)
	close(shutdownHTTPServer)

	<-sweeperShutdown
	<-httpServerShutdown
	<-pollerShutdownFinished
	logger.Info("shutdown complete")

	return nil
}

// Command freshtab is the local wallpaper daemon behind the new tab page. It
// serves the daily wallpaper for each resolution from a durable cache,
// manages user-uploaded and favorited wallpapers, and refreshes stale images
// in the background.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/freshtab/freshtab/custom"
	"github.com/freshtab/freshtab/handle"
	"github.com/freshtab/freshtab/provider"
	"github.com/freshtab/freshtab/server"
	"github.com/freshtab/freshtab/store"
	"github.com/freshtab/freshtab/telemetry"
	"github.com/freshtab/freshtab/wallpaper"
)

var version = "dev"

var cli struct {
	Address             string        `help:"Address to listen on." default:":8087" env:"FRESHTAB_ADDRESS"`
	DataDir             string        `help:"Directory for the wallpaper database." default:"./data" env:"FRESHTAB_DATA_DIR"`
	AuthToken           string        `help:"Bearer token protecting the API. Empty disables auth." env:"FRESHTAB_AUTH_TOKEN"`
	FetchTimeout        time.Duration `help:"Timeout for a single image download." default:"20s" env:"FRESHTAB_FETCH_TIMEOUT"`
	MaintenanceInterval time.Duration `help:"How often cache maintenance runs." default:"6h" env:"FRESHTAB_MAINTENANCE_INTERVAL"`
	LogLevel            string        `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"FRESHTAB_LOG_LEVEL"`
	LogFormat           string        `help:"Log format." enum:"text,json" default:"text" env:"FRESHTAB_LOG_FORMAT"`
	OTLPEndpoint        string        `help:"OTLP gRPC endpoint for metrics export. Empty disables OTLP." env:"FRESHTAB_OTLP_ENDPOINT"`
	Metrics             bool          `help:"Enable the Prometheus /metrics endpoint." env:"FRESHTAB_METRICS"`
	Version             kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("freshtab"),
		kong.Description("Local wallpaper cache daemon for the new tab page."),
		kong.Vars{"version": version},
	)
	kctx.FatalIfErrorf(run())
}

func run() error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.Config{
		ServiceName:      "freshtab",
		ServiceVersion:   version,
		OTLPEndpoint:     cli.OTLPEndpoint,
		EnablePrometheus: cli.Metrics,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	if err := os.MkdirAll(cli.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	db, err := store.Open(filepath.Join(cli.DataDir, "freshtab.db"),
		store.WithLogger(logger.With("component", "store")),
	)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	handles := handle.NewManager(
		handle.WithLogger(logger.With("component", "handles")),
	)

	fetcher := provider.NewFetcher(
		provider.WithTimeout(cli.FetchTimeout),
		provider.WithFetcherLogger(logger.With("component", "fetcher")),
	)

	customs := custom.NewManager(db, db, handles,
		custom.WithFetcher(fetcher),
		custom.WithLogger(logger.With("component", "custom")),
	)

	wallpapers := wallpaper.New(db, db, handles, fetcher,
		wallpaper.WithProviders(provider.NewPicsum(), provider.NewLoremFlickr()),
		wallpaper.WithCustomSource(customs),
		wallpaper.WithMaintenanceInterval(cli.MaintenanceInterval),
		wallpaper.WithLogger(logger.With("component", "wallpaper")),
	)

	go wallpapers.Run(ctx)

	srv := server.New(server.Config{
		Address:   cli.Address,
		AuthToken: cli.AuthToken,
		Logger:    logger.With("component", "server"),
	}, wallpapers, customs, handles)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("freshtab started",
		"version", version,
		"address", srv.Address(),
		"data_dir", cli.DataDir,
		"maintenance_interval", cli.MaintenanceInterval,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		wallpapers.Close()
		_ = db.Close()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	wallpapers.Close()
	if err := db.Close(); err != nil {
		logger.Warn("store close", "error", err)
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", "error", err)
	}
	return nil
}

func buildLogger() (*slog.Logger, error) {
	var level slog.Level
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cli.LogLevel)
	}

	var handler slog.Handler
	switch cli.LogFormat {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", cli.LogFormat)
	}
	return slog.New(handler), nil
}

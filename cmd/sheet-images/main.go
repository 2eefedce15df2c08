package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/sheet-images/internal/api/handlers/image"
	"github.com/aliskhannn/sheet-images/internal/api/router"
	"github.com/aliskhannn/sheet-images/internal/api/server"
	"github.com/aliskhannn/sheet-images/internal/cache"
	"github.com/aliskhannn/sheet-images/internal/config"
	"github.com/aliskhannn/sheet-images/internal/infra/kafka/producer"
	"github.com/aliskhannn/sheet-images/internal/infra/web"
	"github.com/aliskhannn/sheet-images/internal/processor"
	"github.com/aliskhannn/sheet-images/internal/service/build"
	"github.com/aliskhannn/sheet-images/internal/sheet"
	"github.com/aliskhannn/sheet-images/internal/storage/file"
	"github.com/aliskhannn/sheet-images/internal/storage/s3"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	serve := pflag.Bool("serve", false, "serve the preview API instead of running one build")
	pflag.Parse()

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad(*configPath)

	anchor, err := processor.ParseAnchor(cfg.Image.Anchor)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid crop anchor")
	}
	mode, err := cache.ParseMode(cfg.Cache.Mode)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid cache mode")
	}

	// Output directory is created once, up front.
	files, err := file.NewStorage(cfg.Output.Dir)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to prepare output directory")
	}

	// Retry strategy for the mirror and the notifier. Source fetches are never retried.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	client := web.New(cfg.HTTP.UserAgent, cfg.HTTP.Timeout)
	imageProcessor := processor.New(processor.Options{
		Width:  cfg.Image.Width,
		Height: cfg.Image.Height,
		Anchor: anchor,
		Watermark: processor.Watermark{
			Text:     cfg.Watermark.Text,
			FontPath: cfg.Watermark.FontPath,
		},
	})

	settings := build.Settings{
		SheetID: cfg.Sheet.ID,
		Tab:     cfg.Sheet.Tab,
		Column:  cfg.Sheet.SourceColumn,
		Policy: cache.Policy{
			Width:  cfg.Image.Width,
			Height: cfg.Image.Height,
			Force:  cfg.Cache.Force,
			Mode:   mode,
		},
	}
	service := build.NewService(settings, sheet.NewFetcher(client, cfg.Sheet.BaseURL), client, imageProcessor, files)

	if cfg.Storage.Enabled() {
		mirror, err := s3.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
			cfg.Storage.BucketName, cfg.Storage.Prefix, cfg.Storage.UseSSL, strategy)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
		}
		service.SetMirror(mirror)
	}

	if cfg.Kafka.Enabled() {
		p := producer.New(&cfg.Kafka, strategy)
		defer func() {
			if err := p.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		service.SetNotifier(p)
	}

	if *serve {
		runServer(ctx, cfg.Server.HTTPPort, image.NewHandler(service, files))
		return
	}

	if _, err := service.Run(ctx); err != nil {
		var se *web.StatusError
		if errors.As(err, &se) {
			zlog.Logger.Fatal().Err(err).Str("tab", cfg.Sheet.Tab).Int("status", se.Code).Str("body", se.Body).Msg("csv fetch failed")
		}
		zlog.Logger.Fatal().Err(err).Str("tab", cfg.Sheet.Tab).Msg("build failed")
	}
}

// runServer serves the preview API until ctx is canceled.
func runServer(ctx context.Context, addr string, h *image.Handler) {
	s := server.New(addr, router.Setup(h))
	go func() {
		zlog.Logger.Info().Str("addr", addr).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ictyield/backend/internal/api"
	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/config"
	"github.com/ictyield/backend/internal/logging"
	"github.com/ictyield/backend/internal/session"
	"github.com/ictyield/backend/internal/storage"
	"github.com/ictyield/backend/internal/store"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve ICT/FCT yield analysis over HTTP",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				exePath, err := os.Executable()
				if err != nil {
					return fmt.Errorf("failed to get executable path: %w", err)
				}
				configPath = filepath.Join(filepath.Dir(exePath), "ictyield.config.xml")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "XML config file (created with defaults if missing)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Advanced.LogLevel, cfg.Advanced.ConsoleLog)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, cfg.AllowedExtensions()...)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var source catalog.Source
	if cfg.Storage.CatalogFile != "" {
		cat, err := catalog.LoadFile(cfg.Storage.CatalogFile)
		if err != nil {
			return fmt.Errorf("failed to load product catalog: %w", err)
		}
		log.Info().Str("file", cfg.Storage.CatalogFile).Int("products", len(cat.Products)).Msg("product catalog loaded")
		source = cat
	}

	var mirror *store.MeasurementStore
	if cfg.Processing.EnableMeasurementStore {
		mirror, err = store.OpenWithOptions(store.Options{
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			BatchSize:   cfg.Processing.StoreBatchSize,
		})
		if err != nil {
			return err
		}
		defer mirror.Close()
	}

	manager := session.NewManager(source, mirror, session.WithParallelism(cfg.Processing.MaxConcurrentParses))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	var origins []string
	if cfg.Server.EnableCORS {
		for _, o := range strings.Split(cfg.Server.AllowOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) == 0 {
			origins = []string{"*"}
		}
	}
	api.SetupMiddleware(e, api.MiddlewareOptions{
		CORSOrigins:    origins,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		BodyLimit:      cfg.Server.BodyLimit,
		GzipLevel:      gzipLevel(cfg),
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:    fileStore,
		Analyzer: manager,
		Version:  Version,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	log.Info().
		Str("version", Version).
		Str("build", BuildTime).
		Str("config", configPath).
		Str("listen", "http://"+cfg.GetServerAddr()).
		Str("data", cfg.Storage.DataDirectory).
		Bool("sql_mirror", mirror != nil).
		Msg("ICT yield analyzer starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	manager.Wait()
	return nil
}

func gzipLevel(cfg *config.AppConfig) int {
	if !cfg.Processing.EnableCompression {
		return 0
	}
	return cfg.Processing.CompressionLevel
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ashcz/coinwatch/internal/api"
	"github.com/ashcz/coinwatch/internal/app"
	"github.com/ashcz/coinwatch/internal/app/maintenance"
	"github.com/ashcz/coinwatch/internal/database"
	"github.com/ashcz/coinwatch/internal/markets"
	"github.com/ashcz/coinwatch/internal/markets/coingecko"
	"github.com/ashcz/coinwatch/internal/posts"
	"github.com/ashcz/coinwatch/internal/realtime"
	"github.com/ashcz/coinwatch/internal/services"
	"github.com/ashcz/coinwatch/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("coinwatch-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	hub := realtime.NewHub()

	favoritesSvc, err := services.NewFavoritesService(db, hub)
	if err != nil {
		return fmt.Errorf("initialise favorites service: %w", err)
	}
	postFavoritesSvc, err := services.NewPostFavoritesService(db, hub)
	if err != nil {
		return fmt.Errorf("initialise post favorites service: %w", err)
	}
	settingsSvc, err := services.NewSettingsService(db)
	if err != nil {
		return fmt.Errorf("initialise settings service: %w", err)
	}

	store, err := markets.NewStore(db)
	if err != nil {
		return fmt.Errorf("initialise snapshot store: %w", err)
	}

	remote := coingecko.New(cfg.CoinGecko.ClientConfig())
	engine, err := markets.NewEngine(remote, store, markets.WithQuoteSink(favoritesSvc))
	if err != nil {
		return fmt.Errorf("initialise markets engine: %w", err)
	}

	postsClient := posts.New(cfg.Posts.ClientConfig())

	if cfg.Markets.Retention.Enabled {
		pruner := maintenance.NewPruner(db,
			maintenance.WithMaxAge(cfg.Markets.Retention.MaxAge),
			maintenance.WithSnapshotSchedule(cfg.Markets.Retention.Schedule),
		)
		if err := pruner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			if err := pruner.Shutdown(); err != nil {
				log.Warn("maintenance shutdown pruning failed", zap.Error(err))
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		DB:            db,
		Engine:        engine,
		Store:         store,
		Posts:         postsClient,
		Favorites:     favoritesSvc,
		PostFavorites: postFavoritesSvc,
		Settings:      settingsSvc,
		Hub:           hub,
		EnableMetrics: cfg.Monitoring.Prometheus.Enabled,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.OpenAndMigrate(cfg.Database.DatabaseSettings())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(cfg.Database.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("close database failed", zap.Error(err))
	}
}

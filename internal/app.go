package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/marginalia/internal/cache"
	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/marginalia"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/storage"
)

// App is the wired application shared by the server and the CLI commands.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Store   storage.Provider
	DB      index.AnnotationIndex
	Broker  *sse.Broker
	Service *marginalia.Service
}

// Open wires storage, the SQLite index and the service, restores the
// persisted cache and performs the first aggregate scan.
func Open(ctx context.Context, opts ...Option) (*App, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	broker := sse.NewBroker(2 * time.Second)
	svc := marginalia.New(store, logger,
		marginalia.WithCacheOptions(
			cache.WithParserOptions(cfg.Annotations.ParserOptions()),
			cache.WithIgnoredFolders(cfg.Vault.IgnoredFolders...),
			cache.WithPersister(db),
		),
		marginalia.WithReviewStore(db.Reviews()),
		marginalia.WithStatsStore(db),
		marginalia.WithSearcher(db),
		marginalia.WithCaptureConfig(cfg.Capture.Service(cfg.Vault.AttachmentsDir)),
		marginalia.WithNotifier(broker),
	)

	a := &App{Config: cfg, Logger: logger, Store: store, DB: db, Broker: broker, Service: svc}
	if err := svc.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("initial scan: %w", err)
	}
	return a, nil
}

// Close releases the broker and the database.
func (a *App) Close() error {
	a.Broker.Close()
	return a.DB.Close()
}

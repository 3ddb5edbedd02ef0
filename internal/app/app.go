package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/linkgrove/linkgrove/internal/config"
	"github.com/linkgrove/linkgrove/internal/server"
	"github.com/linkgrove/linkgrove/internal/shortener"
	"github.com/linkgrove/linkgrove/migrations"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DBPool  *pgxpool.Pool
	Server  *server.Server
	Handler *shortener.Handler
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := setupLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	logger.Info("starting application",
		zap.String("env", cfg.App.Environment),
		zap.String("version", cfg.App.ServiceVersion),
	)

	if err := migrateDatabase(cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	dbPool, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := shortener.NewRepository(dbPool)
	svc := shortener.NewService(repo, &shortener.ServiceConfig{
		MinGroupURLs: cfg.App.MinGroupURLs,
	})
	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: cfg.Server.BaseURL,
	})

	srv := server.New(cfg, logger, handler)

	logger.Info("application initialized",
		zap.String("port", cfg.Server.Port),
		zap.String("base_url", cfg.Server.BaseURL),
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		DBPool:  dbPool,
		Server:  srv,
		Handler: handler,
	}, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	_ = a.Logger.Sync()
	return nil
}

// loadEnv loads the .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		logLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	return cfg.Build()
}

// migrateDatabase applies pending schema migrations over a short-lived
// database/sql connection.
func migrateDatabase(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	if err := migrations.Up(db); err != nil {
		return err
	}

	logger.Info("database migrations applied")
	return nil
}

// connectDatabase establishes a connection pool to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

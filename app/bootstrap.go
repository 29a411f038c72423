package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"finlink/internal/auth"
	"finlink/internal/banking"
	"finlink/internal/db"
	"finlink/internal/maintenance"
	"finlink/internal/oauthstate"
	"finlink/internal/observability"
	"finlink/internal/provider"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	providerCfg, err := provider.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	appEnv := envOrDefault("APP_ENV", "development")
	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), appEnv); err != nil {
		logger.Warn("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		applied, err := db.RunMigrations(database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if applied > 0 {
			logger.Info("migrations_applied", map[string]any{"count": applied})
		}
	}

	repo := banking.NewRepository(database)
	states := oauthstate.NewStore(envMinutesOrDefault("OAUTH_STATE_TTL_MINUTES", 10))
	tokenClient := provider.NewTokenClient(providerCfg)
	dataClient := provider.NewDataClient(providerCfg)
	tokenManager := banking.NewTokenManager(repo, tokenClient)
	pipeline := banking.NewPipeline(repo)

	bankingService := banking.NewService(providerCfg, states, tokenClient, dataClient, tokenManager, pipeline, repo, logger)
	bankingHandler := banking.NewHandler(bankingService, logger, appEnv != "production")

	cleanupHandler := maintenance.NewCleanupHandler(states, logger, os.Getenv("CRON_SECRET"))
	issueLimiter := oauthstate.NewIssueLimiter(
		envIntOrDefault("AUTH_URL_RATE_LIMIT_MAX", 20),
		envSecondsOrDefault("AUTH_URL_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /banking/auth-url", issueLimiter.Middleware(http.HandlerFunc(bankingHandler.AuthURL)))
	mux.HandleFunc("GET /banking/auth/callback", bankingHandler.Callback)
	mux.Handle("POST /banking/connect", auth.Middleware(jwtSecret, http.HandlerFunc(bankingHandler.Connect)))
	mux.Handle("GET /banking/access-token", auth.Middleware(jwtSecret, http.HandlerFunc(bankingHandler.AccessToken)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

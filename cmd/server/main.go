package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	apihttp "moviestream/searchgateway/internal/api/http"
	"moviestream/searchgateway/internal/app"
	"moviestream/searchgateway/internal/backend"
	"moviestream/searchgateway/internal/history"
	"moviestream/searchgateway/internal/lastquery"
	"moviestream/searchgateway/internal/metrics"
	"moviestream/searchgateway/internal/session"
	"moviestream/searchgateway/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "search-gateway", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "search-gateway"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("backend", cfg.BackendBaseURL),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("dispatchTimeout", cfg.DispatchTimeout),
		slog.Duration("debounceDelay", cfg.DebounceDelay),
		slog.Int("pageSize", cfg.PageSize),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
	)

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:   cfg.BackendBaseURL,
		UserAgent: cfg.UserAgent,
		Client: &http.Client{
			Timeout:   cfg.DispatchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Limiter: rate.NewLimiter(rate.Limit(cfg.BackendRPS), cfg.BackendBurst),
	})
	if err != nil {
		logger.Error("backend client init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	historyManager := history.NewManager(backendClient, logger)
	lastQueryStore := buildLastQueryStore(cfg, logger)

	sessions := session.NewManager(session.ManagerConfig{
		Searcher:        backendClient,
		History:         historyManager,
		LastQuery:       lastQueryStore,
		Logger:          logger,
		DispatchTimeout: cfg.DispatchTimeout,
		DebounceDelay:   cfg.DebounceDelay,
		EditingQuiet:    cfg.EditingQuiet,
		SuggestionLimit: cfg.SuggestionLimit,
		PageSize:        cfg.PageSize,
		IdleTTL:         cfg.SessionIdleTTL,
		MaxInFlight:     int64(cfg.MaxInFlight),
	})

	handler := apihttp.NewServer(sessions,
		apihttp.WithLogger(logger),
		apihttp.WithHistory(historyManager),
		apihttp.WithRateLimit(cfg.InboundRateRPS, cfg.InboundRateBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE streams (/sessions/{id}/events) stay open for the life of a
		// session; keep write timeouts disabled at the server level.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sessions.StartJanitor(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("search gateway started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("dispatchTimeout", cfg.DispatchTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	sessions.Shutdown()
	logger.Info("search gateway stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLastQueryStore prefers Redis so the last submitted query survives
// restarts; with no Redis configured it degrades to the in-process store.
func buildLastQueryStore(cfg app.Config, logger *slog.Logger) lastquery.Store {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return lastquery.NewMemoryStore(cfg.LastQueryTTL)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory last-query store", slog.String("error", err.Error()))
		return lastquery.NewMemoryStore(cfg.LastQueryTTL)
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	store := lastquery.NewRedisStore(client, cfg.LastQueryTTL)
	if err := store.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, using in-memory last-query store", slog.String("error", err.Error()))
		return lastquery.NewMemoryStore(cfg.LastQueryTTL)
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return store
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/groombook/groombook/libs/auth"
	"github.com/groombook/groombook/libs/config"
	"github.com/groombook/groombook/libs/db"
	"github.com/groombook/groombook/libs/httpx"
	"github.com/groombook/groombook/libs/kafkax"
	otelx "github.com/groombook/groombook/libs/otel"
	"github.com/groombook/groombook/libs/runtime"
	"github.com/groombook/groombook/services/booking-service/internal/booking"
	"github.com/groombook/groombook/services/booking-service/internal/calendar"
	"github.com/groombook/groombook/services/booking-service/internal/handlers"
	"github.com/groombook/groombook/services/booking-service/internal/metrics"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/groombook/groombook/services/booking-service/internal/policy"
	"github.com/groombook/groombook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	rules, err := policy.Load(config.String("POLICY_FILE", ""))
	if err != nil {
		logger.Error("policy load failed", "err", err)
		os.Exit(1)
	}
	logger.Info("booking rules loaded",
		"timezone", rules.Location.String(),
		"open", rules.Open.String(),
		"close", rules.Close.String(),
		"strict_groomer", rules.StrictGroomer,
		"prevent_overlap", rules.PreventOverlap,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("groombook", reg)

	var store storage.Store
	var checks []runtime.ReadyCheck
	switch config.String("STORE", "postgres") {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		store = storage.NewMemory()
	default:
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			logger.Error("config error", "err", err)
			os.Exit(1)
		}
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
			MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository()
		store = storage.NewPostgres(pool, outboxRepo)

		brokers := config.String("KAFKA_BROKERS", "")
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
			OnPublish: m.IncPublished,
		})
		go publisher.Run(ctx)

		checks = append(checks,
			runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		)
	}

	limiter, limiterCheck := newLimiter(logger)
	checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: limiterCheck})

	hooks := booking.NewHooks(logger)
	for _, t := range []booking.EventType{booking.AppointmentCreated, booking.AppointmentCancelled, booking.AppointmentCompleted} {
		hooks.Subscribe(t, func(_ context.Context, evt booking.Event) error {
			logger.Debug("appointment event", "type", evt.Type, "appointment_id", evt.Appointment.ID, "loyalty_balance", evt.LoyaltyBalance)
			return nil
		})
	}

	svc := booking.NewService(booking.Config{
		Store:   store,
		Rules:   rules,
		Logger:  logger,
		Hooks:   hooks,
		Metrics: m,
	})
	bookingHandler := handlers.NewBookingHandler(svc, calendar.New(store, rules, nil), rules, logger)

	verifier := &auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if url := config.String("JWKS_URL", ""); url != "" {
		verifier.JWKS = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 10*time.Minute))
	}
	if !verifier.Enabled() {
		logger.Warn("jwt verification disabled; trusting gateway identity headers")
	}

	rateLimit := httpx.WithRateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	bodyLimit := httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20)))

	api := http.NewServeMux()
	bookingHandler.Register(api)
	public := http.NewServeMux()
	bookingHandler.RegisterPublic(public)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/api/", httpx.Chain(api, rateLimit, verifier.RequireAuth, bodyLimit))
	publicHandler := httpx.Chain(public, rateLimit)
	mux.Handle("/api/v1/public/", publicHandler)
	mux.Handle("/api/v1/calendar/density", publicHandler)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: httpx.SplitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	hooks.Wait()
	logger.Info("http server stopped")
}

// newLimiter returns a Redis limiter shared across replicas when REDIS_ADDR
// is set and a per-process limiter otherwise.
func newLimiter(logger *slog.Logger) (httpx.Limiter, func(context.Context) error) {
	limit := config.Int("RATE_LIMIT_PER_WINDOW", 120)
	window := config.Duration("RATE_LIMIT_WINDOW", time.Minute)

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewMemoryRateLimiter(limit, window), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	logger.Info("rate limiter backed by redis", "addr", addr)
	return httpx.NewRedisRateLimiter(rdb, limit, window, "groombook:rl"), httpx.RedisReadyCheck(rdb)
}

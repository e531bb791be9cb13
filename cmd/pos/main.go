package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/kasir-pos/internal/backend"
	"github.com/noah-isme/kasir-pos/internal/catalog"
	"github.com/noah-isme/kasir-pos/internal/checkout"
	"github.com/noah-isme/kasir-pos/internal/common"
	"github.com/noah-isme/kasir-pos/internal/config"
	"github.com/noah-isme/kasir-pos/internal/health"
	"github.com/noah-isme/kasir-pos/internal/httpapi"
	"github.com/noah-isme/kasir-pos/internal/obs"
	"github.com/noah-isme/kasir-pos/internal/payment"
	"github.com/noah-isme/kasir-pos/internal/pos"
	"github.com/noah-isme/kasir-pos/internal/qris"
	"github.com/noah-isme/kasir-pos/internal/ratelimit"
	"github.com/noah-isme/kasir-pos/internal/resilience"
	"github.com/noah-isme/kasir-pos/internal/scanner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("terminal_id", cfg.TerminalID).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, registry)
	if err := resilience.RegisterMetrics(registry); err != nil {
		logger.Fatal().Err(err).Msg("register upstream metrics")
	}
	httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.LatencyBuckets), registry)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			Enabled:       true,
			ServiceName:   "kasir-pos",
			TerminalID:    cfg.TerminalID,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	redisClient := connectRedis(cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	guard, err := ratelimit.NewGuard(limiterStore(redisClient, logger), map[ratelimit.Action]string{
		ratelimit.ActionQrisGenerate: cfg.RateLimitQrisGenerate,
		ratelimit.ActionQrisCheck:    cfg.RateLimitQrisCheck,
		ratelimit.ActionQrisCancel:   cfg.RateLimitQrisCancel,
		ratelimit.ActionGatewayTest:  "3-M",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure rate limits")
	}

	backendClient, err := backend.New(backend.Config{
		BaseURL:      cfg.BackendURL,
		SessionToken: cfg.BackendSessionToken,
		HTTP:         upstreamClient(cfg, "backend", logger),
		Logger:       logger.With().Str("component", "backend").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure backend client")
	}

	var gateway qris.Gateway = backendClient
	if cfg.QrisGateway == config.GatewayMidtrans {
		midtrans, err := payment.NewMidtrans(payment.MidtransConfig{
			ServerKey:     cfg.MidtransServerKey,
			BaseURL:       cfg.MidtransBaseURL,
			HTTP:          upstreamClient(cfg, "midtrans", logger),
			Guard:         guard,
			RateKey:       cfg.TerminalID,
			MinAmount:     cfg.QrisMinAmount,
			DefaultExpiry: cfg.QrisDefaultExpiry,
			Logger:        logger.With().Str("component", "midtrans").Logger(),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("configure midtrans gateway")
		}
		if err := midtrans.TestConnection(ctx); err != nil {
			logger.Warn().Err(err).Msg("midtrans connection test failed")
		}
		gateway = midtrans
	}

	products, err := catalog.NewService(catalog.ServiceConfig{
		Source: backendClient,
		Cache:  catalog.NewCache(redisClient, cfg.ProductCacheTTL).WithPrefix("pos:" + cfg.TerminalID + ":product:barcode:"),
		Logger: logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure catalog")
	}

	checkoutSvc := &checkout.Service{
		Submitter: backendClient,
		Printer:   backendClient,
		Logger:    logger.With().Str("component", "checkout").Logger(),
	}

	inbox := pos.NewInbox(pos.DefaultInboxSize)
	terminal, err := pos.NewTerminal(pos.Config{
		Products:  products,
		Discounts: backendClient,
		Settings:  backendClient,
		Checkout:  checkoutSvc,
		Notifier:  inbox,
		Logger:    logger.With().Str("component", "terminal").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure terminal")
	}

	qrisCtrl, err := qris.NewController(qris.ControllerConfig{
		Gateway: gateway,
		Poller: qris.PollerConfig{
			Interval:  cfg.QrisPollInterval,
			WarnAfter: cfg.QrisWarnAfter,
		},
		Logger:    logger.With().Str("component", "qris").Logger(),
		OnSettled: terminal.QrisSettled,
		OnExpired: terminal.QrisExpired,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure qris")
	}
	terminal.AttachQris(qrisCtrl)

	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.BackendTimeout)
	terminal.Load(loadCtx)
	cancelLoad()

	go func() {
		if err := qrisCtrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("qris controller stopped")
		}
	}()
	events, unsubscribe := qrisCtrl.Poller().Subscribe(8)
	defer unsubscribe()
	go terminal.WatchQris(ctx, events)

	keyboard := scanner.NewKeyboard(cfg.ScannerDebounce)
	detach := keyboard.Subscribe(terminal.ScanHandler(ctx, cfg.BackendTimeout))
	defer detach()

	healthHandler := health.Handler{
		Checker:        readinessChecker{backend: backendClient, redis: redisClient},
		BackendTimeout: 2 * time.Second,
		RedisTimeout:   300 * time.Millisecond,
		Degraded:       map[string]bool{"redis": true},
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handler: &httpapi.Handler{
			Terminal: terminal,
			Keys:     keyboard,
			Inbox:    inbox,
			Logger:   logger,
		},
		Health:         healthHandler,
		Logger:         logger,
		TerminalID:     cfg.TerminalID,
		Metrics:        httpMetrics,
		Gatherer:       registry,
		Tracing:        tracingEnabled,
		Idem:           common.Idem{R: redisClient, TTL: 10 * time.Minute, Prefix: "pos:" + cfg.TerminalID + ":idem:"},
		Guard:          guard,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.HTTPMaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("qris_gateway", cfg.QrisGateway).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	checkoutSvc.Wait()
}

func connectRedis(cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Info().Msg("redis not configured, using in-memory rate limits without product cache")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	return client
}

func limiterStore(rdb *redis.Client, logger zerolog.Logger) limiter.Store {
	if rdb != nil {
		store, err := ratelimit.NewRedisStore(rdb, "")
		if err == nil {
			return store
		}
		logger.Warn().Err(err).Msg("redis rate limit store unavailable, falling back to memory")
	}
	return ratelimit.NewMemoryStore("")
}

func upstreamClient(cfg *config.Config, target string, logger zerolog.Logger) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       target,
			MinRequests:  cfg.CircuitMinRequests,
			FailureRatio: cfg.CircuitFailureRatio,
			OpenFor:      cfg.CircuitOpenFor,
			Logger:       logger.With().Str("component", "breaker").Logger(),
		}),
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: cfg.BackendMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.BackendTimeout,
	}
}

type readinessChecker struct {
	backend *backend.Client
	redis   *redis.Client
}

func (c readinessChecker) PingBackend(ctx context.Context) error {
	if c.backend == nil {
		return backend.ErrNotConfigured
	}
	return c.backend.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	return c.redis.Ping(ctx).Err()
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-pos/internal/common"
	"github.com/noah-isme/kasir-pos/internal/health"
	"github.com/noah-isme/kasir-pos/internal/obs"
	"github.com/noah-isme/kasir-pos/internal/ratelimit"
	"github.com/noah-isme/kasir-pos/internal/security"
)

// RouterConfig collects the middleware and handlers mounted on the router.
type RouterConfig struct {
	Handler    *Handler
	Health     health.Handler
	Logger     zerolog.Logger
	TerminalID string

	Metrics  *obs.HTTPMetrics
	Gatherer prometheus.Gatherer
	Tracing  bool

	Idem           common.Idem
	Guard          *ratelimit.Guard
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// NewRouter builds the local API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Tracing {
		r.Use(obs.Tracing{TerminalID: cfg.TerminalID}.Middleware)
	}
	if cfg.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger, TerminalID: cfg.TerminalID}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", common.IdempotencyHeader, common.TerminalHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	h := cfg.Handler
	limit := func(action ratelimit.Action) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Guard:  cfg.Guard,
			Action: action,
			OnError: func(err error) {
				cfg.Logger.Warn().Err(err).Str("action", string(action)).Msg("rate limit store unavailable")
			},
		}.Middleware
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(obs.RoutePatternMiddleware)

		v.Route("/cart", func(c chi.Router) {
			c.Get("/", h.Cart)
			c.Delete("/", h.ClearCart)
			c.Post("/items", h.AddItem)
			c.Patch("/items/{productId}", h.UpdateItem)
			c.Delete("/items/{productId}", h.RemoveItem)
			c.Put("/discount", h.SelectDiscount)
			c.Delete("/discount", h.ClearDiscount)
		})

		v.Get("/discounts", h.Discounts)
		v.Post("/discounts/reload", h.ReloadDiscounts)

		v.Post("/scanner/keys", h.ScanKey)
		v.Post("/scanner/barcode", h.ScanBarcode)

		v.With(cfg.Idem.Middleware).Post("/checkout", h.Checkout)
		v.Get("/receipts/last", h.LastReceipt)

		v.Route("/qris", func(q chi.Router) {
			q.With(limit(ratelimit.ActionQrisGenerate)).Post("/", h.StartQris)
			q.Get("/", h.QrisStatus)
			q.With(limit(ratelimit.ActionQrisCancel)).Delete("/", h.CancelQris)
			q.With(limit(ratelimit.ActionQrisGenerate)).Post("/regenerate", h.RegenerateQris)
			q.With(limit(ratelimit.ActionQrisCheck)).Post("/refresh", h.RefreshQris)
		})

		v.Get("/notifications", h.Notifications)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return origins
}

package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/kasir-pos/internal/common"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness flag; main clears it when shutdown begins so
// the UI stops sending work.
func SetReady(v bool) {
	ready.Store(v)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingBackend(ctx context.Context) error
	PingRedis(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	BackendTimeout time.Duration
	RedisTimeout   time.Duration
	// Degraded lists dependencies whose failure is reported without failing
	// readiness, e.g. an optional cache.
	Degraded map[string]bool
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeUpstreamUnavailable, "dependencies unavailable", nil)
		return
	}
	status := map[string]string{
		"backend": probe(r.Context(), h.backendTimeout(), h.Checker.PingBackend),
		"redis":   probe(r.Context(), h.redisTimeout(), h.Checker.PingRedis),
	}
	code := http.StatusOK
	for name, s := range status {
		if s != "ok" && !h.Degraded[name] {
			code = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, status)
}

func probe(ctx context.Context, timeout time.Duration, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) backendTimeout() time.Duration {
	if h.BackendTimeout <= 0 {
		return 2 * time.Second
	}
	return h.BackendTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

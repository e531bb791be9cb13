package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/kasir-pos/internal/common"
)

// Handler enforces one Guard action before delegating to the next handler.
type Handler struct {
	Guard   *Guard
	Action  Action
	Key     func(*http.Request) string
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Guard == nil {
			next.ServeHTTP(w, r)
			return
		}
		keyFn := h.Key
		if keyFn == nil {
			keyFn = common.ClientKey
		}
		decision, err := h.Guard.Hit(r.Context(), h.Action, keyFn(r))
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		if decision.Limit > 0 {
			headers := w.Header()
			headers.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			headers.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter(time.Now()).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "Terlalu banyak permintaan, coba lagi nanti", map[string]any{
				"action":     h.Action,
				"retryAfter": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

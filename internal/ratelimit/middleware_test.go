package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-pos/internal/common"
)

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "test")
	require.NoError(t, err)
	guard, err := NewGuard(store, map[Action]string{ActionQrisGenerate: "1-M"})
	require.NoError(t, err)

	handler := Handler{Guard: guard, Action: ActionQrisGenerate}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/qris", nil)
	req.Header.Set(common.TerminalHeader, "till-1")

	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusCreated, rr1.Code)
	require.Equal(t, "1", rr1.Header().Get("X-RateLimit-Limit"))

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Contains(t, rr2.Body.String(), common.CodeRateLimited)
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))

	other := req.Clone(req.Context())
	other.Header.Set(common.TerminalHeader, "till-2")
	rr3 := httptest.NewRecorder()
	counted.ServeHTTP(rr3, other)
	require.Equal(t, http.StatusCreated, rr3.Code)
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client, "err")
	require.NoError(t, err)
	guard, err := NewGuard(store, map[Action]string{ActionQrisCheck: "5-M"})
	require.NoError(t, err)
	mr.Close()

	called := false
	handler := Handler{Guard: guard, Action: ActionQrisCheck, OnError: func(error) { called = true }}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/qris", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestGuardAllowWithMemoryStore(t *testing.T) {
	guard, err := NewGuard(NewMemoryStore(""), map[Action]string{ActionQrisCancel: "2-H"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, guard.Allow(ctx, ActionQrisCancel, "till-1"))
	require.NoError(t, guard.Allow(ctx, ActionQrisCancel, "till-1"))
	err = guard.Allow(ctx, ActionQrisCancel, "till-1")
	require.ErrorIs(t, err, ErrLimited)

	var limited *LimitedError
	require.True(t, errors.As(err, &limited))
	require.EqualValues(t, 2, limited.Decision.Limit)

	require.NoError(t, guard.Allow(ctx, ActionQrisGenerate, "till-1"), "unconfigured actions pass")
}

func TestNilGuardAllows(t *testing.T) {
	var guard *Guard
	require.NoError(t, guard.Allow(context.Background(), ActionQrisCheck, "x"))
}

func TestNewGuardRejectsMalformedRate(t *testing.T) {
	_, err := NewGuard(NewMemoryStore(""), map[Action]string{ActionQrisCheck: "ten-per-minute"})
	require.Error(t, err)
}

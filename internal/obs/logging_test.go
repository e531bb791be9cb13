package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerToFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "json", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Str("order_id", "QRIS-1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["message"])
	require.Equal(t, "QRIS-1", line["order_id"])
}

func TestRequestLoggerWritesRouteAndStatus(t *testing.T) {
	var buf bytes.Buffer
	rl := RequestLogger{Logger: NewLoggerTo(&buf, "json", "info"), TerminalID: "kasir-01"}
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
	req = req.WithContext(WithRoutePattern(req.Context(), "/api/v1/cart/items"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "/api/v1/cart/items", line["route"])
	require.EqualValues(t, 201, line["status"])
	require.EqualValues(t, 2, line["bytes"])
	require.Equal(t, "kasir-01", line["terminal_id"])
}

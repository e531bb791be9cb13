package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/kasir-pos/internal/money"
	"github.com/noah-isme/kasir-pos/internal/obs"
	"github.com/noah-isme/kasir-pos/internal/qris"
	"github.com/noah-isme/kasir-pos/internal/ratelimit"
	"github.com/noah-isme/kasir-pos/internal/resilience"
)

const (
	gatewayName = "midtrans"

	DefaultSandboxURL    = "https://api.sandbox.midtrans.com"
	DefaultProductionURL = "https://api.midtrans.com"
)

// MinimumQrisAmount is the smallest charge QRIS accepts, in rupiah.
var MinimumQrisAmount = decimal.NewFromInt(1500)

// MidtransConfig groups Midtrans dependencies.
type MidtransConfig struct {
	ServerKey string
	BaseURL   string
	HTTP      *resilience.HTTPClient
	// Guard limits generate, check and cancel calls per RateKey.
	Guard         *ratelimit.Guard
	RateKey       string
	MinAmount     decimal.Decimal
	DefaultExpiry time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
	NewOrderID    func(time.Time) string
}

// Midtrans is a QRIS gateway over the Midtrans Core API.
type Midtrans struct {
	serverKey     string
	baseURL       string
	http          *resilience.HTTPClient
	guard         *ratelimit.Guard
	rateKey       string
	minAmount     decimal.Decimal
	defaultExpiry time.Duration
	logger        zerolog.Logger
	now           func() time.Time
	newOrderID    func(time.Time) string
}

var _ qris.Gateway = (*Midtrans)(nil)

// NewMidtrans validates cfg and constructs the gateway.
func NewMidtrans(cfg MidtransConfig) (*Midtrans, error) {
	if err := ValidateServerKey(cfg.ServerKey); err != nil {
		return nil, err
	}
	if cfg.HTTP == nil {
		return nil, errors.New("payment: http client is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultProductionURL
		if Sandbox(cfg.ServerKey) {
			base = DefaultSandboxURL
		}
	}
	m := &Midtrans{
		serverKey:     strings.TrimSpace(cfg.ServerKey),
		baseURL:       base,
		http:          cfg.HTTP,
		guard:         cfg.Guard,
		rateKey:       cfg.RateKey,
		minAmount:     cfg.MinAmount,
		defaultExpiry: cfg.DefaultExpiry,
		logger:        cfg.Logger,
		now:           cfg.Now,
		newOrderID:    cfg.NewOrderID,
	}
	if m.minAmount.IsZero() {
		m.minAmount = MinimumQrisAmount
	}
	if m.defaultExpiry <= 0 {
		m.defaultExpiry = qris.DefaultExpiry
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newOrderID == nil {
		m.newOrderID = NewOrderID
	}
	if m.rateKey == "" {
		m.rateKey = "default"
	}
	return m, nil
}

// NewOrderID builds QRIS-<UTC timestamp>-<8 chars of a random UUID>.
func NewOrderID(now time.Time) string {
	return fmt.Sprintf("QRIS-%s-%s", now.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

type chargeRequest struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails transactionDetails `json:"transaction_details"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type chargeResponse struct {
	StatusCode        string   `json:"status_code"`
	StatusMessage     string   `json:"status_message"`
	TransactionID     string   `json:"transaction_id"`
	OrderID           string   `json:"order_id"`
	TransactionStatus string   `json:"transaction_status"`
	Actions           []action `json:"actions"`
	ExpiryTime        string   `json:"expiry_time"`
	QRString          string   `json:"qr_string"`
}

type action struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type statusResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionStatus string `json:"transaction_status"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
}

// GenerateQrisPayment opens a QRIS charge for amount rounded to whole rupiah.
func (m *Midtrans) GenerateQrisPayment(ctx context.Context, amount decimal.Decimal) (charge qris.Charge, err error) {
	ctx, span := otel.Tracer("payment.Midtrans").Start(ctx, "Midtrans.GenerateQrisPayment")
	defer span.End()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		obs.CountQrisCharge(gatewayName, result)
	}()

	if amount.LessThan(m.minAmount) {
		return qris.Charge{}, fmt.Errorf("%w: minimum %s", ErrAmountTooSmall, money.Format(m.minAmount))
	}
	if err := m.guard.Allow(ctx, ratelimit.ActionQrisGenerate, m.rateKey); err != nil {
		return qris.Charge{}, err
	}

	now := m.now()
	orderID := m.newOrderID(now)
	span.SetAttributes(attribute.String("qris.order_id", orderID))

	body := chargeRequest{
		PaymentType: "qris",
		TransactionDetails: transactionDetails{
			OrderID:     orderID,
			GrossAmount: money.Round(amount).IntPart(),
		},
	}
	var resp chargeResponse
	if _, err := m.do(ctx, http.MethodPost, "/v2/charge", body, &resp); err != nil {
		return qris.Charge{}, err
	}
	if resp.StatusCode != "200" && resp.StatusCode != "201" {
		return qris.Charge{}, &GatewayError{HTTPStatus: http.StatusOK, StatusCode: resp.StatusCode, Message: resp.StatusMessage}
	}

	qr := resp.QRString
	if qr == "" {
		for _, a := range resp.Actions {
			if a.Name == "generate-qr-code" {
				qr = a.URL
				break
			}
		}
	}
	if qr == "" {
		return qris.Charge{}, ErrMissingQRString
	}
	if resp.OrderID != "" {
		orderID = resp.OrderID
	}

	m.logger.Info().Str("order_id", orderID).Str("amount", money.Format(amount)).Msg("qris charge created")
	return qris.Charge{
		QRString:  qr,
		OrderID:   orderID,
		ExpiresAt: qris.ParseProviderExpiry(resp.ExpiryTime, now, m.defaultExpiry),
	}, nil
}

// CheckQrisStatus fetches and normalises the transaction status for orderID.
func (m *Midtrans) CheckQrisStatus(ctx context.Context, orderID string) (qris.StatusResponse, error) {
	ctx, span := otel.Tracer("payment.Midtrans").Start(ctx, "Midtrans.CheckQrisStatus")
	defer span.End()
	span.SetAttributes(attribute.String("qris.order_id", orderID))

	if err := m.guard.Allow(ctx, ratelimit.ActionQrisCheck, m.rateKey); err != nil {
		return qris.StatusResponse{}, err
	}
	var resp statusResponse
	if _, err := m.do(ctx, http.MethodGet, "/v2/"+url.PathEscape(orderID)+"/status", nil, &resp); err != nil {
		span.RecordError(err)
		return qris.StatusResponse{}, err
	}
	if resp.TransactionStatus == "" {
		err := &GatewayError{HTTPStatus: http.StatusOK, StatusCode: resp.StatusCode, Message: resp.StatusMessage}
		span.RecordError(err)
		return qris.StatusResponse{}, err
	}
	if resp.OrderID == "" {
		resp.OrderID = orderID
	}
	return qris.StatusResponse{
		Status:            qris.NormalizeProviderStatus(resp.TransactionStatus),
		TransactionStatus: resp.TransactionStatus,
		OrderID:           resp.OrderID,
	}, nil
}

// CancelQrisPayment cancels orderID. Orders the gateway no longer knows or
// that already left pending are treated as cancelled.
func (m *Midtrans) CancelQrisPayment(ctx context.Context, orderID string) error {
	ctx, span := otel.Tracer("payment.Midtrans").Start(ctx, "Midtrans.CancelQrisPayment")
	defer span.End()
	span.SetAttributes(attribute.String("qris.order_id", orderID))

	if err := m.guard.Allow(ctx, ratelimit.ActionQrisCancel, m.rateKey); err != nil {
		return err
	}
	_, err := m.do(ctx, http.MethodPost, "/v2/"+url.PathEscape(orderID)+"/cancel", nil, nil)
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && (gwErr.HTTPStatus == http.StatusNotFound || gwErr.HTTPStatus == http.StatusPreconditionFailed) {
		m.logger.Debug().Str("order_id", orderID).Int("status", gwErr.HTTPStatus).Msg("qris cancel ignored")
		return nil
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// TestConnection verifies the server key by probing a status lookup for an
// order that cannot exist: 200 or 404 means the key was accepted.
func (m *Midtrans) TestConnection(ctx context.Context) error {
	if err := m.guard.Allow(ctx, ratelimit.ActionGatewayTest, m.rateKey); err != nil {
		return err
	}
	status, err := m.do(ctx, http.MethodGet, "/v2/test-connection-probe/status", nil, nil)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrInvalidServerKey
	}
	if status == http.StatusOK || status == http.StatusNotFound {
		return nil
	}
	return err
}

// do sends a JSON request and decodes a JSON answer into out. It returns the
// HTTP status even when it also returns an error.
func (m *Midtrans) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("payment: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(m.serverKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.http.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("payment: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("payment: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{HTTPStatus: resp.StatusCode}
		var envelope struct {
			StatusCode    string `json:"status_code"`
			StatusMessage string `json:"status_message"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			gwErr.StatusCode = envelope.StatusCode
			gwErr.Message = envelope.StatusMessage
		}
		m.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("midtrans request failed")
		return resp.StatusCode, gwErr
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("payment: decode response: %w", err)
	}
	return resp.StatusCode, nil
}

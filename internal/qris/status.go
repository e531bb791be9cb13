// Package qris drives a QRIS payment attempt: generating the code, polling
// the provider until it settles, expires or fails, and regenerating on demand.
package qris

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the local state of a QRIS session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// Terminal reports whether polling should stop in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// Provider status strings after normalisation.
const (
	ProviderSettlement = "settlement"
	ProviderPending    = "pending"
	ProviderExpire     = "expire"
	ProviderCancel     = "cancel"
	ProviderDeny       = "deny"
)

// NormalizeProviderStatus folds raw gateway statuses into the set the poller
// understands: capture counts as settlement and deny as cancel.
func NormalizeProviderStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case ProviderSettlement, "capture":
		return ProviderSettlement
	case ProviderCancel, ProviderDeny:
		return ProviderCancel
	default:
		return s
	}
}

// Charge is a generated QR code awaiting payment.
type Charge struct {
	QRString  string    `json:"qr_string"`
	OrderID   string    `json:"order_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatusResponse is the provider's answer to a status check.
type StatusResponse struct {
	Status            string `json:"status"`
	TransactionStatus string `json:"transaction_status"`
	OrderID           string `json:"order_id"`
}

// StatusChecker queries the provider for an order's status.
type StatusChecker interface {
	CheckQrisStatus(ctx context.Context, orderID string) (StatusResponse, error)
}

// Gateway is the full set of provider operations a QRIS session needs.
type Gateway interface {
	StatusChecker
	GenerateQrisPayment(ctx context.Context, amount decimal.Decimal) (Charge, error)
	CancelQrisPayment(ctx context.Context, orderID string) error
}

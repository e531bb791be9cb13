// Package payment talks to QRIS payment gateways directly, bypassing the
// backend command API.
package payment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAmountTooSmall is returned for QRIS charges under the scheme minimum.
	ErrAmountTooSmall = errors.New("payment: amount below QRIS minimum")
	// ErrInvalidServerKey is returned when the gateway rejects the credentials
	// or the key does not look like a Midtrans server key.
	ErrInvalidServerKey = errors.New("payment: invalid server key")
	// ErrMissingQRString is returned when a charge answer carries no QR payload.
	ErrMissingQRString = errors.New("payment: QR string missing from gateway response")
	// ErrGateway wraps unexpected gateway answers.
	ErrGateway = errors.New("payment: gateway error")
)

// GatewayError describes a non-success answer from the gateway.
type GatewayError struct {
	HTTPStatus int
	StatusCode string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.StatusCode != "" {
		return fmt.Sprintf("payment: gateway responded %s (HTTP %d): %s", e.StatusCode, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("payment: gateway responded HTTP %d", e.HTTPStatus)
}

func (e *GatewayError) Unwrap() error { return ErrGateway }

// ValidateServerKey accepts production (Mid-server-) and sandbox
// (SB-Mid-server-) keys.
func ValidateServerKey(key string) error {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "Mid-server-") || strings.HasPrefix(key, "SB-Mid-server-") {
		return nil
	}
	return ErrInvalidServerKey
}

// Sandbox reports whether key belongs to the Midtrans sandbox.
func Sandbox(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), "SB-")
}

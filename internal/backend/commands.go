package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/kasir-pos/internal/catalog"
	"github.com/noah-isme/kasir-pos/internal/checkout"
	"github.com/noah-isme/kasir-pos/internal/discount"
	"github.com/noah-isme/kasir-pos/internal/money"
	"github.com/noah-isme/kasir-pos/internal/qris"
)

// Command names understood by the backend.
const (
	CmdProductByBarcode = "get_product_by_barcode"
	CmdDiscounts        = "get_discounts"
	CmdSettings         = "get_settings"
	CmdGenerateQris     = "generate_qris_payment"
	CmdCheckQris        = "check_qris_status"
	CmdCancelQris       = "cancel_qris_payment"
	CmdCreateTx         = "create_transaction"
	CmdPrintReceipt     = "print_receipt"
)

var (
	_ catalog.Source          = (*Client)(nil)
	_ qris.Gateway            = (*Client)(nil)
	_ checkout.Submitter      = (*Client)(nil)
	_ checkout.ReceiptPrinter = (*Client)(nil)
)

// LookupProductByBarcode resolves barcode; a null answer is catalog.ErrNotFound.
func (c *Client) LookupProductByBarcode(ctx context.Context, barcode string) (catalog.Product, error) {
	var p catalog.Product
	found, err := c.Invoke(ctx, CmdProductByBarcode, map[string]any{"barcode": barcode}, &p)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.HTTPStatus == http.StatusNotFound {
			return catalog.Product{}, catalog.ErrNotFound
		}
		return catalog.Product{}, err
	}
	if !found {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// ListDiscounts returns every discount definition, active or not.
func (c *Client) ListDiscounts(ctx context.Context) ([]discount.Definition, error) {
	var defs []discount.Definition
	if _, err := c.Invoke(ctx, CmdDiscounts, nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// GetSettings loads store settings.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	found, err := c.Invoke(ctx, CmdSettings, nil, &s)
	if err != nil {
		return Settings{}, err
	}
	if !found {
		return Settings{}, fmt.Errorf("backend: %s returned no data", CmdSettings)
	}
	return s, nil
}

type qrisCharge struct {
	QRString  string `json:"qr_string"`
	OrderID   string `json:"order_id"`
	ExpiresAt string `json:"expires_at"`
}

// GenerateQrisPayment asks the backend to open a QRIS charge.
func (c *Client) GenerateQrisPayment(ctx context.Context, amount decimal.Decimal) (qris.Charge, error) {
	ctx, span := otel.Tracer("backend.Client").Start(ctx, "BackendClient.GenerateQrisPayment")
	defer span.End()

	var raw qrisCharge
	found, err := c.Invoke(ctx, CmdGenerateQris, map[string]any{"amount": money.Round(amount).IntPart()}, &raw)
	if err != nil {
		span.RecordError(err)
		return qris.Charge{}, err
	}
	if !found || raw.OrderID == "" || raw.QRString == "" {
		return qris.Charge{}, fmt.Errorf("backend: %s returned an incomplete charge", CmdGenerateQris)
	}
	span.SetAttributes(attribute.String("qris.order_id", raw.OrderID))
	return qris.Charge{
		QRString:  raw.QRString,
		OrderID:   raw.OrderID,
		ExpiresAt: qris.ParseProviderExpiry(raw.ExpiresAt, c.now(), qris.DefaultExpiry),
	}, nil
}

// CheckQrisStatus polls the backend for the order's status.
func (c *Client) CheckQrisStatus(ctx context.Context, orderID string) (qris.StatusResponse, error) {
	var resp qris.StatusResponse
	found, err := c.Invoke(ctx, CmdCheckQris, map[string]any{"orderId": orderID}, &resp)
	if err != nil {
		return qris.StatusResponse{}, err
	}
	if !found {
		return qris.StatusResponse{}, fmt.Errorf("backend: %s returned no data", CmdCheckQris)
	}
	raw := resp.Status
	if raw == "" {
		raw = resp.TransactionStatus
	}
	resp.Status = qris.NormalizeProviderStatus(raw)
	if resp.OrderID == "" {
		resp.OrderID = orderID
	}
	return resp, nil
}

// CancelQrisPayment cancels the order at the provider.
func (c *Client) CancelQrisPayment(ctx context.Context, orderID string) error {
	_, err := c.Invoke(ctx, CmdCancelQris, map[string]any{"orderId": orderID}, nil)
	return err
}

// SubmitTransaction persists payload. The key travels as Idempotency-Key.
func (c *Client) SubmitTransaction(ctx context.Context, payload checkout.Payload, idempotencyKey string) (checkout.Transaction, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}
	var tx checkout.Transaction
	found, err := c.invoke(ctx, CmdCreateTx, map[string]any{"payload": payload}, header, &tx)
	if err != nil {
		return checkout.Transaction{}, err
	}
	if !found || tx.ID == "" {
		return checkout.Transaction{}, fmt.Errorf("backend: %s returned no transaction", CmdCreateTx)
	}
	return tx, nil
}

// PrintReceipt hands a stored transaction to the receipt printer.
func (c *Client) PrintReceipt(ctx context.Context, transactionID string) error {
	_, err := c.Invoke(ctx, CmdPrintReceipt, map[string]any{"transactionId": transactionID}, nil)
	return err
}

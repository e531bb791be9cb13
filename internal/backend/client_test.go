package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-pos/internal/backend"
	"github.com/noah-isme/kasir-pos/internal/catalog"
	"github.com/noah-isme/kasir-pos/internal/checkout"
	"github.com/noah-isme/kasir-pos/internal/discount"
	"github.com/noah-isme/kasir-pos/internal/qris"
	"github.com/noah-isme/kasir-pos/internal/resilience"
)

var fixedNow = time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC)

type call struct {
	Command string
	Args    map[string]any
	Header  http.Header
}

func newClient(t *testing.T, reply func(command string, args map[string]any) (int, string)) (*backend.Client, *[]call) {
	t.Helper()
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		require.Equal(t, http.MethodPost, r.Method)
		command := r.URL.Path[len("/invoke/"):]
		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		calls = append(calls, call{Command: command, Args: args, Header: r.Header.Clone()})
		status, body := reply(command, args)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := backend.New(backend.Config{
		BaseURL:      srv.URL + "/",
		SessionToken: "tok-1",
		HTTP:         &resilience.HTTPClient{Client: srv.Client()},
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return client, &calls
}

func TestLookupProductByBarcode(t *testing.T) {
	client, calls := newClient(t, func(command string, args map[string]any) (int, string) {
		if args["barcode"] == "899" {
			return 200, `{"data":{"id":3,"sku":"KOP-1","name":"Kopi Susu","price":18000,"cost_price":9000,"stock":4,"barcode":"899","is_active":true}}`
		}
		return 200, `{"data":null}`
	})
	ctx := context.Background()

	p, err := client.LookupProductByBarcode(ctx, "899")
	require.NoError(t, err)
	require.Equal(t, "Kopi Susu", p.Name)
	require.True(t, p.Price.Equal(decimal.NewFromInt(18000)))
	require.Equal(t, 4, p.Stock)

	_, err = client.LookupProductByBarcode(ctx, "000")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	require.Equal(t, backend.CmdProductByBarcode, (*calls)[0].Command)
	require.Equal(t, "tok-1", (*calls)[0].Args["sessionToken"])
}

func TestListDiscountsAndSettings(t *testing.T) {
	client, _ := newClient(t, func(command string, _ map[string]any) (int, string) {
		switch command {
		case backend.CmdDiscounts:
			return 200, `{"data":[{"id":1,"name":"Member 10%","type":"PERCENT","value":10,"min_purchase":50000,"is_automatic":true,"is_active":true}]}`
		case backend.CmdSettings:
			return 200, `{"data":{"company":{"store_name":"Toko Maju"},"tax":{"is_enabled":true,"rate":11,"label":"PPN","is_included":false},"low_stock_threshold":5}}`
		}
		return 404, `{"error":{"code":"UNKNOWN","message":"unknown command"}}`
	})
	ctx := context.Background()

	defs, err := client.ListDiscounts(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, discount.KindPercent, defs[0].Kind)
	require.True(t, defs[0].MinPurchase.Equal(decimal.NewFromInt(50000)))
	require.True(t, defs[0].IsAutomatic)

	settings, err := client.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, "Toko Maju", settings.Company.StoreName)
	require.Equal(t, 5, settings.LowStockThreshold)
	tax := settings.TaxConfig()
	require.True(t, tax.Enabled)
	require.False(t, tax.Included)
	require.True(t, tax.Rate.Equal(decimal.NewFromInt(11)))
}

func TestQrisCommands(t *testing.T) {
	client, calls := newClient(t, func(command string, args map[string]any) (int, string) {
		switch command {
		case backend.CmdGenerateQris:
			return 200, `{"data":{"qr_string":"000201","order_id":"QRIS-1","expires_at":"2026-05-06 14:15:00"}}`
		case backend.CmdCheckQris:
			return 200, `{"data":{"status":"capture","transaction_status":"capture","order_id":"QRIS-1"}}`
		case backend.CmdCancelQris:
			return 200, `{"data":null}`
		}
		return 500, `{}`
	})
	ctx := context.Background()

	charge, err := client.GenerateQrisPayment(ctx, decimal.RequireFromString("27749.5"))
	require.NoError(t, err)
	require.Equal(t, "QRIS-1", charge.OrderID)
	require.True(t, charge.ExpiresAt.Equal(fixedNow.Add(15*time.Minute)))
	require.EqualValues(t, 27750, (*calls)[0].Args["amount"])

	status, err := client.CheckQrisStatus(ctx, "QRIS-1")
	require.NoError(t, err)
	require.Equal(t, qris.ProviderSettlement, status.Status)
	require.Equal(t, "QRIS-1", (*calls)[1].Args["orderId"])

	require.NoError(t, client.CancelQrisPayment(ctx, "QRIS-1"))
}

func TestSubmitTransactionSendsIdempotencyKey(t *testing.T) {
	client, calls := newClient(t, func(command string, args map[string]any) (int, string) {
		return 200, `{"data":{"id":"TRX-9","cashier_id":2,"total_amount":45000,"payment_method":"CASH","amount_paid":50000,"change_given":5000,"status":"COMPLETED"}}`
	})

	payload := checkout.Payload{
		Items:         []checkout.PayloadItem{{ProductID: 3, Quantity: 2, PriceAtTime: 22500}},
		TotalAmount:   45000,
		PaymentMethod: checkout.MethodCash,
		AmountPaid:    50000,
	}
	tx, err := client.SubmitTransaction(context.Background(), payload, "key-123")
	require.NoError(t, err)
	require.Equal(t, "TRX-9", tx.ID)
	require.True(t, tx.ChangeGiven.Equal(decimal.NewFromInt(5000)))

	got := (*calls)[0]
	require.Equal(t, backend.CmdCreateTx, got.Command)
	require.Equal(t, "key-123", got.Header.Get("Idempotency-Key"))
	sent := got.Args["payload"].(map[string]any)
	require.EqualValues(t, 45000, sent["total_amount"])
	require.Equal(t, "CASH", sent["payment_method"])
}

func TestCommandErrors(t *testing.T) {
	client, _ := newClient(t, func(command string, _ map[string]any) (int, string) {
		if command == backend.CmdPrintReceipt {
			return 200, `{"error":{"code":"PRINTER_OFFLINE","message":"Printer tidak terhubung"}}`
		}
		return 503, `{"error":{"code":"MAINTENANCE","message":"down"}}`
	})
	ctx := context.Background()

	err := client.PrintReceipt(ctx, "TRX-1")
	var cmdErr *backend.CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, "PRINTER_OFFLINE", cmdErr.Code)
	require.NotErrorIs(t, err, backend.ErrUnavailable)

	_, err = client.ListDiscounts(ctx)
	require.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestPingAndTransportFailure(t *testing.T) {
	client, _ := newClient(t, func(string, map[string]any) (int, string) { return 200, `{}` })
	require.NoError(t, client.Ping(context.Background()))

	dead, err := backend.New(backend.Config{
		BaseURL: "http://127.0.0.1:1",
		HTTP:    &resilience.HTTPClient{Client: &http.Client{Timeout: time.Second}},
	})
	require.NoError(t, err)
	require.ErrorIs(t, dead.Ping(context.Background()), backend.ErrUnavailable)
	_, err = dead.ListDiscounts(context.Background())
	require.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := backend.New(backend.Config{BaseURL: "ftp://x", HTTP: &resilience.HTTPClient{Client: http.DefaultClient}})
	require.Error(t, err)
	_, err = backend.New(backend.Config{BaseURL: "http://x"})
	require.Error(t, err)
}

// Package httpapi exposes the terminal to the cashier UI over a loopback
// JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kasir-pos/internal/checkout"
	"github.com/noah-isme/kasir-pos/internal/common"
	"github.com/noah-isme/kasir-pos/internal/discount"
	"github.com/noah-isme/kasir-pos/internal/pos"
	"github.com/noah-isme/kasir-pos/internal/pricing"
	"github.com/noah-isme/kasir-pos/internal/qris"
	"github.com/noah-isme/kasir-pos/internal/scanner"
)

// Terminal is the register state the API drives.
type Terminal interface {
	Cart() pos.CartView
	AddItem(line pricing.Line) (pos.CartView, error)
	UpdateQuantity(productID int64, delta int) (pos.CartView, error)
	SetQuantity(productID int64, quantity int) (pos.CartView, error)
	SetItemDiscount(productID int64, amount decimal.Decimal) (pos.CartView, error)
	RemoveItem(productID int64) (pos.CartView, error)
	ClearCart() (pos.CartView, error)

	Discounts() []discount.Definition
	ReloadDiscounts(ctx context.Context) error
	SelectDiscount(id int64) (pos.CartView, error)
	ClearDiscount() (pos.CartView, error)

	HandleScan(ctx context.Context, barcode string) (pos.CartView, error)
	Pay(ctx context.Context, req checkout.Request) (checkout.Receipt, error)
	LastReceipt() (checkout.Receipt, bool)

	StartQris(ctx context.Context) (qris.View, error)
	QrisView() (qris.View, error)
	RegenerateQris(ctx context.Context) (qris.View, error)
	RefreshQris(ctx context.Context) error
	CancelQris(ctx context.Context) error
}

// KeySink receives raw keystrokes for barcode aggregation.
type KeySink interface {
	Dispatch(ev scanner.KeyEvent)
}

// NotificationSource hands out pending cashier notifications.
type NotificationSource interface {
	Drain() []pos.Notification
}

// Handler wires the terminal to HTTP.
type Handler struct {
	Terminal Terminal
	Keys     KeySink
	Inbox    NotificationSource
	Validate *validator.Validate
	Logger   zerolog.Logger
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidator
}

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

// Cart returns the current cart with its derived summary.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.Terminal.Cart())
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.Terminal.ClearCart()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// AddItem merges a product into the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UnitPrice.IsNegative() {
		h.writeError(w, r, common.ValidationError("Harga tidak valid", nil).WithDetails(map[string]string{"unitPrice": "gte"}))
		return
	}
	line := pricing.Line{ProductID: req.ProductID, ProductName: req.ProductName, UnitPrice: req.UnitPrice, Quantity: 1}
	if req.Quantity != nil {
		line.Quantity = *req.Quantity
	}
	view, err := h.Terminal.AddItem(line)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

// UpdateItem applies a quantity delta, an absolute quantity or a line
// discount to one cart line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	set := 0
	for _, present := range []bool{req.Delta != nil, req.Quantity != nil, req.ItemDiscount != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		h.writeError(w, r, common.ValidationError("Isi tepat satu dari delta, quantity atau itemDiscount", nil))
		return
	}

	var (
		view pos.CartView
		err  error
	)
	switch {
	case req.Delta != nil:
		view, err = h.Terminal.UpdateQuantity(productID, *req.Delta)
	case req.Quantity != nil:
		view, err = h.Terminal.SetQuantity(productID, *req.Quantity)
	default:
		view, err = h.Terminal.SetItemDiscount(productID, *req.ItemDiscount)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// RemoveItem deletes one cart line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	view, err := h.Terminal.RemoveItem(productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// Discounts lists the loaded discount definitions.
func (h *Handler) Discounts(w http.ResponseWriter, r *http.Request) {
	defs := h.Terminal.Discounts()
	if defs == nil {
		defs = []discount.Definition{}
	}
	writeData(w, http.StatusOK, defs)
}

// ReloadDiscounts refetches definitions from the backend.
func (h *Handler) ReloadDiscounts(w http.ResponseWriter, r *http.Request) {
	if err := h.Terminal.ReloadDiscounts(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Discounts(w, r)
}

// SelectDiscount applies the cashier's discount choice.
func (h *Handler) SelectDiscount(w http.ResponseWriter, r *http.Request) {
	var req selectDiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Terminal.SelectDiscount(req.DiscountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// ClearDiscount records an explicit "no discount" choice.
func (h *Handler) ClearDiscount(w http.ResponseWriter, r *http.Request) {
	view, err := h.Terminal.ClearDiscount()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// ScanKey forwards one keystroke to the barcode aggregator.
func (h *Handler) ScanKey(w http.ResponseWriter, r *http.Request) {
	if h.Keys == nil {
		h.writeError(w, r, common.NewAppError(common.CodeInternal, "scanner not configured", http.StatusServiceUnavailable, nil))
		return
	}
	var req scanKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.Keys.Dispatch(scanner.KeyEvent{Key: req.Key, Editable: req.Editable})
	w.WriteHeader(http.StatusAccepted)
}

// ScanBarcode handles a complete barcode typed in by the cashier.
func (h *Handler) ScanBarcode(w http.ResponseWriter, r *http.Request) {
	var req scanBarcodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Terminal.HandleScan(r.Context(), req.Barcode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// Checkout pays for the cart with cash or debit. QRIS sales complete
// through the QRIS endpoints.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	method, err := checkout.ParseMethod(req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	payReq := checkout.Request{Method: method, Notes: req.Notes}
	if req.AmountPaid != nil {
		payReq.AmountPaid = *req.AmountPaid
	}
	receipt, err := h.Terminal.Pay(r.Context(), payReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, receipt)
}

// LastReceipt returns the most recent completed sale.
func (h *Handler) LastReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, ok := h.Terminal.LastReceipt()
	if !ok {
		h.writeError(w, r, common.NotFound("Belum ada transaksi", nil))
		return
	}
	writeData(w, http.StatusOK, receipt)
}

// StartQris generates a QR code for the cart total.
func (h *Handler) StartQris(w http.ResponseWriter, r *http.Request) {
	view, err := h.Terminal.StartQris(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

// QrisStatus returns the payment state for rendering.
func (h *Handler) QrisStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.Terminal.QrisView()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// RegenerateQris replaces the current code.
func (h *Handler) RegenerateQris(w http.ResponseWriter, r *http.Request) {
	view, err := h.Terminal.RegenerateQris(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// RefreshQris triggers an immediate status check.
func (h *Handler) RefreshQris(w http.ResponseWriter, r *http.Request) {
	if err := h.Terminal.RefreshQris(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelQris voids the code and closes the payment surface.
func (h *Handler) CancelQris(w http.ResponseWriter, r *http.Request) {
	if err := h.Terminal.CancelQris(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notifications drains pending cashier notifications.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	items := []pos.Notification{}
	if h.Inbox != nil {
		if drained := h.Inbox.Drain(); drained != nil {
			items = drained
		}
	}
	writeData(w, http.StatusOK, items)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, common.ValidationError("Format permintaan tidak valid", err))
		return false
	}
	if err := h.validator().Struct(dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, common.ValidationError("ID produk tidak valid", err))
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Str("code", appErr.Code).Msg("request failed")
	}
	common.WriteError(w, appErr)
}

func writeData(w http.ResponseWriter, status int, v any) {
	common.Data(w, status, v)
}

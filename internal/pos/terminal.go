// Package pos holds the per-session terminal: one cart, the discount policy
// around it, barcode scans feeding it and the payment flows draining it.
// Every surface (local API, scanner timer, QRIS callbacks) goes through the
// Terminal, which serialises access to the cart.
package pos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kasir-pos/internal/backend"
	"github.com/noah-isme/kasir-pos/internal/catalog"
	"github.com/noah-isme/kasir-pos/internal/checkout"
	"github.com/noah-isme/kasir-pos/internal/discount"
	"github.com/noah-isme/kasir-pos/internal/money"
	"github.com/noah-isme/kasir-pos/internal/obs"
	"github.com/noah-isme/kasir-pos/internal/pricing"
	"github.com/noah-isme/kasir-pos/internal/qris"
)

var (
	// ErrLineNotFound is returned when a product is not in the cart.
	ErrLineNotFound = errors.New("pos: product not in cart")
	// ErrUnknownDiscount is returned when selecting an id that is not loaded.
	ErrUnknownDiscount = errors.New("pos: unknown discount")
	// ErrQrisUnavailable is returned when no QRIS gateway is attached.
	ErrQrisUnavailable = errors.New("pos: qris not configured")
	// ErrQrisPending is returned for cart edits and non-QRIS payments while a
	// QR code for the cart is open.
	ErrQrisPending = errors.New("pos: qris payment in progress")
)

// ProductLookup resolves a scanned barcode to a sellable product.
type ProductLookup interface {
	LookupAvailable(ctx context.Context, barcode string) (catalog.Product, error)
}

// StockInvalidator forgets cached product data after a sale.
type StockInvalidator interface {
	Invalidate(ctx context.Context, barcodes ...string) error
}

// DiscountSource lists discount definitions.
type DiscountSource interface {
	ListDiscounts(ctx context.Context) ([]discount.Definition, error)
}

// SettingsSource loads store settings.
type SettingsSource interface {
	GetSettings(ctx context.Context) (backend.Settings, error)
}

// Checkouter submits a cart.
type Checkouter interface {
	Checkout(ctx context.Context, c *pricing.Cart, req checkout.Request) (checkout.Receipt, error)
}

// QrisSession is one QRIS attempt at a time.
type QrisSession interface {
	Open(ctx context.Context, amount decimal.Decimal) (qris.View, error)
	Cancel(ctx context.Context) error
	Close(ctx context.Context) error
	Regenerate(ctx context.Context) (qris.View, error)
	Refresh(ctx context.Context) error
	View() qris.View
}

// Config wires a Terminal.
type Config struct {
	Products  ProductLookup
	Discounts DiscountSource
	Settings  SettingsSource
	Checkout  Checkouter
	Notifier  Notifier
	Logger    zerolog.Logger
	Now       func() time.Time
	// SettleTimeout bounds the submission triggered by a settled QRIS payment.
	SettleTimeout time.Duration
}

// Terminal is the injectable state container for one register session.
type Terminal struct {
	cfg Config

	mu        sync.Mutex
	cart      *pricing.Cart
	discounts []discount.Definition
	settings  backend.Settings
	barcodes  map[int64]string
	last      *checkout.Receipt
	qris      QrisSession
}

// NewTerminal validates cfg and returns a terminal with an empty cart.
func NewTerminal(cfg Config) (*Terminal, error) {
	if cfg.Products == nil {
		return nil, errors.New("pos: product lookup is required")
	}
	if cfg.Checkout == nil {
		return nil, errors.New("pos: checkout is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewInbox(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	return &Terminal{
		cfg:      cfg,
		cart:     pricing.NewCart(pricing.TaxConfig{}),
		barcodes: make(map[int64]string),
	}, nil
}

// AttachQris sets the QRIS session. Call before serving requests.
func (t *Terminal) AttachQris(s QrisSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.qris = s
}

// Load fetches settings and discounts. Failures keep the previous values and
// only raise a warning, so the register stays usable offline.
func (t *Terminal) Load(ctx context.Context) {
	if t.cfg.Settings != nil {
		settings, err := t.cfg.Settings.GetSettings(ctx)
		if err != nil {
			t.cfg.Logger.Warn().Err(err).Msg("settings load failed, keeping current tax configuration")
			t.notify(LevelWarning, "Pengaturan gagal dimuat", "Pajak memakai konfigurasi sebelumnya")
		} else {
			t.mu.Lock()
			t.settings = settings
			t.cart.SetTax(settings.TaxConfig())
			t.mu.Unlock()
		}
	}
	if err := t.ReloadDiscounts(ctx); err != nil {
		t.cfg.Logger.Warn().Err(err).Msg("discount load failed")
	}
}

// ReloadDiscounts refreshes discount definitions and re-runs the automatic
// policy.
func (t *Terminal) ReloadDiscounts(ctx context.Context) error {
	if t.cfg.Discounts == nil {
		return nil
	}
	defs, err := t.cfg.Discounts.ListDiscounts(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discounts = defs
	if !t.qrisOpenLocked() {
		discount.ApplyAutomatic(t.cart, t.discounts)
	}
	return nil
}

// qrisOpenLocked reports whether a QR code was issued for the cart as it
// stands. The charged amount is fixed, so the cart is frozen until the code
// settles, is cancelled or closed.
func (t *Terminal) qrisOpenLocked() bool {
	return t.qris != nil && t.qris.View().Open
}

// Settings returns the loaded store settings.
func (t *Terminal) Settings() backend.Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// Cart returns a snapshot of the cart.
func (t *Terminal) Cart() CartView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cartView(t.cart)
}

// Discounts returns the loaded definitions.
func (t *Terminal) Discounts() []discount.Definition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]discount.Definition, len(t.discounts))
	copy(out, t.discounts)
	return out
}

// LastReceipt returns the most recent successful checkout.
func (t *Terminal) LastReceipt() (checkout.Receipt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return checkout.Receipt{}, false
	}
	return *t.last, true
}

// mutate runs fn under the lock and re-applies the automatic policy.
func (t *Terminal) mutate(fn func(c *pricing.Cart) error) (CartView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.qrisOpenLocked() {
		return cartView(t.cart), ErrQrisPending
	}
	if err := fn(t.cart); err != nil {
		return cartView(t.cart), err
	}
	discount.ApplyAutomatic(t.cart, t.discounts)
	return cartView(t.cart), nil
}

// AddItem merges line into the cart.
func (t *Terminal) AddItem(line pricing.Line) (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		c.AddItem(line)
		return nil
	})
}

// UpdateQuantity adds delta to a line's quantity, never below one.
func (t *Terminal) UpdateQuantity(productID int64, delta int) (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		if !c.UpdateQuantity(productID, delta) {
			return ErrLineNotFound
		}
		return nil
	})
}

// SetQuantity sets a line's quantity, never below one.
func (t *Terminal) SetQuantity(productID int64, quantity int) (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		if !c.SetQuantity(productID, quantity) {
			return ErrLineNotFound
		}
		return nil
	})
}

// SetItemDiscount sets a line's own discount.
func (t *Terminal) SetItemDiscount(productID int64, amount decimal.Decimal) (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		if !c.SetItemDiscount(productID, amount) {
			return ErrLineNotFound
		}
		return nil
	})
}

// RemoveItem deletes a line.
func (t *Terminal) RemoveItem(productID int64) (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		if !c.RemoveItem(productID) {
			return ErrLineNotFound
		}
		return nil
	})
}

// ClearCart empties the cart, dropping any manual discount choice.
func (t *Terminal) ClearCart() (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		c.Clear()
		return nil
	})
}

// SelectDiscount applies a loaded definition as the cashier's choice.
func (t *Terminal) SelectDiscount(id int64) (CartView, error) {
	return t.mutate(func(c *pricing.Cart) error {
		def, ok := discount.Find(t.discounts, id)
		if !ok {
			return ErrUnknownDiscount
		}
		return discount.ApplyManual(c, def)
	})
}

// ClearDiscount records the cashier's explicit "no discount" choice.
func (t *Terminal) ClearDiscount() (CartView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.qrisOpenLocked() {
		return cartView(t.cart), ErrQrisPending
	}
	discount.ClearManual(t.cart)
	return cartView(t.cart), nil
}

// HandleScan resolves barcode and adds one unit to the cart. The outcome is
// always reported to the notifier.
func (t *Terminal) HandleScan(ctx context.Context, barcode string) (CartView, error) {
	product, err := t.cfg.Products.LookupAvailable(ctx, barcode)
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrEmptyBarcode):
		obs.CountBarcodeScan("not_found")
		t.notify(LevelWarning, "Produk tidak ditemukan", "Barcode "+barcode)
		return t.Cart(), err
	case errors.Is(err, catalog.ErrOutOfStock):
		obs.CountBarcodeScan("out_of_stock")
		t.notify(LevelWarning, "Stok habis", product.Name)
		return t.Cart(), err
	case err != nil:
		obs.CountBarcodeScan("error")
		t.cfg.Logger.Error().Err(err).Str("barcode", barcode).Msg("barcode lookup failed")
		t.notify(LevelError, "Gagal memindai", "Periksa koneksi ke server")
		return t.Cart(), err
	}

	t.mu.Lock()
	if t.qrisOpenLocked() {
		view := cartView(t.cart)
		t.mu.Unlock()
		obs.CountBarcodeScan("blocked")
		t.notify(LevelWarning, "Pembayaran QRIS berlangsung", "Batalkan QRIS untuk mengubah keranjang")
		return view, ErrQrisPending
	}
	t.cart.AddItem(pricing.Line{
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    1,
	})
	t.barcodes[product.ID] = barcode
	discount.ApplyAutomatic(t.cart, t.discounts)
	threshold := t.settings.LowStockThreshold
	view := cartView(t.cart)
	t.mu.Unlock()

	obs.CountBarcodeScan("added")
	t.cfg.Logger.Debug().Str("barcode", barcode).Int64("product_id", product.ID).Msg("scan added")
	t.notify(LevelSuccess, "Ditambahkan", product.Name)
	if product.LowStock(threshold) {
		t.notify(LevelInfo, "Stok menipis", fmt.Sprintf("%s tersisa %d", product.Name, product.Stock))
	}
	return view, nil
}

// ScanHandler adapts HandleScan to a BarcodeSource subscription.
func (t *Terminal) ScanHandler(ctx context.Context, timeout time.Duration) func(string) {
	return func(barcode string) {
		scanCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_, _ = t.HandleScan(scanCtx, barcode)
	}
}

// Pay finalizes and submits the cart. The cart stays locked for the whole
// submission, so no surface can change it underneath, and is cleared only
// on success. While a QR code is open only a QRIS payment may complete it.
func (t *Terminal) Pay(ctx context.Context, req checkout.Request) (checkout.Receipt, error) {
	t.mu.Lock()
	if req.Method != checkout.MethodQRIS && t.qrisOpenLocked() {
		t.mu.Unlock()
		return checkout.Receipt{}, ErrQrisPending
	}
	receipt, err := t.cfg.Checkout.Checkout(ctx, t.cart, req)
	var sold []string
	if err == nil {
		r := receipt
		t.last = &r
		for _, code := range t.barcodes {
			sold = append(sold, code)
		}
		t.barcodes = make(map[int64]string)
		discount.ApplyAutomatic(t.cart, t.discounts)
	}
	t.mu.Unlock()

	if err != nil {
		if !errors.Is(err, checkout.ErrEmptyCart) && !errors.Is(err, checkout.ErrInsufficientPayment) {
			t.notify(LevelError, "Transaksi gagal", "Keranjang tidak diubah, silakan coba lagi")
		}
		return checkout.Receipt{}, err
	}

	if inv, ok := t.cfg.Products.(StockInvalidator); ok && len(sold) > 0 {
		if err := inv.Invalidate(ctx, sold...); err != nil {
			t.cfg.Logger.Warn().Err(err).Msg("product cache invalidation failed")
		}
	}
	msg := "Total " + money.Format(receipt.Quote.Total)
	if receipt.Quote.Change.IsPositive() {
		msg += ", kembalian " + money.Format(receipt.Quote.Change)
	}
	t.notify(LevelSuccess, "Transaksi berhasil", msg)
	return receipt, nil
}

func (t *Terminal) session() (QrisSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.qris == nil {
		return nil, ErrQrisUnavailable
	}
	return t.qris, nil
}

// StartQris opens a QR code for the current cart total.
func (t *Terminal) StartQris(ctx context.Context) (qris.View, error) {
	s, err := t.session()
	if err != nil {
		return qris.View{}, err
	}
	t.mu.Lock()
	empty := t.cart.IsEmpty()
	total := money.Round(t.cart.Total())
	t.mu.Unlock()
	if empty {
		return qris.View{}, checkout.ErrEmptyCart
	}
	return s.Open(ctx, total)
}

// QrisView returns the QRIS state for rendering.
func (t *Terminal) QrisView() (qris.View, error) {
	s, err := t.session()
	if err != nil {
		return qris.View{}, err
	}
	return s.View(), nil
}

// RegenerateQris replaces an expired or stale code.
func (t *Terminal) RegenerateQris(ctx context.Context) (qris.View, error) {
	s, err := t.session()
	if err != nil {
		return qris.View{}, err
	}
	return s.Regenerate(ctx)
}

// RefreshQris asks for an immediate status check.
func (t *Terminal) RefreshQris(ctx context.Context) error {
	s, err := t.session()
	if err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// CancelQris voids the code and closes the session.
func (t *Terminal) CancelQris(ctx context.Context) error {
	s, err := t.session()
	if err != nil {
		return err
	}
	return s.Cancel(ctx)
}

// QrisSettled submits the cart as a QRIS sale once the provider confirms
// payment. It is meant as the controller's OnSettled callback. A settlement
// whose amount differs from the cart total is never recorded; the cashier
// is told to reconcile it by hand.
func (t *Terminal) QrisSettled(orderID string, amount decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SettleTimeout)
	defer cancel()
	log := t.cfg.Logger.With().Str("order_id", orderID).Logger()

	t.mu.Lock()
	total := money.Round(t.cart.Total())
	t.mu.Unlock()
	if !total.Equal(amount) {
		log.Error().Str("charged", money.Format(amount)).Str("cart_total", money.Format(total)).
			Msg("qris settlement does not match cart total")
		t.notify(LevelError, "Pembayaran QRIS tidak sesuai",
			fmt.Sprintf("Diterima %s, total keranjang %s. Periksa transaksi %s", money.Format(amount), money.Format(total), orderID))
		return
	}

	_, err := t.Pay(ctx, checkout.Request{Method: checkout.MethodQRIS, Notes: "QRIS " + orderID})
	if err != nil {
		log.Error().Err(err).Msg("qris settled but submission failed")
		return
	}
	if s, err := t.session(); err == nil {
		if err := s.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("qris close after settlement failed")
		}
	}
}

// QrisExpired tells the cashier the code can no longer be paid.
func (t *Terminal) QrisExpired(orderID string, source qris.ExpirySource) {
	t.cfg.Logger.Info().Str("order_id", orderID).Str("source", string(source)).Msg("qris expired")
	t.notify(LevelWarning, "QRIS kedaluwarsa", "Buat kode QR baru untuk melanjutkan")
}

// WatchQris turns poller events into cashier notifications until events is
// closed or ctx ends.
func (t *Terminal) WatchQris(ctx context.Context, events <-chan qris.Event) {
	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Warning && !warned {
				t.notify(LevelWarning, "Koneksi bermasalah", "Status pembayaran QRIS belum dapat diperiksa")
			}
			warned = ev.Warning
		}
	}
}

func (t *Terminal) notify(level Level, title, message string) {
	t.cfg.Notifier.Notify(Notification{Level: level, Title: title, Message: message, At: t.cfg.Now()})
}

package qris

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when asked to charge a non-positive amount.
var ErrInvalidAmount = errors.New("qris amount must be positive")

// ErrNoSession is returned by operations that need an open QR code.
var ErrNoSession = errors.New("no qris session open")

// Timer is the subset of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// ExpirySource says which path noticed the code expired.
type ExpirySource string

const (
	ExpiryProvider  ExpirySource = "provider"
	ExpiryCountdown ExpirySource = "countdown"
)

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Gateway Gateway
	Poller  PollerConfig
	Logger  zerolog.Logger
	Now     func() time.Time
	// AfterFunc schedules the local countdown expiry.
	AfterFunc func(time.Duration, func()) Timer
	// OnSettled fires once per order when the provider confirms payment.
	OnSettled func(orderID string, amount decimal.Decimal)
	// OnExpired fires once per order, from whichever of the provider or the
	// local countdown notices first.
	OnExpired func(orderID string, source ExpirySource)
}

// View is what the payment surface renders.
type View struct {
	Snapshot
	Open          bool            `json:"open"`
	QRString      string          `json:"qrString,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	TimeLeft      string          `json:"timeLeft"`
	CountdownDone bool            `json:"countdownDone"`
	CanRegenerate bool            `json:"canRegenerate"`
}

type session struct {
	charge Charge
	amount decimal.Decimal
	timer  Timer
}

// Controller runs one QRIS attempt at a time: generate, poll, cancel,
// regenerate. It owns the Poller.
type Controller struct {
	cfg    ControllerConfig
	poller *Poller

	mu         sync.Mutex
	current    *session
	expiredFor string
}

// NewController builds the controller and its poller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("qris controller requires a gateway")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	c := &Controller{cfg: cfg}
	pc := cfg.Poller
	pc.Checker = cfg.Gateway
	pc.Logger = cfg.Logger
	pc.OnSuccess = c.settled
	pc.OnExpired = func(orderID string) { c.expired(orderID, ExpiryProvider) }
	p, err := NewPoller(pc)
	if err != nil {
		return nil, err
	}
	c.poller = p
	return c, nil
}

// Poller exposes the underlying poller for subscriptions.
func (c *Controller) Poller() *Poller { return c.poller }

// Run drives polling until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	err := c.poller.Run(ctx)
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	return err
}

// Open generates a QR code for amount and starts polling. An already open
// pending session is returned as is.
func (c *Controller) Open(ctx context.Context, amount decimal.Decimal) (View, error) {
	if !amount.IsPositive() {
		return View{}, ErrInvalidAmount
	}
	c.mu.Lock()
	open := c.current != nil
	c.mu.Unlock()
	if open && !c.poller.Snapshot().Status.Terminal() {
		return c.View(), nil
	}
	if open {
		if err := c.reset(ctx); err != nil {
			return View{}, err
		}
	}
	return c.generate(ctx, amount)
}

// Cancel voids the open code at the provider, ignoring failures, and closes
// the session.
func (c *Controller) Cancel(ctx context.Context) error {
	c.cancelAtProvider(ctx)
	return c.reset(ctx)
}

// Close ends the session without contacting the provider.
func (c *Controller) Close(ctx context.Context) error {
	return c.reset(ctx)
}

// Regenerate cancels the current code, resets to idle and issues a fresh one
// for the same amount.
func (c *Controller) Regenerate(ctx context.Context) (View, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return View{}, ErrNoSession
	}
	amount := c.current.amount
	c.mu.Unlock()

	c.cancelAtProvider(ctx)
	if err := c.reset(ctx); err != nil {
		return View{}, err
	}
	return c.generate(ctx, amount)
}

// Refresh asks the poller for an immediate status check.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.poller.Refresh(ctx)
}

// View returns the current state for rendering.
func (c *Controller) View() View {
	snap := c.poller.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{Snapshot: snap, TimeLeft: FormatRemaining(0)}
	if c.current == nil {
		return v
	}
	exp := c.current.charge.ExpiresAt
	left := Remaining(exp, c.cfg.Now())
	v.Open = true
	v.OrderID = c.current.charge.OrderID
	v.QRString = c.current.charge.QRString
	v.Amount = c.current.amount
	v.ExpiresAt = &exp
	v.TimeLeft = FormatRemaining(left)
	v.CountdownDone = left == 0
	v.CanRegenerate = snap.Status == StatusExpired || (snap.Status == StatusPending && left == 0)
	return v
}

func (c *Controller) generate(ctx context.Context, amount decimal.Decimal) (View, error) {
	charge, err := c.cfg.Gateway.GenerateQrisPayment(ctx, amount)
	if err != nil {
		return View{}, fmt.Errorf("generate qris payment: %w", err)
	}
	if charge.OrderID == "" {
		return View{}, errors.New("generate qris payment: provider returned no order id")
	}
	if charge.ExpiresAt.IsZero() {
		charge.ExpiresAt = c.cfg.Now().Add(DefaultExpiry)
	}

	orderID := charge.OrderID
	c.mu.Lock()
	c.stopTimerLocked()
	c.current = &session{charge: charge, amount: amount}
	c.current.timer = c.cfg.AfterFunc(Remaining(charge.ExpiresAt, c.cfg.Now()), func() {
		c.expired(orderID, ExpiryCountdown)
	})
	c.expiredFor = ""
	c.mu.Unlock()

	if err := c.poller.SetOrder(ctx, orderID); err != nil {
		return View{}, err
	}
	if err := c.poller.SetEnabled(ctx, true); err != nil {
		return View{}, err
	}
	c.cfg.Logger.Info().Str("order_id", orderID).Str("amount", amount.String()).
		Time("expires_at", charge.ExpiresAt).Msg("qris code generated")
	return c.View(), nil
}

func (c *Controller) cancelAtProvider(ctx context.Context) {
	c.mu.Lock()
	var orderID string
	if c.current != nil {
		orderID = c.current.charge.OrderID
	}
	c.mu.Unlock()
	if orderID == "" {
		return
	}
	if err := c.cfg.Gateway.CancelQrisPayment(ctx, orderID); err != nil {
		c.cfg.Logger.Warn().Err(err).Str("order_id", orderID).Msg("qris cancel failed, ignoring")
	}
}

func (c *Controller) reset(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.current = nil
	c.mu.Unlock()
	if err := c.poller.SetEnabled(ctx, false); err != nil {
		return err
	}
	return c.poller.SetOrder(ctx, "")
}

func (c *Controller) stopTimerLocked() {
	if c.current != nil && c.current.timer != nil {
		c.current.timer.Stop()
		c.current.timer = nil
	}
}

func (c *Controller) settled(orderID string) {
	c.mu.Lock()
	var amount decimal.Decimal
	if c.current != nil && c.current.charge.OrderID == orderID {
		amount = c.current.amount
		c.stopTimerLocked()
	}
	c.mu.Unlock()
	if c.cfg.OnSettled != nil {
		c.cfg.OnSettled(orderID, amount)
	}
}

func (c *Controller) expired(orderID string, source ExpirySource) {
	c.mu.Lock()
	if c.current == nil || c.current.charge.OrderID != orderID || c.expiredFor == orderID {
		c.mu.Unlock()
		return
	}
	if source == ExpiryCountdown && c.poller.Snapshot().Status != StatusPending {
		c.mu.Unlock()
		return
	}
	c.expiredFor = orderID
	c.mu.Unlock()

	c.cfg.Logger.Info().Str("order_id", orderID).Str("source", string(source)).Msg("qris code expired")
	if c.cfg.OnExpired != nil {
		c.cfg.OnExpired(orderID, source)
	}
}

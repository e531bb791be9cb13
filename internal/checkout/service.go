package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/kasir-pos/internal/obs"
	"github.com/noah-isme/kasir-pos/internal/pricing"
)

// Transaction is the persisted record returned by the backend.
type Transaction struct {
	ID             string          `json:"id"`
	CashierID      int64           `json:"cashier_id"`
	Timestamp      string          `json:"timestamp,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountID     *int64          `json:"discount_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	PaymentMethod  Method          `json:"payment_method"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	Status         string          `json:"status"`
	Notes          *string         `json:"notes"`
}

// Submitter persists a finalized payload. The idempotency key is unique per
// checkout attempt.
type Submitter interface {
	SubmitTransaction(ctx context.Context, payload Payload, idempotencyKey string) (Transaction, error)
}

// ReceiptPrinter asks the backend to print a stored transaction.
type ReceiptPrinter interface {
	PrintReceipt(ctx context.Context, transactionID string) error
}

// Receipt is what the cashier sees after a successful payment.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Quote       Quote       `json:"quote"`
}

// Service submits finalized carts. Use a pointer; it tracks print hand-offs.
type Service struct {
	Submitter    Submitter
	Printer      ReceiptPrinter
	Logger       zerolog.Logger
	Validate     *validator.Validate
	PrintTimeout time.Duration
	NewKey       func() string

	printing sync.WaitGroup
}

// Checkout finalizes the cart, submits it and clears the cart once the
// backend accepts it. Any failure leaves the cart untouched.
func (s *Service) Checkout(ctx context.Context, c *pricing.Cart, req Request) (Receipt, error) {
	if s == nil || s.Submitter == nil {
		return Receipt{}, errors.New("checkout service not configured")
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.Checkout")
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("checkout.method", string(req.Method)),
			attribute.String("checkout.result", result),
		)
		if obs.TransactionSubmitTotal != nil {
			obs.TransactionSubmitTotal.WithLabelValues(string(req.Method), result).Inc()
		}
	}()

	payload, quote, err := Finalize(c, req)
	if err != nil {
		result = "rejected"
		return Receipt{}, err
	}
	if err := s.validator().Struct(payload); err != nil {
		result = "rejected"
		return Receipt{}, fmt.Errorf("invalid transaction payload: %w", err)
	}

	key := s.newKey()
	tx, err := s.Submitter.SubmitTransaction(ctx, payload, key)
	if obs.TransactionSubmitLatency != nil {
		obs.TransactionSubmitLatency.WithLabelValues(string(req.Method)).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Logger.Error().Err(err).
			Str("payment_method", string(req.Method)).
			Str("idempotency_key", key).
			Int64("total", payload.TotalAmount).
			Msg("transaction submission failed, cart kept")
		return Receipt{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	c.Clear()
	result = "ok"
	span.SetAttributes(attribute.String("checkout.transaction_id", tx.ID))
	s.Logger.Info().
		Str("transaction_id", tx.ID).
		Str("payment_method", string(req.Method)).
		Int64("total", payload.TotalAmount).
		Str("change", quote.Change.String()).
		Msg("transaction completed")

	s.printAsync(tx.ID)
	return Receipt{Transaction: tx, Quote: quote}, nil
}

// Wait blocks until pending receipt print requests finish.
func (s *Service) Wait() {
	s.printing.Wait()
}

func (s *Service) printAsync(transactionID string) {
	if s.Printer == nil || transactionID == "" {
		return
	}
	timeout := s.PrintTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s.printing.Add(1)
	go func() {
		defer s.printing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Printer.PrintReceipt(ctx, transactionID); err != nil {
			s.Logger.Warn().Err(err).Str("transaction_id", transactionID).Msg("receipt print failed")
		}
	}()
}

func (s *Service) validator() *validator.Validate {
	if s.Validate != nil {
		return s.Validate
	}
	return defaultValidator
}

func (s *Service) newKey() string {
	if s.NewKey != nil {
		return s.NewKey()
	}
	return uuid.NewString()
}

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

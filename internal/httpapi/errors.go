package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/kasir-pos/internal/backend"
	"github.com/noah-isme/kasir-pos/internal/catalog"
	"github.com/noah-isme/kasir-pos/internal/checkout"
	"github.com/noah-isme/kasir-pos/internal/common"
	"github.com/noah-isme/kasir-pos/internal/discount"
	"github.com/noah-isme/kasir-pos/internal/payment"
	"github.com/noah-isme/kasir-pos/internal/pos"
	"github.com/noah-isme/kasir-pos/internal/qris"
	"github.com/noah-isme/kasir-pos/internal/ratelimit"
	"github.com/noah-isme/kasir-pos/internal/resilience"
)

// toAppError maps domain failures onto the API error envelope. Messages are
// shown to the cashier as-is.
func toAppError(err error) *common.AppError {
	if appErr, ok := common.AsAppError(err); ok {
		return appErr
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
		return common.ValidationError("Data tidak valid", err).WithDetails(details)
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrEmptyBarcode):
		return common.NotFound("Produk tidak ditemukan", err)
	case errors.Is(err, catalog.ErrOutOfStock):
		return common.NewAppError(common.CodeOutOfStock, "Stok produk habis", http.StatusConflict, err)
	case errors.Is(err, pos.ErrLineNotFound):
		return common.NotFound("Produk tidak ada di keranjang", err)
	case errors.Is(err, pos.ErrUnknownDiscount):
		return common.NotFound("Diskon tidak ditemukan", err)
	case errors.Is(err, pos.ErrQrisPending):
		return common.NewAppError(common.CodeConflict, "Pembayaran QRIS sedang berlangsung", http.StatusConflict, err)
	case errors.Is(err, checkout.ErrEmptyCart):
		return common.ValidationError("Keranjang kosong", err)
	case errors.Is(err, checkout.ErrInsufficientPayment):
		return common.ValidationError("Jumlah bayar kurang dari total", err)
	case errors.Is(err, checkout.ErrUnknownMethod):
		return common.ValidationError("Metode pembayaran tidak dikenal", err)
	case errors.Is(err, discount.ErrMinimumPurchaseUnmet):
		return common.ValidationError("Belum memenuhi minimum pembelian", err)
	case errors.Is(err, discount.ErrInactive):
		return common.ValidationError("Diskon tidak aktif", err)
	case errors.Is(err, payment.ErrAmountTooSmall):
		return common.ValidationError("Nominal QRIS di bawah minimum", err)
	case errors.Is(err, qris.ErrInvalidAmount):
		return common.ValidationError("Nominal QRIS tidak valid", err)
	case errors.Is(err, qris.ErrNoSession):
		return common.NotFound("Tidak ada sesi QRIS", err)
	case errors.Is(err, ratelimit.ErrLimited):
		return common.NewAppError(common.CodeRateLimited, "Terlalu banyak permintaan, coba lagi nanti", http.StatusTooManyRequests, err)
	case errors.Is(err, pos.ErrQrisUnavailable):
		return common.NewAppError(common.CodeUpstreamUnavailable, "QRIS belum dikonfigurasi", http.StatusServiceUnavailable, err)
	case errors.Is(err, checkout.ErrSubmissionFailed):
		return common.NewAppError(common.CodeSubmissionFailed, "Transaksi gagal disimpan, keranjang tidak diubah", http.StatusBadGateway, err)
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, backend.ErrNotConfigured),
		errors.Is(err, payment.ErrGateway), errors.Is(err, resilience.ErrOpenCircuit):
		return common.UpstreamUnavailable("Server tidak dapat dihubungi", err)
	}
	return common.NewAppError(common.CodeInternal, "Terjadi kesalahan", http.StatusInternalServerError, err)
}

package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QrisPollTotal counts QRIS status checks by normalised outcome.
	QrisPollTotal *prometheus.CounterVec
	// QrisChargeTotal counts QR generation attempts per gateway.
	QrisChargeTotal *prometheus.CounterVec
	// TransactionSubmitTotal counts checkout submissions by payment method and outcome.
	TransactionSubmitTotal *prometheus.CounterVec
	// TransactionSubmitLatency records submission round trips in milliseconds.
	TransactionSubmitLatency *prometheus.HistogramVec
	// BarcodeScanTotal counts scanned barcodes by how they were resolved.
	BarcodeScanTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the terminal's domain collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QrisPollTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qris_poll_total",
			Help:      "Count of QRIS status checks by outcome.",
		}, []string{"result"})
		QrisChargeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qris_charge_total",
			Help:      "Count of QRIS code generation attempts.",
		}, []string{"gateway", "result"})
		TransactionSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_submit_total",
			Help:      "Count of transaction submissions by payment method and outcome.",
		}, []string{"method", "result"})
		TransactionSubmitLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_submit_duration_ms",
			Help:      "Latency of transaction submissions in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"method"})
		BarcodeScanTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barcode_scan_total",
			Help:      "Count of scanned barcodes by resolution.",
		}, []string{"result"})

		mustRegisterCollector(reg, QrisPollTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QrisPollTotal = v
			}
		})
		mustRegisterCollector(reg, QrisChargeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QrisChargeTotal = v
			}
		})
		mustRegisterCollector(reg, TransactionSubmitTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TransactionSubmitTotal = v
			}
		})
		mustRegisterCollector(reg, TransactionSubmitLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				TransactionSubmitLatency = v
			}
		})
		mustRegisterCollector(reg, BarcodeScanTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BarcodeScanTotal = v
			}
		})
	})
}

// CountQrisPoll increments QrisPollTotal when domain metrics are registered.
func CountQrisPoll(result string) {
	if QrisPollTotal != nil {
		QrisPollTotal.WithLabelValues(result).Inc()
	}
}

// CountQrisCharge increments QrisChargeTotal when domain metrics are registered.
func CountQrisCharge(gateway, result string) {
	if QrisChargeTotal != nil {
		QrisChargeTotal.WithLabelValues(gateway, result).Inc()
	}
}

// CountBarcodeScan increments BarcodeScanTotal when domain metrics are registered.
func CountBarcodeScan(result string) {
	if BarcodeScanTotal != nil {
		BarcodeScanTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

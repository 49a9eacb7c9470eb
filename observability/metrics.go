package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *vaultMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *oracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nusd",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nusd",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nusd",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, statusLabel(status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

type vaultMetrics struct {
	operations   *prometheus.CounterVec
	liquidations prometheus.Counter
	debtSupply   prometheus.Gauge
}

// VaultMetrics returns the registry tracking collateral engine activity.
func VaultMetrics() *vaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nusd",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Count of settled vault operations segmented by kind.",
			}, []string{"operation"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nusd",
				Subsystem: "vault",
				Name:      "liquidations_total",
				Help:      "Count of settled liquidations.",
			}),
			debtSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nusd",
				Subsystem: "vault",
				Name:      "debt_supply_wad",
				Help:      "Advisory outstanding synthetic debt on the 1e18 scale.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.liquidations,
			vaultRegistry.debtSupply,
		)
	})
	return vaultRegistry
}

// RecordOperation increments the settled-operation counter for the kind.
func (m *vaultMetrics) RecordOperation(operation string) {
	if m == nil || operation == "" {
		return
	}
	m.operations.WithLabelValues(operation).Inc()
}

// RecordLiquidation increments the liquidation counter.
func (m *vaultMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// SetDebtSupply publishes the advisory aggregate debt. The gauge is a
// dashboard aid, not an accounting source; precision loss past float64 is
// acceptable here.
func (m *vaultMetrics) SetDebtSupply(debt *big.Int) {
	if m == nil || debt == nil {
		return
	}
	value, _ := new(big.Float).SetInt(debt).Float64()
	m.debtSupply.Set(value)
}

type oracleMetrics struct {
	quoteAge *prometheus.GaugeVec
	failures *prometheus.CounterVec
	pushes   *prometheus.CounterVec
}

// OracleMetrics returns the registry tracking price feed health.
func OracleMetrics() *oracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &oracleMetrics{
			quoteAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nusd",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the most recently served observation per asset.",
			}, []string{"asset"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nusd",
				Subsystem: "oracle",
				Name:      "failures_total",
				Help:      "Count of rejected oracle reads segmented by reason.",
			}, []string{"reason"}),
			pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nusd",
				Subsystem: "oracle",
				Name:      "price_pushes_total",
				Help:      "Count of operator price submissions segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.quoteAge,
			oracleRegistry.failures,
			oracleRegistry.pushes,
		)
	})
	return oracleRegistry
}

// ObserveQuoteAge publishes the age of a served observation for the asset.
func (m *oracleMetrics) ObserveQuoteAge(asset string, age time.Duration) {
	if m == nil || asset == "" || age < 0 {
		return
	}
	m.quoteAge.WithLabelValues(asset).Set(age.Seconds())
}

// RecordFailure increments the failure counter for the reason.
func (m *oracleMetrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.failures.WithLabelValues(reason).Inc()
}

// RecordPush increments the price submission counter for the asset.
func (m *oracleMetrics) RecordPush(asset string) {
	if m == nil || asset == "" {
		return
	}
	m.pushes.WithLabelValues(asset).Inc()
}

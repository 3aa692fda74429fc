package services

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/HSouheill/mlm_ledger/models"
)

// LedgerMetrics exposes engine counters. A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	ledgerWrites       *prometheus.CounterVec
	ledgerAmount       *prometheus.CounterVec
	commissionLegs     *prometheus.CounterVec
	distributionTime   prometheus.Histogram
	accrualRecords     *prometheus.CounterVec
	accrualBatchAmount prometheus.Gauge
	accrualBatchTime   prometheus.Histogram
	lockContention     *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *LedgerMetrics
)

// Metrics returns the process-wide metrics, registering them on first use.
func Metrics() *LedgerMetrics {
	metricsOnce.Do(func() {
		metricsRegistry = &LedgerMetrics{
			ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mlm_ledger_writes_total",
				Help: "Ledger credits and debits by bucket, direction and outcome.",
			}, []string{"bucket", "direction", "outcome"}),
			ledgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mlm_ledger_amount_total",
				Help: "Sum of applied ledger amounts by bucket and direction.",
			}, []string{"bucket", "direction"}),
			commissionLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mlm_commission_legs_total",
				Help: "Commission fan-out units by level and outcome.",
			}, []string{"level", "outcome"}),
			distributionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "mlm_commission_distribution_seconds",
				Help:    "Wall time of one deposit distribution.",
				Buckets: prometheus.DefBuckets,
			}),
			accrualRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mlm_accrual_records_total",
				Help: "Accrual records by outcome.",
			}, []string{"outcome"}),
			accrualBatchAmount: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "mlm_accrual_last_batch_amount",
				Help: "Total credited by the most recent accrual batch.",
			}),
			accrualBatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "mlm_accrual_batch_seconds",
				Help:    "Wall time of one accrual batch.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			}),
			lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mlm_lock_contention_total",
				Help: "Lock acquisitions refused because another holder owns the key.",
			}, []string{"scope"}),
		}
		prometheus.MustRegister(
			metricsRegistry.ledgerWrites,
			metricsRegistry.ledgerAmount,
			metricsRegistry.commissionLegs,
			metricsRegistry.distributionTime,
			metricsRegistry.accrualRecords,
			metricsRegistry.accrualBatchAmount,
			metricsRegistry.accrualBatchTime,
			metricsRegistry.lockContention,
		)
	})
	return metricsRegistry
}

func (m *LedgerMetrics) ObserveLedgerWrite(bucket models.Bucket, direction models.Direction, amount decimal.Decimal, err error) {
	if m == nil {
		return
	}
	m.ledgerWrites.WithLabelValues(string(bucket), string(direction), outcome(err)).Inc()
	if err == nil {
		m.ledgerAmount.WithLabelValues(string(bucket), string(direction)).Add(amount.InexactFloat64())
	}
}

func (m *LedgerMetrics) ObserveCommissionLeg(level int, result string) {
	if m == nil {
		return
	}
	m.commissionLegs.WithLabelValues(levelLabel(level), result).Inc()
}

func (m *LedgerMetrics) ObserveDistribution(started time.Time) {
	if m == nil {
		return
	}
	m.distributionTime.Observe(time.Since(started).Seconds())
}

func (m *LedgerMetrics) ObserveAccrual(result string) {
	if m == nil {
		return
	}
	m.accrualRecords.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) ObserveAccrualBatch(summary *models.AccrualBatchSummary) {
	if m == nil || summary == nil {
		return
	}
	m.accrualBatchAmount.Set(summary.TotalAccrued.InexactFloat64())
	m.accrualBatchTime.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
}

func (m *LedgerMetrics) ObserveLockContention(scope string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(scope).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case models.IsRecoverable(err):
		return "rejected"
	default:
		return "error"
	}
}

func levelLabel(level int) string {
	if level < 1 || level > models.MaxDepth {
		return "unknown"
	}
	return strconv.Itoa(level)
}

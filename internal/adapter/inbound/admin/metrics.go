// Package admin provides the HTTP admin API: approval session operations,
// chain verification, audit access, and prometheus metrics.
package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for execguard.
// Pass to components that need to record metrics.
type Metrics struct {
	AuthorizationsTotal     *prometheus.CounterVec
	AuthorizationDuration   prometheus.Histogram
	PendingSessions         prometheus.Gauge
	SessionDecisionsTotal   *prometheus.CounterVec
	CertificatesMinted      prometheus.Counter
	ChainVerificationsTotal *prometheus.CounterVec
	AuditDropsTotal         prometheus.CounterFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// auditDrops reports the cumulative audit backpressure drop count.
func NewMetrics(reg prometheus.Registerer, auditDrops func() float64) *Metrics {
	if auditDrops == nil {
		auditDrops = func() float64 { return 0 }
	}
	return &Metrics{
		AuthorizationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "execguard",
				Name:      "authorizations_total",
				Help:      "Total proposal authorizations evaluated",
			},
			[]string{"result"}, // result=allow/deny
		),
		AuthorizationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "execguard",
				Name:      "authorization_duration_seconds",
				Help:      "Authorization evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PendingSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "execguard",
				Name:      "pending_sessions",
				Help:      "Number of undecided approval sessions",
			},
		),
		SessionDecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "execguard",
				Name:      "session_decisions_total",
				Help:      "Total approval session decisions recorded",
			},
			[]string{"kind"},
		),
		CertificatesMinted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "execguard",
				Name:      "certificates_minted_total",
				Help:      "Total execution certificates minted",
			},
		),
		ChainVerificationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "execguard",
				Name:      "chain_verifications_total",
				Help:      "Total chain verification runs",
			},
			[]string{"result"}, // result=valid/invalid
		),
		AuditDropsTotal: promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "execguard",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
			auditDrops,
		),
	}
}

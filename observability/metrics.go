package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics records request activity on the JSON-RPC surface.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// SettlementMetrics records engine level outcomes: escrows settled, auctions
// closed, disputes resolved.
type SettlementMetrics struct {
	escrowSettled    *prometheus.CounterVec
	auctionClosed    *prometheus.CounterVec
	disputeResolved  *prometheus.CounterVec
	valueReleased    *prometheus.CounterVec
	maintenanceRuns  prometheus.Counter
	maintenanceFails prometheus.Counter
}

var (
	rpcOnce sync.Once
	rpcReg  *RPCMetrics

	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// RPC returns the lazily-initialised RPC metrics registry.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcReg = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gavel",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcReg.requests, rpcReg.errors, rpcReg.latency)
	})
	return rpcReg
}

// Observe records the outcome and latency of one RPC call.
func (m *RPCMetrics) Observe(method string, err bool, code int, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			escrowSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "settlement",
				Name:      "escrows_total",
				Help:      "Escrows reaching a terminal status, segmented by status.",
			}, []string{"status"}),
			auctionClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "settlement",
				Name:      "auctions_total",
				Help:      "Auctions reaching a terminal status, segmented by mechanism and status.",
			}, []string{"mechanism", "status"}),
			disputeResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "settlement",
				Name:      "disputes_total",
				Help:      "Disputes settled, segmented by outcome.",
			}, []string{"outcome"}),
			valueReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "settlement",
				Name:      "value_moved_total",
				Help:      "Token value moved out of custody, segmented by token and direction.",
			}, []string{"token", "direction"}),
			maintenanceRuns: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "settlement",
				Name:      "maintenance_runs_total",
				Help:      "Lazy maintenance sweeps executed.",
			}),
			maintenanceFails: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gavel",
				Subsystem: "settlement",
				Name:      "maintenance_failures_total",
				Help:      "Lazy maintenance sweeps that returned an error.",
			}),
		}
		prometheus.MustRegister(
			settlementReg.escrowSettled,
			settlementReg.auctionClosed,
			settlementReg.disputeResolved,
			settlementReg.valueReleased,
			settlementReg.maintenanceRuns,
			settlementReg.maintenanceFails,
		)
	})
	return settlementReg
}

// EscrowSettled counts one escrow reaching a terminal status.
func (m *SettlementMetrics) EscrowSettled(status string) {
	if m == nil {
		return
	}
	m.escrowSettled.WithLabelValues(status).Inc()
}

// AuctionClosed counts one auction reaching a terminal status.
func (m *SettlementMetrics) AuctionClosed(mechanism, status string) {
	if m == nil {
		return
	}
	m.auctionClosed.WithLabelValues(mechanism, status).Inc()
}

// DisputeResolved counts one settled dispute.
func (m *SettlementMetrics) DisputeResolved(outcome string) {
	if m == nil {
		return
	}
	m.disputeResolved.WithLabelValues(outcome).Inc()
}

// ValueMoved books token value leaving custody toward a party.
func (m *SettlementMetrics) ValueMoved(token, direction string, amount float64) {
	if m == nil {
		return
	}
	m.valueReleased.WithLabelValues(token, direction).Add(amount)
}

// MaintenanceRun counts one lazy maintenance sweep and its outcome.
func (m *SettlementMetrics) MaintenanceRun(failed bool) {
	if m == nil {
		return
	}
	m.maintenanceRuns.Inc()
	if failed {
		m.maintenanceFails.Inc()
	}
}

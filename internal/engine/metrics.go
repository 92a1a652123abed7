package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: время обработки вызова конвертом (включая обработчик актора)
	ActionDuration *prometheus.HistogramVec

	// Traffic: общее кол-во вызовов
	TotalActions *prometheus.CounterVec

	// Errors: классификация отказов (unauthenticated, insufficient_trust, ...)
	ErrorTotal *prometheus.CounterVec

	// Ledger: применение событий доверия и заморозки
	TrustEvents *prometheus.CounterVec
	Freezes     prometheus.Counter

	// Coordination: исходы маршрутизации и глубина очередей
	Coordination *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	reg prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		reg: reg,

		ActionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustmesh_action_duration_seconds",
			Help:    "Histogram of envelope call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"actor_id", "action", "status"}),

		TotalActions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustmesh_actions_total",
			Help: "Total number of envelope calls.",
		}, []string{"actor_id", "action"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustmesh_errors_total",
			Help: "Total number of failed envelope calls by error kind.",
		}, []string{"type"}),

		TrustEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustmesh_trust_events_total",
			Help: "Trust events submitted to the ledger by outcome.",
		}, []string{"event_type", "outcome"}), // applied, duplicate, rejected_frozen, unknown, error

		Freezes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "trustmesh_freezes_total",
			Help: "Principals frozen by the fraud detector or operators.",
		}),

		Coordination: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustmesh_coordination_total",
			Help: "Coordination requests by priority and outcome.",
		}, []string{"priority", "outcome"}),

		QueueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustmesh_coordination_queue_depth",
			Help: "Queued coordination requests per priority tier.",
		}, []string{"priority"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustmesh_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"connector_id"}),
	}
}

// TrackAuditBuffer публикует заполненность буфера AgentFS.
func (m *Metrics) TrackAuditBuffer(utilization func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trustmesh_audit_buffer_utilization",
		Help: "Fraction of the audit buffer in use.",
	}, utilization)
}

// TrackFrozenPrincipals публикует число замороженных принципалов по данным кластера.
func (m *Metrics) TrackFrozenPrincipals(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trustmesh_frozen_principals",
		Help: "Principals currently frozen across the cluster.",
	}, func() float64 { return float64(count()) })
}

// EventApplied и PrincipalFrozen реализуют ledger.Instrumentation.
func (m *Metrics) EventApplied(eventType, outcome string) {
	m.TrustEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) PrincipalFrozen() { m.Freezes.Inc() }

// CoordinationRouted и SetQueueDepth реализуют coordination.Instrumentation.
func (m *Metrics) CoordinationRouted(priority, outcome string) {
	m.Coordination.WithLabelValues(priority, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(priority string, depth int) {
	m.QueueDepth.WithLabelValues(priority).Set(float64(depth))
}

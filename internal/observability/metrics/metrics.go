package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "salon"

// ConversationMetrics tracks chat turns and stage transitions.
type ConversationMetrics struct {
	turnsTotal       *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns by stage at entry and classified intent",
		}, []string{"stage", "intent"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Stage transitions",
		}, []string{"from", "to"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "failures_total",
			Help:      "Turns that ended in a system failure or timeout",
		}, []string{"kind"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "Time to process one conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.transitionsTotal, m.failuresTotal, m.turnLatency)
	return m
}

func (m *ConversationMetrics) ObserveTurn(stage, intent string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(stage, intent).Inc()
	m.turnLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *ConversationMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *ConversationMetrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(kind).Inc()
}

// BookingMetrics tracks commits, status changes and slot queries.
type BookingMetrics struct {
	commitsTotal       *prometheus.CounterVec
	statusChangesTotal *prometheus.CounterVec
	slotQueryLatency   *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "commits_total",
			Help:      "Booking commit attempts by outcome",
		}, []string{"service_type", "outcome"}),
		statusChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "status_changes_total",
			Help:      "Booking status transitions",
		}, []string{"status"}),
		slotQueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "slot_query_seconds",
			Help:      "Latency of slot availability queries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"service_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.commitsTotal, m.statusChangesTotal, m.slotQueryLatency)
	return m
}

func (m *BookingMetrics) ObserveCommit(serviceType, outcome string) {
	if m == nil {
		return
	}
	m.commitsTotal.WithLabelValues(serviceType, outcome).Inc()
}

func (m *BookingMetrics) ObserveStatusChange(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.statusChangesTotal.WithLabelValues(status).Add(float64(n))
}

func (m *BookingMetrics) ObserveSlotQuery(serviceType string, seconds float64) {
	if m == nil {
		return
	}
	m.slotQueryLatency.WithLabelValues(serviceType).Observe(seconds)
}

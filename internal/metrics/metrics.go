package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters for the monitoring loops, reminders and dose actions.
// All methods are safe on a nil receiver.
type Metrics struct {
	ticks         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	doseActions   *prometheus.CounterVec
	adherenceRate *prometheus.GaugeVec
	watched       *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carewatch",
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Polling loop ticks by outcome",
		}, []string{"loop", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carewatch",
			Subsystem: "monitor",
			Name:      "transitions_total",
			Help:      "Persisted automatic appointment status transitions",
		}, []string{"from", "to"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carewatch",
			Subsystem: "backend",
			Name:      "errors_total",
			Help:      "Failed backend calls by operation",
		}, []string{"operation"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carewatch",
			Subsystem: "reminder",
			Name:      "buckets_total",
			Help:      "Claimed reminder buckets by threshold and outcome",
		}, []string{"threshold", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carewatch",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Notification dispatch attempts by platform and result",
		}, []string{"platform", "result"}),
		doseActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carewatch",
			Subsystem: "dose",
			Name:      "mark_taken_total",
			Help:      "Mark-dose-taken actions by result",
		}, []string{"result"}),
		adherenceRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carewatch",
			Subsystem: "adherence",
			Name:      "rate_percent",
			Help:      "Last computed adherence rate per patient",
		}, []string{"patient"}),
		watched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carewatch",
			Subsystem: "loop",
			Name:      "watched_appointments",
			Help:      "Appointments held by each loop",
		}, []string{"loop"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.ticks, m.transitions, m.backendErrors, m.reminders,
		m.notifications, m.doseActions, m.adherenceRate, m.watched)
	return m
}

// ObserveTick satisfies poller.Observer
func (m *Metrics) ObserveTick(loop string, skipped bool) {
	if m == nil {
		return
	}
	result := "ran"
	if skipped {
		result = "skipped"
	}
	m.ticks.WithLabelValues(loop, result).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveBackendError(operation string) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveReminder(threshold int, outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(strconv.Itoa(threshold), outcome).Inc()
}

func (m *Metrics) ObserveNotification(platform, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) ObserveDoseAction(result string) {
	if m == nil {
		return
	}
	m.doseActions.WithLabelValues(result).Inc()
}

func (m *Metrics) SetAdherence(patientID int64, rate int) {
	if m == nil {
		return
	}
	m.adherenceRate.WithLabelValues(strconv.FormatInt(patientID, 10)).Set(float64(rate))
}

func (m *Metrics) SetWatched(loop string, n int) {
	if m == nil {
		return
	}
	m.watched.WithLabelValues(loop).Set(float64(n))
}

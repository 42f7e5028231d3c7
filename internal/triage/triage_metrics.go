package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted      prometheus.Counter
	SessionsCompleted    *prometheus.CounterVec
	SessionRestarts      prometheus.Counter
	AnswersTotal         *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	ClassificationScore  *prometheus.HistogramVec
	NotificationsTotal   *prometheus.CounterVec
	CriticalTotal        prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcketvet_triage_sessions_started_total",
			Help: "Total triage sessions started.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcketvet_triage_sessions_completed_total",
			Help: "Total triage sessions completed by tier.",
		}, []string{"tier"}),
		SessionRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcketvet_triage_session_restarts_total",
			Help: "Total triage session restarts.",
		}),
		AnswersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcketvet_triage_answers_total",
			Help: "Total answers recorded by severity level.",
		}, []string{"level"}),
		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcketvet_triage_classifications_total",
			Help: "Total classifications by tier and source (session or direct).",
		}, []string{"tier", "source"}),
		ClassificationScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawcketvet_triage_score",
			Help:    "Total score of classified answer sets.",
			Buckets: prometheus.LinearBuckets(0, 5, 17), // 0 .. 80
		}, []string{"source"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawcketvet_triage_notifications_total",
			Help: "Total urgent triage notifications by result.",
		}, []string{"result"}),
		CriticalTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawcketvet_triage_critical_total",
			Help: "Classifications containing at least one critical answer.",
		}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsCompleted,
		m.SessionRestarts,
		m.AnswersTotal,
		m.ClassificationsTotal,
		m.ClassificationScore,
		m.NotificationsTotal,
		m.CriticalTotal,
	)

	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) restarted() {
	if m == nil {
		return
	}
	m.SessionRestarts.Inc()
}

func (m *Metrics) answered(level Level) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) classified(r *Result, source string) {
	if m == nil {
		return
	}
	if source == "session" {
		m.SessionsCompleted.WithLabelValues(string(r.Tier)).Inc()
	}
	m.ClassificationsTotal.WithLabelValues(string(r.Tier), source).Inc()
	m.ClassificationScore.WithLabelValues(source).Observe(float64(r.Total))
	if r.HasCritical {
		m.CriticalTotal.Inc()
	}
}

func (m *Metrics) notified(result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

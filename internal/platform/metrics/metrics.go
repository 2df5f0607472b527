package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the verification flow.
type Metrics struct {
	RequestLatency       *prometheus.HistogramVec
	VerificationsStarted prometheus.Counter
	CallbackOutcomes     *prometheus.CounterVec
	RolesResolved        *prometheus.CounterVec
	ChallengeFailures    *prometheus.CounterVec
	Lockouts             *prometheus.CounterVec
	TokensIssued         prometheus.Counter
	WebhooksReceived     *prometheus.CounterVec
	ReconcileWait        prometheus.Histogram
	ProviderErrors       *prometheus.CounterVec
	RateLimited          *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tipline_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		VerificationsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "tipline_verifications_started_total",
			Help: "Total number of identity verifications started",
		}),
		CallbackOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_callback_outcomes_total",
			Help: "Provider callbacks by reconciliation outcome",
		}, []string{"outcome"}),
		RolesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_roles_resolved_total",
			Help: "Role resolutions by resolved role",
		}, []string{"role"}),
		ChallengeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_challenge_failures_total",
			Help: "Failed secret or OTP challenge attempts",
		}, []string{"challenge"}),
		Lockouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_lockouts_total",
			Help: "Sessions invalidated after exhausting challenge attempts",
		}, []string{"challenge"}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tokens_issued_total",
			Help: "Session tokens issued to authenticated staff",
		}),
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_webhooks_received_total",
			Help: "Provider webhooks by handling result",
		}, []string{"result"}),
		ReconcileWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tipline_reconcile_wait_seconds",
			Help:    "Time the callback spent waiting for the webhook record",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_provider_errors_total",
			Help: "Identity provider call failures by category",
		}, []string{"category"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}, []string{"route"}),
	}
}

func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	m.RequestLatency.WithLabelValues(route, method, status).Observe(d.Seconds())
}

func (m *Metrics) IncVerificationsStarted() { m.VerificationsStarted.Inc() }

func (m *Metrics) IncCallbackOutcome(outcome string) {
	m.CallbackOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRoleResolved(role string) { m.RolesResolved.WithLabelValues(role).Inc() }

func (m *Metrics) IncChallengeFailure(challenge string) {
	m.ChallengeFailures.WithLabelValues(challenge).Inc()
}

func (m *Metrics) IncLockout(challenge string) { m.Lockouts.WithLabelValues(challenge).Inc() }

func (m *Metrics) IncTokensIssued() { m.TokensIssued.Inc() }

func (m *Metrics) IncWebhook(result string) { m.WebhooksReceived.WithLabelValues(result).Inc() }

func (m *Metrics) ObserveReconcileWait(d time.Duration) { m.ReconcileWait.Observe(d.Seconds()) }

func (m *Metrics) IncProviderError(category string) {
	m.ProviderErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) IncRateLimited(route string) { m.RateLimited.WithLabelValues(route).Inc() }

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	AskRequests       *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	TokensConsumed    *prometheus.CounterVec
	ModerationEvents  *prometheus.CounterVec
	RecallSnippets    prometheus.Histogram
	SessionsCreated   prometheus.Counter
	MergeEvents       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		AskRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_requests_total",
			Help:      "Ask calls by outcome.",
		}, []string{"outcome"}),
		CompletionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_seconds",
			Help:      "Wall-clock latency of completion calls.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 60},
		}),
		TokensConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_consumed_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"direction"}),
		ModerationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_events_total",
			Help:      "Moderation tags observed in character replies.",
		}, []string{"tag"}),
		RecallSnippets: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_snippets",
			Help:      "Snippets injected per ask call.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Web sessions created (guest bootstrap and sign-in).",
		}),
		MergeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_events_total",
			Help:      "Guest-to-account merges by result.",
		}, []string{"result"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

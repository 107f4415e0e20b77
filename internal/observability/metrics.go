package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	LiveAgents        prometheus.Gauge
	Settlements       *prometheus.CounterVec
	ChildrenSpawned   prometheus.Counter
	OperatorQuestions prometheus.Counter
	Interventions     prometheus.Counter
	NodeRunSeconds    prometheus.Histogram
	StoreErrors       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		LiveAgents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_agents",
			Help:      "Number of agent nodes currently registered in the live tree.",
		}),
		Settlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Agent node settlements by terminal status.",
		}, []string{"status"}),
		ChildrenSpawned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "children_spawned_total",
			Help:      "Child agent nodes spawned by fan-out.",
		}),
		OperatorQuestions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_questions_total",
			Help:      "Blocking questions surfaced to the operator.",
		}),
		Interventions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "Operator overrides applied to live nodes.",
		}),
		NodeRunSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_run_seconds",
			Help:      "Wall time from node creation to settlement in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Result store failures by operation.",
		}, []string{"op"}),
	}
}

func (m *Metrics) ObserveNodeRun(d time.Duration) {
	m.NodeRunSeconds.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

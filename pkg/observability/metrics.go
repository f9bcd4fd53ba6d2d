package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records engine activity on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	nodeVisits   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	messages     *prometheus.CounterVec
	executions   *prometheus.CounterVec
}

// NewMetrics creates the tendril collectors plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_node_visits_total",
				Help: "Total number of node visits",
			},
			[]string{"flow_id", "node_type"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tendril_node_duration_seconds",
				Help:    "Duration of node handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node_type", "status"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_messages_sent_total",
				Help: "Messages handed to the messaging gateway",
			},
			[]string{"kind", "status"},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_executions_total",
				Help: "Executions that paused or ended, by status",
			},
			[]string{"flow_id", "status"},
		),
	}
	m.registry.MustRegister(
		m.nodeVisits,
		m.nodeDuration,
		m.messages,
		m.executions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			m.nodeVisits.WithLabelValues(e.FlowID, string(e.NodeType)).Inc()
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			m.nodeDuration.WithLabelValues(string(e.NodeType), outcome(e.Err)).Observe(e.Duration.Seconds())
		},
		OnMessageSent: func(ctx context.Context, e *domain.MessageEvent) {
			m.messages.WithLabelValues(string(e.Kind), outcome(e.Err)).Inc()
		},
		OnExecutionEnded: func(ctx context.Context, e *domain.ExecutionEvent) {
			m.executions.WithLabelValues(e.FlowID, string(e.Status)).Inc()
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

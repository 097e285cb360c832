package observability

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "marketflow"

// PipelineMetrics holds the collectors updated by a pipeline run. Each run
// owns its registry; nothing is registered globally.
type PipelineMetrics struct {
	Registry *prometheus.Registry

	StepDuration *prometheus.HistogramVec
	StepRuns     *prometheus.CounterVec
	RowsWritten  *prometheus.GaugeVec
	CheckResults *prometheus.CounterVec
	LastSuccess  prometheus.Gauge
}

// NewPipelineMetrics creates and registers the pipeline collectors
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		Registry: prometheus.NewRegistry(),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of each pipeline step.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"step"}),
		StepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Pipeline step executions by outcome.",
		}, []string{"step", "status"}),
		RowsWritten: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_rows",
			Help:      "Rows loaded, merged or written by the last execution of a step.",
		}, []string{"step"}),
		CheckResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dq_checks_total",
			Help:      "Data quality check outcomes.",
		}, []string{"table", "check", "status"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful run.",
		}),
	}

	m.Registry.MustRegister(m.StepDuration, m.StepRuns, m.RowsWritten, m.CheckResults, m.LastSuccess)
	return m
}

// Pusher sends a registry to a Prometheus Pushgateway at the end of a run.
type Pusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

// NewPusher returns nil when no endpoint is configured.
func NewPusher(endpoint, job string, grouping map[string]string) *Pusher {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if strings.TrimSpace(job) == "" {
		job = namespace
	}
	return &Pusher{endpoint: endpoint, job: job, grouping: grouping}
}

// Push replaces the job's metrics on the gateway with the registry's.
func (p *Pusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	for key, value := range p.grouping {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}

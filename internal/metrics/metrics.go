// Package metrics exposes prometheus instrumentation for sync runs and the report API.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

const namespace = "cloudsize"

// JobCounter is the store view needed for job state gauges
type JobCounter interface {
	GetJobCount(ctx context.Context, state types.JobState) (int, error)
}

// Metrics holds the collectors of one process
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetched  prometheus.Counter
	FilesRecorded prometheus.Counter
	FilesInserted prometheus.Counter
	StatFailures  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	APIRetries    prometheus.Counter
	LastRun       prometheus.Gauge
}

// New creates the collectors and registers them on a private registry
func New() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Registry:      prometheus.NewRegistry(),
		PagesFetched:  counter("pages_fetched_total", "File listing pages fetched from the management API."),
		FilesRecorded: counter("files_recorded_total", "File descriptors processed from fetched pages."),
		FilesInserted: counter("files_inserted_total", "File rows newly written to the store."),
		StatFailures:  counter("stat_failures_total", "Files whose size could not be determined locally."),
		JobsCompleted: counter("jobs_completed_total", "Cloud jobs whose file listing was fully drained."),
		JobsFailed:    counter("jobs_failed_total", "Cloud jobs whose sync was aborted."),
		APIRetries:    counter("api_retries_total", "Management API calls retried after a non-success status."),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last update run finished.",
		}),
	}

	m.Registry.MustRegister(
		m.PagesFetched,
		m.FilesRecorded,
		m.FilesInserted,
		m.StatFailures,
		m.JobsCompleted,
		m.JobsFailed,
		m.APIRetries,
		m.LastRun,
	)

	return m
}

// RegisterJobStates adds gauges reporting the number of stored jobs per state
func (m *Metrics) RegisterJobStates(store JobCounter) error {
	for _, state := range []types.JobState{types.StateProcessing, types.StateComplete} {
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "jobs",
			Help:        "Cloud jobs recorded in the store by sync state.",
			ConstLabels: prometheus.Labels{"state": string(state)},
		}, func() float64 {
			count, err := store.GetJobCount(context.Background(), state)
			if err != nil {
				logrus.WithError(err).WithField("state", state).Warn("Failed to count jobs for metrics")
				return 0
			}
			return float64(count)
		})
		if err := m.Registry.Register(gauge); err != nil {
			return fmt.Errorf("failed to register job state gauge: %w", err)
		}
	}
	return nil
}

// WriteTextfile writes the current values in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

const pushJob = "editlog_parser"

// RunMetrics holds the gauges describing one run
type RunMetrics struct {
	registry *prometheus.Registry

	filesScanned  prometheus.Gauge
	filesSkipped  prometheus.Gauge
	linesRead     prometheus.Gauge
	eventsMatched prometheus.Gauge
	eventsNew     prometheus.Gauge
	duration      prometheus.Gauge
	state         *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

// NewRunMetrics registers the run gauges on a private registry
func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		filesScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_files_scanned",
			Help: "Log files scanned by the last run",
		}),
		filesSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_files_skipped",
			Help: "Log files skipped by the last run because of an error",
		}),
		linesRead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_lines_read",
			Help: "Complete lines read by the last run",
		}),
		eventsMatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_events_matched",
			Help: "Item update lines matched by the last run",
		}),
		eventsNew: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_events_recorded",
			Help: "New item update events recorded by the last run",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "editlog_last_run_state",
			Help: "1 for the terminal state of the last run",
		}, []string{"state"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "editlog_last_success_timestamp_seconds",
			Help: "Unix time of the last run that reached done",
		}),
	}

	m.registry.MustRegister(
		m.filesScanned, m.filesSkipped, m.linesRead, m.eventsMatched,
		m.eventsNew, m.duration, m.state,
	)
	return m
}

// Observe copies a finished run summary into the gauges
func (m *RunMetrics) Observe(s *domain.RunSummary) {
	m.filesScanned.Set(float64(s.FilesScanned))
	m.filesSkipped.Set(float64(s.FilesSkipped))
	m.linesRead.Set(float64(s.LinesRead))
	m.eventsMatched.Set(float64(s.EventsMatched))
	m.eventsNew.Set(float64(s.EventsNew))
	m.duration.Set(s.EndTime.Sub(s.StartTime).Seconds())

	for _, st := range []domain.RunState{domain.RunDone, domain.RunSkipped, domain.RunFailed} {
		v := 0.0
		if s.State == st {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}

	// Registered only on success; Push uses POST so a failed run keeps the old value
	if s.State == domain.RunDone {
		m.lastSuccess.Set(float64(s.EndTime.Unix()))
		if err := m.registry.Register(m.lastSuccess); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				log.Warn().Err(err).Msg("Failed to register last success gauge")
			}
		}
	}
}

// Registry exposes the private registry
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the gauges to a Prometheus Pushgateway grouped by parser name
func (m *RunMetrics) Push(ctx context.Context, url, parser string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := push.New(url, pushJob).
		Gatherer(m.registry).
		Grouping("parser", parser).
		AddContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

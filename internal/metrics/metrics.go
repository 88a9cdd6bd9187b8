package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	jobTransitions   *prometheus.CounterVec
	jobsActive       prometheus.Gauge
	jobDuration      *prometheus.HistogramVec
	clipsCreated     prometheus.Counter
	publishAttempts  *prometheus.CounterVec
	reportsTotal     *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	pollErrors       prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	jobsByStatus     *prometheus.GaugeVec
}

// New registers metrics on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers metrics on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		jobTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliphub_job_transitions_total",
				Help: "Total number of job state transitions by job type and target status",
			},
			[]string{"job_type", "status"},
		),
		jobsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cliphub_jobs_active",
				Help: "Number of jobs currently running",
			},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cliphub_job_duration_seconds",
				Help:    "Time from job start to terminal status in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
			},
			[]string{"job_type", "status"},
		),
		clipsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cliphub_clips_created_total",
				Help: "Total number of clips accepted by intake",
			},
		),
		publishAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliphub_publish_attempts_total",
				Help: "Publish attempts by result",
			},
			[]string{"result"},
		),
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliphub_status_reports_total",
				Help: "Status reports received from the processing service by source and result",
			},
			[]string{"source", "result"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cliphub_activity_duration_seconds",
				Help:    "Duration of Temporal activities in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"activity"},
		),
		pollErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cliphub_poll_errors_total",
				Help: "Transient errors observed while polling job status",
			},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliphub_event_handler_errors_total",
				Help: "Event handler failures by event name",
			},
			[]string{"event"},
		),
		jobsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cliphub_jobs",
				Help: "Number of stored jobs by status",
			},
			[]string{"status"},
		),
	}

	return m
}

// RecordJobTransition counts a transition into status
func (m *Metrics) RecordJobTransition(jobType, status string) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(jobType, status).Inc()
}

// IncrementJobsActive increments the active jobs gauge
func (m *Metrics) IncrementJobsActive() {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
}

// DecrementJobsActive decrements the active jobs gauge
func (m *Metrics) DecrementJobsActive() {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
}

// RecordJobDuration records how long a job ran before reaching status
func (m *Metrics) RecordJobDuration(jobType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(jobType, status).Observe(seconds)
}

// IncrementClipsCreated counts an accepted clip
func (m *Metrics) IncrementClipsCreated() {
	if m == nil {
		return
	}
	m.clipsCreated.Inc()
}

// RecordPublishAttempt counts a publish attempt by result
func (m *Metrics) RecordPublishAttempt(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// RecordReport counts a status report
func (m *Metrics) RecordReport(source, result string) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(source, result).Inc()
}

// RecordActivityDuration records the duration of an activity
func (m *Metrics) RecordActivityDuration(activity string, seconds float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity).Observe(seconds)
}

// IncrementPollErrors counts a transient poll failure
func (m *Metrics) IncrementPollErrors() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

// IncrementEventHandlerErrors counts a failed event handler
func (m *Metrics) IncrementEventHandlerErrors(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}

// SetJobsByStatus replaces the per-status job counts
func (m *Metrics) SetJobsByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	m.jobsByStatus.Reset()
	for status, n := range counts {
		m.jobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/lms-courier/internal/progress"
)

// PrometheusSink exports job lifecycle metrics. It owns the collectors for
// jobs started, finished and running, job runtime, kills and artifact results.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	jobsKilled    prometheus.Counter
	cancelRequest *prometheus.CounterVec
	artifacts     *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_jobs_finished_total",
			Help: "Total jobs finished partitioned by terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		jobsKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_jobs_killed_total",
			Help: "Workers forcibly terminated after the grace window.",
		}),
		cancelRequest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_cancel_requests_total",
			Help: "Cooperative cancellations partitioned by cause.",
		}, []string{"cause"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_artifacts_total",
			Help: "Artifact delivery outcomes.",
		}, []string{"result"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.jobsKilled,
		s.cancelRequest,
		s.artifacts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobCancelRequested:
		cause := evt.Note
		if cause == "" {
			cause = "unknown"
		}
		s.cancelRequest.WithLabelValues(cause).Inc()
	case progress.StageJobKilled:
		s.jobsKilled.Inc()
	case progress.StageJobDone:
		s.jobsFinished.WithLabelValues(evt.Status).Inc()
		if evt.Dur > 0 {
			s.jobRuntime.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	case progress.StageArtifactDelivered:
		s.artifacts.WithLabelValues("delivered").Inc()
	case progress.StageArtifactFailed:
		s.artifacts.WithLabelValues("failed").Inc()
	case progress.StageArtifactRetry:
		s.artifacts.WithLabelValues("retried").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

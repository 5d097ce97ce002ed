// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector records workflow operations. A nil *Collector is valid and records
// nothing.
type Collector struct {
	// Render
	rendersTotal      *prometheus.CounterVec
	renderDuration    *prometheus.HistogramVec
	renderActivities  prometheus.Histogram
	submitDirAttempts prometheus.Histogram

	// Persistence
	savesTotal        *prometheus.CounterVec
	saveDuration      *prometheus.HistogramVec
	loadsTotal        *prometheus.CounterVec
	templatesDeleted  prometheus.Counter
	elementsMutations *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the workflow metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.rendersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_renders_total",
			Help:      "Total number of workflow renders",
		},
		[]string{"status"},
	)

	c.renderDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_render_duration_seconds",
			Help:      "Workflow render duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	c.renderActivities = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_render_activities",
			Help:      "Number of top-level activities per compiled workflow",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.submitDirAttempts = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_submit_dir_attempts",
			Help:      "Attempts needed to create a submission directory",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
	)

	c.savesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_saves_total",
			Help:      "Total number of workflow saves",
		},
		[]string{"status"},
	)

	c.saveDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_save_duration_seconds",
			Help:      "Workflow save duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	c.loadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_loads_total",
			Help:      "Total number of workflow loads",
		},
		[]string{"version", "status"},
	)

	c.templatesDeleted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_templates_deleted_total",
			Help:      "Template folders removed after their last reference was deleted",
		},
	)

	c.elementsMutations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_element_mutations_total",
			Help:      "Authoring tree mutations",
		},
		[]string{"kind"},
	)

	return c
}

// =============================================================================
// Recording
// =============================================================================

// RecordRender records one render call.
func (c *Collector) RecordRender(err error, duration time.Duration, activities, attempts int) {
	if c == nil {
		return
	}
	status := statusOf(err)
	c.rendersTotal.WithLabelValues(status).Inc()
	c.renderDuration.WithLabelValues(status).Observe(duration.Seconds())
	if err == nil {
		c.renderActivities.Observe(float64(activities))
	}
	if attempts > 0 {
		c.submitDirAttempts.Observe(float64(attempts))
	}
}

// RecordSave records one save call.
func (c *Collector) RecordSave(err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := statusOf(err)
	c.savesTotal.WithLabelValues(status).Inc()
	c.saveDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLoad records one read call. version is empty when the document could
// not be parsed.
func (c *Collector) RecordLoad(version string, err error) {
	if c == nil {
		return
	}
	if version == "" {
		version = "unknown"
	}
	c.loadsTotal.WithLabelValues(version, statusOf(err)).Inc()
}

// RecordTemplateDeleted records the removal of an orphaned template folder.
func (c *Collector) RecordTemplateDeleted(template string) {
	if c == nil {
		return
	}
	c.templatesDeleted.Inc()
	c.logger.Debug("template deleted", zap.String("template", template))
}

// RecordMutation records an authoring tree mutation of the given kind.
func (c *Collector) RecordMutation(kind string) {
	if c == nil {
		return
	}
	c.elementsMutations.WithLabelValues(kind).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

/*
Package metrics records Prometheus metrics for workflow rendering,
persistence and tree mutations.

# Overview

Collector registers its vectors through promauto.With on a caller supplied
Registerer, so tests and embedding programs can use isolated registries.
All metrics share one namespace.

# Metrics

  - workflow_renders_total / workflow_render_duration_seconds by status
  - workflow_render_activities and workflow_submit_dir_attempts histograms
  - workflow_saves_total / workflow_save_duration_seconds by status
  - workflow_loads_total by document version and status
  - workflow_templates_deleted_total
  - workflow_element_mutations_total by mutation kind
*/
package metrics

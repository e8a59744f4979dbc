// Package metrics exposes the pipeline's Prometheus instrumentation:
// scan throughput, analyzer tool duration, and workflow stage outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ScansTotal counts completed scans by terminal status.
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secscan_scans_total",
		Help: "Total scans by terminal status.",
	}, []string{"status"})

	// FindingsTotal counts findings by triage verdict.
	FindingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secscan_findings_total",
		Help: "Total findings by AI triage verdict.",
	}, []string{"verdict"})

	// ToolExecDuration measures analyzer tool wall-clock duration.
	ToolExecDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "secscan_tool_exec_duration_seconds",
		Help:    "Analyzer tool execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	// WorkflowStageDuration measures per-finding workflow stage duration.
	WorkflowStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "secscan_workflow_stage_duration_seconds",
		Help:    "Workflow Engine stage duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// PatchesPublishedTotal counts findings whose patch survived sanity
	// checking and resulted in an opened pull request.
	PatchesPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "secscan_patches_published_total",
		Help: "Total findings for which a pull request was opened.",
	})
)

// Register adds every collector to reg. Call once at process startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(ScansTotal, FindingsTotal, ToolExecDuration, WorkflowStageDuration, PatchesPublishedTotal)
}

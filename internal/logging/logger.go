// Package logging provides the structured logger used across every
// component of the scan pipeline: a thin wrapper around logrus with
// context-scoped fields and domain-specific convenience methods.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	ctxKeyTraceID ctxKey = "trace_id"
	ctxKeyScanID  ctxKey = "scan_id"
)

// Logger wraps a *logrus.Logger with a fixed service name.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger for service with the given level ("debug", "info",
// "warn", "error") and format ("json" or "text").
func New(service, level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to info/text.
func NewFromEnv(service string) *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "text"
	}
	return New(service, level, format)
}

// WithContext returns a log entry carrying trace/scan ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithField("service", l.service)
	if traceID, ok := ctx.Value(ctxKeyTraceID).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if scanID, ok := ctx.Value(ctxKeyScanID).(int64); ok && scanID != 0 {
		entry = entry.WithField("scan_id", scanID)
	}
	return entry
}

// WithTraceID attaches a trace id to ctx for later retrieval by WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// WithScanID attaches a scan id to ctx for later retrieval by WithContext.
func WithScanID(ctx context.Context, scanID int64) context.Context {
	return context.WithValue(ctx, ctxKeyScanID, scanID)
}

// LogToolExecution logs one analyzer tool invocation outcome.
func (l *Logger) LogToolExecution(ctx context.Context, tool string, exitCode int, durationMS int64, stderrPreview string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"tool":        tool,
		"exit_code":   exitCode,
		"duration_ms": durationMS,
	})
	if err != nil {
		entry.WithField("stderr_preview", stderrPreview).WithField("event", "tool_exec_failed").Warn("analyzer tool failed")
		return
	}
	entry.WithField("event", "tool_exec_completed").Info("analyzer tool completed")
}

// LogWorkflowTransition logs a per-finding workflow state transition.
func (l *Logger) LogWorkflowTransition(ctx context.Context, findingID int64, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"event":      "workflow_transition",
		"finding_id": findingID,
		"from_state": from,
		"to_state":   to,
	}).Info("workflow transition")
}

// LogQueueTask logs a job-queue handler lifecycle event.
func (l *Logger) LogQueueTask(ctx context.Context, event, taskID string, retryCount int, durationMS int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"event":       event,
		"task_id":     taskID,
		"retry_count": retryCount,
		"duration_ms": durationMS,
	})
	if err != nil {
		entry.WithError(err).Error("queue task failed")
		return
	}
	entry.Info("queue task event")
}

// LogScanLifecycle logs a scan status transition.
func (l *Logger) LogScanLifecycle(ctx context.Context, scanID int64, status string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"event":   "scan_lifecycle",
		"scan_id": scanID,
		"status":  status,
	}).Info("scan status transition")
}

// LogServiceCall logs an outbound HTTP call to an external collaborator
// (LLM, sandbox, hosting API).
func (l *Logger) LogServiceCall(ctx context.Context, collaborator, operation string, durationMS int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"event":        "service_call",
		"collaborator": collaborator,
		"operation":    operation,
		"duration_ms":  durationMS,
	})
	if err != nil {
		entry.WithError(err).Warn("service call failed")
		return
	}
	entry.Debug("service call completed")
}

var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the package-level default logger, initializing one from
// the environment if InitDefault was never called.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewFromEnv("scanworker")
	}
	return defaultLogger
}

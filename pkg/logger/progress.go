package logger

import (
	"fmt"
	"sync"
	"time"
)

// OperationLogger logs the lifecycle of one import, reconciliation pass or
// maintenance command: a start entry, debug steps, progress, and a final
// success or error entry carrying the duration.
type OperationLogger struct {
	logger Logger
	start  time.Time

	mu     sync.Mutex
	fields Fields
}

// NewOperationLogger logs the start of operation and returns its logger.
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger: logger,
		start:  time.Now(),
		fields: Fields{"operation": operation},
	}
	ol.entry(nil).Info("Starting operation")
	return ol
}

// WithField attaches key to every later entry of the operation.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.mu.Lock()
	ol.fields[key] = value
	ol.mu.Unlock()
	return ol
}

func (ol *OperationLogger) entry(extra Fields) Logger {
	ol.mu.Lock()
	merged := make(Fields, len(ol.fields)+len(extra))
	for k, v := range ol.fields {
		merged[k] = v
	}
	ol.mu.Unlock()

	for k, v := range extra {
		merged[k] = v
	}
	return ol.logger.WithFields(merged)
}

// Step logs a named step within the operation.
func (ol *OperationLogger) Step(step string) {
	ol.entry(Fields{"step": step}).Debug("Operation step")
}

// Progress logs how many of total units are done.
func (ol *OperationLogger) Progress(message string, processed, total int64) {
	extra := Fields{"processed": processed, "total": total}
	if total > 0 {
		extra["percentage"] = fmt.Sprintf("%.1f%%", float64(processed)/float64(total)*100)
	}
	ol.entry(extra).Info(message)
}

// Warning logs a non-fatal problem, such as skipped rows.
func (ol *OperationLogger) Warning(message string, extra Fields) {
	ol.entry(extra).Warn(message)
}

// Success logs the end of a successful operation.
func (ol *OperationLogger) Success(message string, extra Fields) {
	ol.finish(extra, "success").Info(message)
}

// Error logs the end of a failed operation.
func (ol *OperationLogger) Error(err error, message string) {
	ol.finish(nil, "error").WithError(err).Error(message)
}

func (ol *OperationLogger) finish(extra Fields, status string) Logger {
	if extra == nil {
		extra = Fields{}
	}
	extra["duration"] = ol.Elapsed().String()
	extra["status"] = status
	return ol.entry(extra)
}

// Elapsed returns the time since the operation started.
func (ol *OperationLogger) Elapsed() time.Duration {
	return time.Since(ol.start)
}

// TimedOperation runs fn as a single-step operation.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)
	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}
	ol.Success("Operation completed", nil)
	return nil
}

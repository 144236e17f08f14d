// Package logctx builds the zap loggers shared by every component of the
// invocation core, and the field helpers used to keep "ExecutorID | JobID"
// style log lines consistent across packages (spec.md's
// "ExecutorID {} | JobID {} - ..." messages, translated into structured
// fields instead of format strings).
package logctx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at the given level, or a development
// logger with human-readable output when debug is true.
func New(level zapcore.Level, debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Job returns the executor_id/job_id fields attached to nearly every log
// line emitted by the runtime selector, dispatcher and monitor.
func Job(executorID, jobID string) []zap.Field {
	return []zap.Field{
		zap.String("executor_id", executorID),
		zap.String("job_id", jobID),
	}
}

// Call extends Job with the call_id field used by per-invocation logs.
func Call(executorID, jobID, callID string) []zap.Field {
	return append(Job(executorID, jobID), zap.String("call_id", callID))
}

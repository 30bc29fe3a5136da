package ruleflow

// Logger defines the interface for engine logging.
// The engine uses structured logging with key-value pairs so that module
// phase changes, rule failures and stall warnings read consistently no
// matter which sink the host application plugs in.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This shape is compatible with slog, zap's SugaredLogger, logrus and others.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	//
	// Example:
	//   logger.Info("Module operational", "module", "arena", "frame", 42)
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Rule failures and rejected orchestrator operations are logged here.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Stalling warnings are logged here before they escalate.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Phase changes and transition sequencing are logged here.
	Debug(msg string, args ...any)
}

// NopLogger discards everything. It is the default when no logger is configured.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Debug(string, ...any) {}

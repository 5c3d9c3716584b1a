// Package logger provides a simple, thread-safe leveled logger.
//
// Each entry carries a timestamp, level, an optional component tag
// (for example "worker-3" or "pool") and the formatted message.
//
// # Basic Usage
//
//	logger.Info("", "pool started")
//	logger.Warn("worker-2", "job %s failed: %v", id, err)
//
// Creating a custom logger, e.g. to capture output in tests:
//
//	var buf bytes.Buffer
//	l := logger.New(&buf, logger.LevelDebug)
//	l.Debug("pool", "spawning %d workers", n)
//
// # Log Levels
//
// Messages below the configured level are dropped:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel maps configuration strings ("debug", "info", "warn",
// "error") to a Level.
package logger

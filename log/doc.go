// Package log provides the leveled logging interface used across the
// service, with a stdlib-backed default and a golog-backed
// implementation for deployments.
//
// Five levels are supported, in order of increasing severity:
//
//   - LogLevelDebug: detailed troubleshooting information
//   - LogLevelInfo: general operation flow
//   - LogLevelWarn: recoverable issues that need attention
//   - LogLevelError: failures
//   - LogLevelNone: disables output
//
// A process-wide default logger is available through GetDefaultLogger /
// SetDefaultLogger and the package-level Debug/Info/Warn/Error
// functions. Components that take a Logger fall back to the default
// when given nil.
//
//	logger := log.NewGolog(log.LogLevelInfo)
//	log.SetDefaultLogger(logger)
//	logger.Info("ingest finished: %d chunks", n)
//
// Any type implementing the four logging methods satisfies Logger, so
// callers can plug in their own sink.
package log

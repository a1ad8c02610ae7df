// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for humans
//
// Components receive a *Logger through their constructors; there is no
// package-level global.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "3001"))
//	logger.Error("Synthesis failed", zap.Error(err))
package logging

// Package logger provides the structured logging interface used across igharvest.
//
// It wraps zerolog behind a small Logger interface so components can be handed
// a logger (or NewNopLogger / NewTestLogger in tests) without importing zerolog.
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//	logger.Info("server starting")
//	logger.WithField("target", "shop_one").Warn("stories unavailable")
//
// Derived loggers carry their fields into every later call:
//
//	log := logger.GetLogger().WithFields(map[string]interface{}{
//	    "component": "pipeline",
//	    "batch":     batchID,
//	})
//	log.InfoWithFields("item processed", map[string]interface{}{"index": 3})
//
// Console output is colorized for humans; set logging.format to "json" for
// machine-readable lines. When logging.file is set the file always receives JSON.
package logger

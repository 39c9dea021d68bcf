// Package logger builds configured slog.Logger instances with consistent
// attribute keys and optional context-based attribute injection.
//
// The factory covers the two deployment shapes the service runs in: JSON
// output for production aggregation and text output for local development,
// selected either explicitly or through the environment presets.
//
// # Usage
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Environment, "billingd"),
//		logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	logger.SetAsDefault(log)
//
// Context extractors run on every record at log time, so request-scoped
// values such as request IDs appear automatically on any log call that
// carries the request context.
//
// The attribute helpers (Error, UserID, EventID, ...) exist so the same
// concept always logs under the same key; prefer them over ad-hoc
// slog.String calls for shared keys.
package logger

// Package httpserver wraps net/http with graceful shutdown, environment
// configuration, and probe handlers.
//
// The server shuts down cleanly on context cancellation, SIGINT, or SIGTERM,
// draining in-flight requests within the configured shutdown timeout.
//
// # Usage
//
//	var cfg httpserver.Config
//	config.MustLoad(&cfg)
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server exited", logger.Error(err))
//	}
//
// Run blocks for the lifetime of the server; a nil return means a clean
// shutdown.
package httpserver

// Package redis provides Redis connection management with retries and a
// readiness probe.
//
// # Usage
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil { ... }
//
// Connect verifies the server with a ping before handing out the client, and
// retries within the configured timeout so a service starting alongside Redis
// does not crash-loop on the first refused connection.
package redis

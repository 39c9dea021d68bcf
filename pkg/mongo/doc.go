// Package mongo provides MongoDB connection management with retries, pooling
// configuration from the environment, and a readiness probe.
//
// # Usage
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil { ... }
//
// The returned client is verified with a ping before use, so a successful
// Connect means the database was actually reachable at startup.
package mongo

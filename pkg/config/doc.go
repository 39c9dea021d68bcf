// Package config loads typed configuration structs from environment
// variables, with optional .env support for local development.
//
// Configuration is declared as plain structs with env tags and loaded
// through the generic Load function. Each struct type is parsed exactly once
// per process and cached, so packages can load their own configuration
// independently without re-reading the environment or disagreeing about
// values.
//
// # Usage
//
//	type MongoConfig struct {
//		URL     string        `env:"MONGODB_URL,required"`
//		Timeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
//	}
//
//	var cfg MongoConfig
//	config.MustLoad(&cfg)
//
// Parsing is delegated to github.com/caarlos0/env; all of its tag syntax
// (required, envDefault, expand, ...) applies.
package config

// Package config loads server settings from the environment. All variables
// carry the CAMPUSIMT_ prefix.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/j5272000/campus-imaotai/internal/errs"
)

type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// RedisAddr empty runs the server on the in-process cache.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	// Base64-encoded securecookie keys; generate with `campusimt keys`.
	SessionHashKey  string `envconfig:"SESSION_HASH_KEY" required:"true"`
	SessionBlockKey string `envconfig:"SESSION_BLOCK_KEY" required:"true"`

	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownWait time.Duration `envconfig:"SHUTDOWN_WAIT" default:"30s"`
	PoolDrain    time.Duration `envconfig:"POOL_DRAIN" default:"60s"`
}

func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("campusimt", &c); err != nil {
		return Config{}, errs.Wrap(err, "load config")
	}
	return c, nil
}

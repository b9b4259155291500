// Package config loads the emitter's settings from the environment.
package config

import (
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"clickstream/internal/clickstream/metrics"
	"clickstream/internal/clickstream/tracing"
	"clickstream/internal/couchbase"
)

const (
	DriverKafka     = "kafka"
	DriverCouchbase = "couchbase"
)

type Config struct {
	KafkaBrokerHost string `env:"KAFKA_BROKER_HOST,required,notEmpty"`
	Driver          string `env:"PUBLISH_DRIVER" envDefault:"kafka"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"warn"`

	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
	Couchbase couchbase.Config

	CouchbaseQueueSize     int           `env:"COUCHBASE_QUEUE_SIZE" envDefault:"10000"`
	CouchbaseWorkers       int           `env:"COUCHBASE_WORKERS" envDefault:"4"`
	CouchbaseInsertTimeout time.Duration `env:"COUCHBASE_INSERT_TIMEOUT" envDefault:"5s"`
}

// Load parses environ into a Config.
func Load(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	switch cfg.Driver {
	case DriverKafka, DriverCouchbase:
	default:
		return Config{}, fmt.Errorf("unknown PUBLISH_DRIVER %q", cfg.Driver)
	}

	return cfg, nil
}

// Environ returns the process environment, merged over the variables in
// dotenvFile when one is given. Process variables take precedence.
func Environ(dotenvFile string) (map[string]string, error) {
	environ := make(map[string]string)

	if dotenvFile != "" {
		vars, err := godotenv.Read(dotenvFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dotenvFile, err)
		}
		maps.Copy(environ, vars)
	}

	maps.Copy(environ, env.ToMap(os.Environ()))

	return environ, nil
}

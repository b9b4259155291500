package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"clickstream/internal/clickstream"
	"clickstream/internal/clickstream/docstore"
	"clickstream/internal/clickstream/generator"
	"clickstream/internal/clickstream/kafka"
	"clickstream/internal/clickstream/metrics"
	"clickstream/internal/clickstream/publisher"
	"clickstream/internal/clickstream/supervisor"
	"clickstream/internal/clickstream/tracing"
	"clickstream/internal/config"
	"clickstream/internal/couchbase"
)

const version = "2.0.0"

// dialer builds the raw publish client for the configured driver.
type dialer func(cfg config.Config, logger *zap.Logger) (clickstream.Publisher, error)

func main() {
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	logger, err := newLogger(level)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	environ, err := config.Environ(os.Getenv("DOTENV_FILE"))
	if err != nil {
		logger.Fatal("failed to load environment", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, environ, logger, level, defaultDrivers.dial)
	stop()

	_ = logger.Sync()
	os.Exit(code)
}

func newLogger(level zap.AtomicLevel, opts ...zap.Option) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = level
	return zapConfig.Build(append([]zap.Option{zap.AddCaller()}, opts...)...)
}

func run(ctx context.Context, environ map[string]string, logger *zap.Logger, level zap.AtomicLevel, dial dialer) int {
	cfg, err := config.Load(environ)
	if err != nil {
		logger.Fatal("missing required configuration", zap.Error(err))
		return supervisor.ExitConstructionFailure
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logger.Warn("invalid log level, keeping default", zap.String("level", cfg.LogLevel), zap.Error(err))
	} else {
		level.SetLevel(zapLevel)
	}

	registry := metrics.NewRegistry()
	registry.SetSystemInfo(version, cfg.Driver)

	// the metrics server outlives the loop so the drain stays observable
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	var g errgroup.Group
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics, registry, logger)
		g.Go(func() error {
			if err := server.Start(serveCtx); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
			return nil
		})
	}

	tracer := tracing.NewNoopTracer(cfg.Tracing.ServiceName)
	if cfg.Tracing.Enabled {
		t, cleanup, err := tracing.NewTracer(cfg.Tracing)
		if err != nil {
			logger.Error("failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			tracer = t
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := cleanup(shutdownCtx); err != nil {
					logger.Error("failed to cleanup tracing", zap.Error(err))
				}
			}()
		}
	}

	logger.Warn("emitter starting",
		zap.String("target", cfg.KafkaBrokerHost),
		zap.String("topic", clickstream.Topic),
		zap.String("driver", cfg.Driver),
	)

	s, err := supervisor.New(func() (clickstream.Publisher, error) {
		p, err := dial(cfg, logger)
		if err != nil {
			return nil, err
		}
		return publisher.NewTracedPublisher(publisher.NewMetricsPublisher(p, registry), tracer), nil
	}, generator.New(), logger)
	if err != nil {
		logger.Error("failed to create supervisor", zap.Error(err))
		return supervisor.ExitConstructionFailure
	}

	code := s.Run(ctx)

	stopServing()
	_ = g.Wait()

	return code
}

// drivers builds the raw clients behind each PUBLISH_DRIVER value.
type drivers struct {
	openStore func(cfg couchbase.Config) (docstore.Store, error)
	newKafka  func(cfg kafka.Config, logger *zap.Logger) (clickstream.Publisher, error)
}

var defaultDrivers = drivers{
	openStore: func(cfg couchbase.Config) (docstore.Store, error) {
		store, err := couchbase.Open[docstore.Document](cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	},
	newKafka: func(cfg kafka.Config, logger *zap.Logger) (clickstream.Publisher, error) {
		client, err := kafka.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	},
}

func (d drivers) dial(cfg config.Config, logger *zap.Logger) (clickstream.Publisher, error) {
	switch cfg.Driver {
	case config.DriverCouchbase:
		store, err := d.openStore(cfg.Couchbase)
		if err != nil {
			return nil, fmt.Errorf("failed to open couchbase collection: %w", err)
		}

		p, err := docstore.New(store, logger, docstore.Options{
			QueueSize:     cfg.CouchbaseQueueSize,
			Workers:       cfg.CouchbaseWorkers,
			Retries:       kafka.Retries,
			InsertTimeout: cfg.CouchbaseInsertTimeout,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return p, nil
	default:
		return d.newKafka(kafka.NewConfig(cfg.KafkaBrokerHost), logger)
	}
}

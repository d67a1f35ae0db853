package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickmatch/engine/config"
	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/engine"
	"github.com/tickmatch/engine/pkg/journal"
	"github.com/tickmatch/engine/pkg/logging"
	"github.com/tickmatch/engine/pkg/messaging"
	"github.com/tickmatch/engine/pkg/messaging/kafka"
	"github.com/tickmatch/engine/pkg/otel"
	"github.com/tickmatch/engine/pkg/server"
)

const tradeRingSize = 4096

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Registered before the deferred closes below, so it runs after
	// them and the exit code reflects how the engine went down.
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	// Setup logging
	logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
	})
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Server.LogFormat == "pretty" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	// Initialize OpenTelemetry
	cleanup, err := otel.Init(otel.Config{
		ServiceVersion:   "1.0.0",
		Endpoint:         cfg.Otel.Endpoint,
		CollectorEnabled: cfg.Otel.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer cleanup()

	if cfg.Otel.Enabled {
		if err := otel.StartRuntimeMetrics(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	// Open the journal: one appender for the HTTP surface, one cursor
	// for the matcher.
	appender, err := journal.OpenAppender(journal.Config{
		Dir:            cfg.Journal.Dir,
		SegmentSize:    cfg.Journal.SegmentSize,
		SyncEachAppend: cfg.Journal.SyncEachAppend,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Journal.Dir).Msg("Failed to open journal appender")
	}
	defer appender.Close()

	cursor, err := journal.OpenCursor(cfg.Journal.Dir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Journal.Dir).Msg("Failed to open journal cursor")
	}

	logger.Info().Str("dir", cfg.Journal.Dir).Msg("Journal opened")

	// Trade egress: Kafka when configured, an in-process sink otherwise.
	var sender messaging.TradeSender
	if cfg.Kafka.Enabled {
		kafkaSender, err := kafka.NewKafkaTradeSender(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Kafka trade sender")
		}
		defer kafkaSender.Close()
		sender = kafkaSender
		logger.Info().Str("broker", cfg.Kafka.BrokerAddr).Str("topic", cfg.Kafka.Topic).Msg("Publishing trades to Kafka")
	} else {
		sender = messaging.NewMockTradeSender()
		logger.Info().Msg("Kafka disabled, trades kept in process")
	}

	// Assemble the engine: book, trade ring, matcher, publisher.
	var metrics engine.Metrics
	if m, err := otel.GetMatcherMetrics(); err != nil {
		logger.Warn().Err(err).Msg("Matcher metrics unavailable")
	} else {
		metrics = m
	}

	ring := engine.NewTradeRing(tradeRingSize)
	matcher := engine.NewMatcher(engine.Config{
		Book:    core.NewOrderBook(),
		Cursor:  cursor,
		Trades:  ring,
		Logger:  logger,
		Metrics: metrics,
	})
	publisher := engine.NewPublisher(ring, sender, logger)

	// Matcher and publisher get separate contexts so shutdown can stop
	// the producer side of the ring before the consumer drains it.
	matcherCtx, stopMatcher := context.WithCancel(context.Background())
	defer stopMatcher()
	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()

	matcherDone := make(chan error, 1)
	go func() { matcherDone <- matcher.Run(matcherCtx) }()

	publisherDone := make(chan struct{})
	go func() {
		publisher.Run(publisherCtx)
		close(publisherDone)
	}()

	// HTTP surface.
	srv := server.NewServer(appender, matcher, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Block until a signal arrives or the matcher dies on its own. A
	// journal I/O failure is fatal: the process must stop rather than
	// keep accepting orders it will never match; a restart replays the
	// log.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var matcherErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case matcherErr = <-matcherDone:
		matcherDone = nil
		logger.Error().Err(matcherErr).Msg("Matcher stopped unexpectedly, shutting down")
	}

	// Stop ingress first so the journal sees no new records.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Quiesce the matcher before canceling the publisher, so the final
	// ring drain sees every trade the matcher pushed.
	stopMatcher()
	if matcherDone != nil {
		if err := <-matcherDone; err != nil {
			matcherErr = err
		}
	}
	stopPublisher()
	<-publisherDone

	logger.Info().Msg("Shutdown complete")
	if matcherErr != nil {
		exitCode = 1
	}
}

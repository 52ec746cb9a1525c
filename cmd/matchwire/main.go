package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stonefield/matchwire/internal/infrastructure/configs"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/metrics"
	"github.com/stonefield/matchwire/internal/infrastructure/reporting"
	"github.com/stonefield/matchwire/internal/matchmaker"
	"github.com/stonefield/matchwire/internal/messaging"
	"github.com/stonefield/matchwire/internal/persistence/db"
	"github.com/stonefield/matchwire/internal/persistence/repository"
	"github.com/stonefield/matchwire/internal/workers/ops"
)

func main() {
	role := flag.String("role", "matchmaker", "worker role: matchmaker or ops")

	// DetermineConfigPath registers the -config flag and parses the
	// command line, picking up -role as well.
	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(logging.NewDefaultConfig())

	reporter, err := reporting.Init()
	if err != nil {
		log.Fatal(err)
	}
	defer reporter.Flush(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, err := db.NewMongoClient(ctx, cfg.Store)
	if err != nil {
		logger.Fatal(logging.Mongo, logging.Startup, "failed to connect to mongodb", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer db.DisconnectMongo(context.Background(), mongoClient)

	database := db.GetDatabase(mongoClient, cfg.Store)

	registry := prometheus.NewRegistry()
	stats := metrics.New(registry)

	metricsSrv := &http.Server{
		Addr:    cfg.Ops.MetricsAddr,
		Handler: metrics.Handler(registry),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(logging.Prometheus, logging.Startup, "metrics listener failed", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}()

	broker, err := messaging.Connect(cfg.Broker, logger)
	if err != nil {
		logger.Fatal(logging.Broker, logging.Startup, "failed to connect to broker", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer broker.Close()

	schemas := messaging.NewRegistry()
	if err := messaging.RegisterWellKnown(schemas); err != nil {
		log.Fatal(err)
	}

	publisher, err := messaging.NewPublisher(broker, schemas, logger, stats)
	if err != nil {
		logger.Fatal(logging.Broker, logging.Startup, "failed to create publisher", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	var worker *messaging.QueueWorker

	switch *role {
	case "matchmaker":
		worker, err = messaging.NewQueueWorker(broker, schemas, publisher, logger, reporter, stats, messaging.QueueOptions{
			Name:      cfg.MatchMaker.QueueName,
			Topics:    []string{"model.#"},
			Exclusive: true,
		})
		if err != nil {
			logger.Fatal(logging.Broker, logging.Startup, "failed to create queue worker", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}

		tickets := repository.NewTicketRepository(database)
		servers := repository.NewServerRepository(database)

		mm := matchmaker.New(cfg.MatchMaker, tickets, servers, publisher, logger, stats)
		if err := mm.Attach(worker); err != nil {
			log.Fatal(err)
		}

	case "ops":
		worker, err = messaging.NewQueueWorker(broker, schemas, publisher, logger, reporter, stats, messaging.QueueOptions{
			Name: cfg.Ops.QueueName,
		})
		if err != nil {
			logger.Fatal(logging.Broker, logging.Startup, "failed to create queue worker", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}

		pulls := repository.NewPullRecordRepository(database)
		ops.New(pulls, logger).Attach(worker)

	default:
		log.Fatalf("unknown role %q", *role)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit

		logger.Info(logging.General, logging.Shutdown, "signal received, stopping", map[logging.ExtraKey]any{
			"Signal": sig.String(),
		})

		worker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info(logging.General, logging.Startup, "worker starting", map[logging.ExtraKey]any{
		logging.AppName: "matchwire-" + *role,
	})

	if err := worker.Run(); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "worker exited with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

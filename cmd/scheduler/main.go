/**
 * @description
 * Entry point for the wallet scheduler. This is a non-HTTP, long-running process that runs
 * the cron jobs (due settlements, webhook retries, pending reconciliation, daily counter
 * reset) and triggers threshold settlements from balance-credited events.
 */
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/transfa/wallet-service/internal/bootstrap"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/jobs"
	"github.com/transfa/wallet-service/internal/settlement"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, logger, err := bootstrap.LoadConfig("wallet-scheduler")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	rt, err := bootstrap.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("rabbitmq url missing; threshold settlements run only from the cron sweep", "component", "bootstrap")
	} else if consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq consumer unavailable; threshold settlements run only from the cron sweep", "component", "bootstrap", "error", err)
	} else {
		defer consumer.Close()
		threshold := settlement.NewThresholdConsumer(rt.Schedules, time.Now, logger)
		bindings := map[string]rabbitmq.Handler{
			domain.RoutingKeyBalanceCredited: threshold.HandleMessage,
		}
		if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.ThresholdQueue, bindings); err != nil {
			logger.Error("threshold consumer start failed", "component", "bootstrap", "error", err)
			os.Exit(1)
		}
		logger.Info("threshold consumer started", "component", "bootstrap", "queue", cfg.ThresholdQueue)
	}

	runner := jobs.NewJobs(rt.Schedules, rt.Webhooks, rt.Service, time.Now, logger)
	scheduler := jobs.NewScheduler(runner, logger, cfg)

	if scheduled := scheduler.Start(); scheduled == 0 {
		logger.Error("no jobs scheduled; check the *_JOB_SCHEDULE settings")
		os.Exit(1)
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}

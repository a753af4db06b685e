package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/CourierDesk/config"
	"github.com/BearBump/CourierDesk/internal/broker/kafka"
	"github.com/BearBump/CourierDesk/internal/integrations/messenger"
	"github.com/BearBump/CourierDesk/internal/integrations/messenger/fake"
	"github.com/BearBump/CourierDesk/internal/integrations/messenger/smshttp"
	"github.com/BearBump/CourierDesk/internal/services/notifier"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type workerFactories struct {
	newStorage   func(cfg *config.Config) (repo notifier.Repository, closeFn func(), err error)
	newProducer  func(cfg *config.Config) notifier.Producer
	newMessenger func(cfg *config.Config) messenger.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (notifier.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgdispatch.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) notifier.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newMessenger: func(cfg *config.Config) messenger.Client {
			// Для демо без реального шлюза работает fake; http — боевой режим.
			if cfg.Dispatch.MessengerMode == "http" && cfg.Dispatch.MessengerBaseURL != "" {
				return smshttp.New(
					cfg.Dispatch.MessengerBaseURL,
					cfg.Dispatch.MessengerAPIKey,
					cfg.Dispatch.MessengerSender,
				)
			}
			return fake.New()
		},
	}
}

func buildNotifier(cfg *config.Config, f workerFactories) (*notifier.Notifier, func(), error) {
	topic := cfg.Kafka.OrderStatusTopic
	if topic == "" {
		topic = "orders.status.updated"
	}

	pollInterval := time.Duration(cfg.Dispatch.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.Dispatch.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.Dispatch.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.Dispatch.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 60 * time.Second
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	n := notifier.New(repo, f.newMessenger(cfg), f.newProducer(cfg), topic).
		WithSettings(pollInterval, batchSize, concurrency, lease).
		WithPlanner(notifier.PlannerConfig{
			Backoff1: time.Duration(cfg.Dispatch.WorkerBackoff1Seconds) * time.Second,
			Backoff2: time.Duration(cfg.Dispatch.WorkerBackoff2Seconds) * time.Second,
			Backoff3: time.Duration(cfg.Dispatch.WorkerBackoff3Seconds) * time.Second,
			Backoff4: time.Duration(cfg.Dispatch.WorkerBackoff4Seconds) * time.Second,
		})
	return n, closeFn, nil
}

func RunNotifyWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	n, closeFn, err := buildNotifier(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return n.Run(ctx)
}

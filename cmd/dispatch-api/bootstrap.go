package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CourierDesk/config"
	"github.com/BearBump/CourierDesk/internal/api/dispatchapi"
	"github.com/BearBump/CourierDesk/internal/broker/kafka"
	"github.com/BearBump/CourierDesk/internal/cache/rediscache"
	"github.com/BearBump/CourierDesk/internal/services/assignment"
	"github.com/BearBump/CourierDesk/internal/services/deliverycode"
	"github.com/BearBump/CourierDesk/internal/services/dispatch"
	"github.com/BearBump/CourierDesk/internal/services/settlement"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type dispatchAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     dispatchAPIOpts
	handler  *dispatchapi.Handler
	orders   *dispatch.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapDispatchAPI() *dispatchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Dispatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Dispatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "dispatch-api"
	}
	topic := cfg.Kafka.PaymentUpdatedTopic
	if topic == "" {
		topic = "payments.updated"
	}

	deliveryFee := cfg.Dispatch.DeliveryFee
	if deliveryFee <= 0 {
		deliveryFee = 300000 // 3000 рублей в копейках
	}
	allowance := cfg.Dispatch.BalanceAllowance
	if allowance <= 0 {
		allowance = 500000
	}
	cacheTTL := time.Duration(cfg.Dispatch.BalanceCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	orders := dispatch.New(st)
	assignments := assignment.New(st, assignment.Config{
		CodeLength:   cfg.Dispatch.CodeLength,
		TrackBaseURL: cfg.Dispatch.TrackBaseURL,
	})
	codes := deliverycode.New(st, rl, deliverycode.Config{
		AttemptLimit:       cfg.Dispatch.CodeAttemptLimit,
		LenientMatch:       cfg.Dispatch.LenientCodeMatch,
		RateLimitPerMinute: int64(cfg.Dispatch.CodeRateLimitPerMinute),
	})
	settlements := settlement.New(st, codes, rc, settlement.Config{
		DeliveryFee:      deliveryFee,
		BalanceAllowance: allowance,
		BalanceCacheTTL:  cacheTTL,
	})

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &dispatchAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: dispatchAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		handler:  dispatchapi.New(orders, assignments, settlements),
		orders:   orders,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdispatch.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdispatch.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *dispatchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *dispatchAPIApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.handler, a.orders, a.consumer)
}

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BearBump/CourierDesk/config"
	"github.com/BearBump/CourierDesk/internal/services/notifier"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	notifier *notifier.Notifier
	cfg      *config.Config
}

// runWorkerHTTPServer — операционный интерфейс воркера: здоровье, статистика,
// принудительный цикл. Наружу не публикуется.
func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.notifier == nil {
			_, _ = w.Write([]byte(`{"error":"notifier not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.notifier.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты не показываем; только операционные настройки воркера.
		out := map[string]any{
			"pollIntervalSeconds": opts.cfg.Dispatch.WorkerPollIntervalSeconds,
			"batchSize":           opts.cfg.Dispatch.WorkerBatchSize,
			"concurrency":         opts.cfg.Dispatch.WorkerConcurrency,
			"leaseSeconds":        opts.cfg.Dispatch.WorkerLeaseSeconds,
			"backoff1Seconds":     opts.cfg.Dispatch.WorkerBackoff1Seconds,
			"backoff2Seconds":     opts.cfg.Dispatch.WorkerBackoff2Seconds,
			"backoff3Seconds":     opts.cfg.Dispatch.WorkerBackoff3Seconds,
			"backoff4Seconds":     opts.cfg.Dispatch.WorkerBackoff4Seconds,
			"messengerMode":       opts.cfg.Dispatch.MessengerMode,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.notifier == nil {
			_, _ = w.Write([]byte(`{"error":"notifier not wired"}`))
			return
		}
		opts.notifier.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

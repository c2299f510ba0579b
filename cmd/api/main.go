package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stazama/api"
	"stazama/auth"
	"stazama/config"
	"stazama/db"
	"stazama/logging"
	"stazama/notify"
	"stazama/outbox"
	"stazama/rbac"
	"stazama/receipt"
	"stazama/request"
	"stazama/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database pool bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	resolver := rbac.NewResolver(rbac.NewPGBackend(pool), log)
	notifier := notify.NewLogNotifier(log)

	authSvc := auth.NewService(auth.NewRepository(pool), resolver, cfg.JWTSecret)
	requests := request.NewRepository(pool)
	receipts := receipt.NewRepository(pool)
	issuer := receipt.NewIssuer()
	workflowSvc := workflow.NewService(requests, workflow.NewMutator(pool), issuer, notifier, log)

	if cfg.AMQPURL != "" {
		publisher, err := outbox.NewAMQPPublisher(cfg.AMQPURL, cfg.OutboxExchange)
		if err != nil {
			log.Error("amqp publisher bootstrap failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		dispatcher := outbox.NewDispatcher(pool, publisher, log,
			time.Duration(cfg.OutboxIntervalMS)*time.Millisecond)
		go dispatcher.Run(ctx)
		log.Info("outbox dispatcher started", "exchange", cfg.OutboxExchange)
	} else {
		log.Warn("AMQP_URL not set, outbox rows will accumulate unpublished")
	}

	server := api.NewServer(authSvc, resolver, requests, workflowSvc, receipts, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(authSvc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
}

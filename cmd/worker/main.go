package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LabelDrop/internal/app"
	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireShared(); err != nil {
		log.Fatal("worker refuses process-local stores", "error", err)
	}

	a, err := app.New(ctx, cfg, log, "labeldrop-worker")
	if err != nil {
		log.Fatal("init app", "error", err)
	}
	defer a.Close(context.Background())

	objects, err := a.Objects(ctx)
	if err != nil {
		log.Fatal("init object storage", "error", err)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Workers,
	})
	processor := worker.NewProcessor(a.Generations(), objects, a.Pipeline, log.With("component", "worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info("worker started", "concurrency", cfg.Workers)
	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

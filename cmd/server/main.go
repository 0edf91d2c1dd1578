// Command server runs the LabelDrop HTTP API. With LABELDROP_REDIS_ADDR set,
// generations are enqueued for cmd/worker; otherwise they run in process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LabelDrop/internal/api"
	"github.com/dharsanguruparan/LabelDrop/internal/app"
	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/processing"
	"github.com/dharsanguruparan/LabelDrop/internal/queue"
	"github.com/dharsanguruparan/LabelDrop/internal/signing"
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

	a, err := app.New(ctx, cfg, log, "labeldrop-api")
	if err != nil {
		log.Fatal("init app", "error", err)
	}
	defer a.Close(context.Background())

	repo := a.Generations()
	objects, err := a.Objects(ctx)
	if err != nil {
		log.Fatal("init object storage", "error", err)
	}

	var dispatcher queue.Dispatcher
	if cfg.RedisAddr != "" {
		if err := cfg.RequireShared(); err != nil {
			log.Fatal("queued generations need stores shared with the worker", "error", err)
		}
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		dispatcher = queue.NewAsynqDispatcher(client)
	} else {
		processor := worker.NewProcessor(repo, objects, a.Pipeline, log.With("component", "worker"))
		pool := processing.New(processor.Run, cfg.Workers, log.With("component", "processing"))
		pool.Start(ctx)
		dispatcher = pool
		log.Info("no redis configured, running generations in process", "workers", cfg.Workers)
	}

	srv := api.New(api.Deps{
		Config:   cfg,
		Repo:     repo,
		Objects:  objects,
		Queue:    dispatcher,
		Preview:  a.Pipeline,
		Registry: a.Registry,
		Signer:   signing.NewSigner(cfg.SigningSecret),
		Log:      log.With("component", "api"),
	})
	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

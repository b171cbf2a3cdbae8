package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stocksight/api"
	"stocksight/internal/config"
	"stocksight/internal/ledger"
	"stocksight/internal/queue"
	"stocksight/internal/syncer"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	store, err := queue.Open(cfg.QueuePath)
	if err != nil {
		panic(fmt.Errorf("error opening local sale queue: %v", err))
	}
	defer store.Close()

	client := ledger.NewRESTClient(cfg.LedgerBaseURL, cfg.LedgerAPIKey, cfg.LedgerTimeout, logger)
	defer client.Close()

	engine := syncer.NewEngine(store, client, logger, syncer.Options{
		BackoffBase: cfg.RetryBackoffBase,
		BackoffCap:  cfg.RetryBackoffCap,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := syncer.NewScheduler(engine, cfg.SyncInterval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	r := gin.Default()
	api.InitRoutes(r, engine, scheduler, logger)

	if err := r.Run(cfg.HTTPAddr); err != nil {
		panic(fmt.Errorf("error trying to start server: %v", err))
	}
}

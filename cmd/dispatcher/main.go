// Standalone webhook delivery dispatcher. Runs the same claim/attempt/settle
// loop as the API binary; deploy it separately when delivery volume should not
// share a process with request handling. Claims use FOR UPDATE SKIP LOCKED,
// so running both at once is safe.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acedergren/running-days-sub001/internal/config"
	"github.com/acedergren/running-days-sub001/internal/delivery"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	dispatcher := delivery.NewDispatcher(pool, delivery.Config{
		PollInterval:     cfg.DeliveryPollInterval,
		BatchSize:        cfg.DeliveryBatchSize,
		Concurrency:      cfg.DeliveryConcurrency,
		BaseDelay:        cfg.DeliveryBaseDelay,
		MaxDelay:         cfg.DeliveryMaxDelay,
		FailureThreshold: cfg.DeliveryFailureThreshold,
	})
	go dispatcher.Start(ctx)

	log.Printf("delivery dispatcher polling every %s", cfg.DeliveryPollInterval)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh
	cancel()

	dispatcher.Wait()
}

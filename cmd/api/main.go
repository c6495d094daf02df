package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acedergren/running-days-sub001/internal/api"
	"github.com/acedergren/running-days-sub001/internal/auth"
	"github.com/acedergren/running-days-sub001/internal/config"
	"github.com/acedergren/running-days-sub001/internal/delivery"
	"github.com/acedergren/running-days-sub001/internal/domain"
	"github.com/acedergren/running-days-sub001/internal/outbox"
	persistence "github.com/acedergren/running-days-sub001/internal/persistence/postgres"
	httptransport "github.com/acedergren/running-days-sub001/internal/transport/http"
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

	if err := persistence.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	outboxDispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go outboxDispatcher.Start(ctx)

	deliveryDispatcher := delivery.NewDispatcher(pool, delivery.Config{
		PollInterval:     cfg.DeliveryPollInterval,
		BatchSize:        cfg.DeliveryBatchSize,
		Concurrency:      cfg.DeliveryConcurrency,
		BaseDelay:        cfg.DeliveryBaseDelay,
		MaxDelay:         cfg.DeliveryMaxDelay,
		FailureThreshold: cfg.DeliveryFailureThreshold,
	})
	go deliveryDispatcher.Start(ctx)

	service := domain.NewService(repo)
	engine := domain.NewSyncEngine(service, repo)

	handler := api.NewHandler(service, engine, repo, repo, repo)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Webhook-Token")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	// The webhook path authenticates with its own export token, and probes
	// carry no credentials at all.
	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" ||
			r.URL.Path == "/metrics" ||
			strings.HasPrefix(r.URL.Path, "/v1/webhook")
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("running-days listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	outboxDispatcher.Wait()
	deliveryDispatcher.Wait()
}

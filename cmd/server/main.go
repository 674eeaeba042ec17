package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"scholaris/console/internal/bus"
	"scholaris/console/internal/clients"
	"scholaris/console/internal/config"
	"scholaris/console/internal/db"
	internalhttp "scholaris/console/internal/http"
	"scholaris/console/internal/jobs"
	"scholaris/console/internal/notify"
	"scholaris/console/internal/session"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping failed: %v", err)
	}
	cancel()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}()

	var eventBus bus.Bus
	if cfg.NATSUrl != "" {
		natsBus, err := bus.NewNatsBus(cfg.NATSUrl)
		if err != nil {
			log.Fatalf("nats connect failed: %v", err)
		}
		eventBus = natsBus
	} else {
		log.Printf("NATS_URL not set, using in-process bus")
		eventBus = bus.NewLocalBus()
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Printf("bus close error: %v", err)
		}
	}()

	sessions := session.NewStore(redisClient, cfg.SessionTTL)
	notifications := notify.NewService(store, notify.NewHub(), redisClient)
	unsubscribe, err := notifications.Subscribe(eventBus)
	if err != nil {
		log.Fatalf("bus subscribe failed: %v", err)
	}
	defer unsubscribe()

	backendClients := clients.New(cfg.IdentityBaseURL, cfg.SchoolAPIBaseURL, cfg.ServiceAuthToken, cfg.BackendTimeout)

	server := internalhttp.NewServer(cfg, sessions, notifications, backendClients)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartRetentionJob(ctx, cfg, store)

	go func() {
		log.Printf("console http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// Package main 消费服务入口：推送端点 + 推送泵 + 监控网关
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	brokerredis "event-pipeline/internal/broker/redis"
	"event-pipeline/internal/config"
	"event-pipeline/internal/consumer"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/monitor"
	"event-pipeline/internal/projection"
	"event-pipeline/internal/pusher"
	"event-pipeline/internal/ratelimit"
	"event-pipeline/internal/readmodel"
	"event-pipeline/internal/schema"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting Consumer... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// MongoDB 读模型
	store, err := readmodel.NewStore(cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer store.Close()
	log.Println("Connected to MongoDB")

	// Redis Streams broker
	brk, err := brokerredis.NewStore(cfg.RedisURL, cfg.Pipeline.Topic, cfg.Pipeline.DLQTopic)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer brk.Close()
	log.Println("Connected to Redis")

	m := metrics.New("pipeline", "consumer")
	registry := schema.NewRegistry()
	governor := ratelimit.NewGovernor(cfg.Pipeline.RateLimit, m)

	projector := projection.NewProjector(registry, store,
		projection.WithDedup(store),
		projection.WithGovernor(governor),
		projection.WithMetrics(m))

	h := consumer.NewHandler(projector, store, cfg.Pipeline.DefaultVersion, consumer.WithMetrics(m))

	// 推送泵：broker → 本进程的推送端点
	hostname, _ := os.Hostname()
	endpoint := "http://127.0.0.1:" + cfg.ConsumerPort + "/push"
	pump := pusher.New(brk, cfg.Pipeline.Push, cfg.Pipeline.Group, hostname, endpoint,
		cfg.PushJWTSecret, pusher.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Pusher error: %v", err)
		}
	}()

	gateway := monitor.NewGateway(brk)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /push", h.HandlePush)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ws/events", gateway.HandleWebSocket)
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:        ":" + cfg.ConsumerPort,
		Handler:     consumer.PushAuthMiddleware(cfg.PushJWTSecret)(mux),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down consumer...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Consumer listening on :%s", cfg.ConsumerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Consumer stopped")
}

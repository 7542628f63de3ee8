// Package main 摄取服务入口
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-pipeline/internal/archive"
	brokerredis "event-pipeline/internal/broker/redis"
	"event-pipeline/internal/config"
	"event-pipeline/internal/controls"
	"event-pipeline/internal/ingestor"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/producer"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting Ingestor... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// Redis Streams broker
	brk, err := brokerredis.NewStore(cfg.RedisURL, cfg.Pipeline.Topic, cfg.Pipeline.DLQTopic)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer brk.Close()
	log.Println("Connected to Redis")

	// etcd 控制面（发布开关）
	ctl, err := controls.NewStore(controls.Config{
		Endpoints: cfg.EtcdEndpoints,
		Prefix:    cfg.EtcdPrefix,
	})
	if err != nil {
		log.Fatalf("Failed to connect to etcd: %v", err)
	}
	defer ctl.Close()
	log.Println("Connected to etcd")

	// MinIO 事件归档
	arc, err := archive.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := arc.EnsureBucket(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure archive bucket: %v", err)
	}
	cancel()
	log.Println("Connected to MinIO")

	m := metrics.New("pipeline", "ingestor")
	pub := producer.New(brk, ctl, cfg.Pipeline.Producer, producer.WithMetrics(m))
	h := ingestor.NewHandler(pub, arc)

	mux := h.Routes()
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.IngestorPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down ingestor...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Ingestor listening on :%s", cfg.IngestorPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Ingestor stopped")
}

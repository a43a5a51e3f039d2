// Package main provides the entry point for the kamsentry worker process:
// it consumes the metrics/alerts stream, scores anomalies, deduplicates and
// analyzes alerts via an LLM, and retrains the detector on a cron schedule.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kamsentry/internal/app"
	"kamsentry/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("failed to initialize worker: %v", err)
	}

	if err := worker.Start(); err != nil {
		log.Fatalf("failed to start worker: %v", err)
	}

	log.Println("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("shutting down worker...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := worker.Shutdown(ctx); err != nil {
		log.Printf("worker shutdown reported errors: %v", err)
	}

	fmt.Println("worker stopped")
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/headway-anomaly/worker/internal/collector"
	"github.com/headway-anomaly/worker/internal/config"
	"github.com/headway-anomaly/worker/internal/db"
)

func main() {
	configPath := flag.String("config", "", "optional path to a config file")
	flag.Parse()

	log.Println("Starting headway collector...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded: %d feeds, poll_interval=%v, retention=%v",
		len(cfg.Feeds), cfg.PollInterval, cfg.RetentionDuration)

	database, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Printf("Observation store ready: %s", cfg.DatabasePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		collector.New(database, cfg).Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()
	<-done
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/headway-anomaly/worker/internal/config"
	"github.com/headway-anomaly/worker/internal/db"
	"github.com/headway-anomaly/worker/internal/scorer"
)

func main() {
	configPath := flag.String("config", "", "optional path to a config file")
	flag.Parse()

	log.Println("Starting headway scorer...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded: batch_size=%d, scorer_interval=%v, models_dir=%s",
		cfg.BatchSize, cfg.ScorerInterval, cfg.ModelsDir)

	database, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		scorer.New(database, cfg).Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()
	<-done
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/audit"
	"presence/internal/config"
	"presence/internal/store"
)

// Worker consumes protocol audit events and persists them.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	// The memory queue lives inside the API process; a separate worker
	// can never see its events.
	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is in-process only; the worker requires the redis backend")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	var q audit.Queue = audit.NewRedisQueue(redisClient.Client, "presence:audit")

	repo := audit.NewRepository(db.Client)

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for audit events...")
	for evt := range events {
		if err := repo.InsertEvent(ctx, evt); err != nil {
			log.Printf("persist %s event failed: %v", evt.Kind, err)
			continue
		}
		log.Printf("recorded %s session=%s student=%s", evt.Kind, evt.SessionID, evt.StudentID)
	}

	log.Println("worker stopped")
}

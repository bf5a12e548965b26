package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes accepted-scan messages, confirms the records, and keeps
// the cached per-session attendance counts fresh.
func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:scans")
	}

	repo := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		slog.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	slog.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != "scan" {
			continue
		}

		id := string(msg.Body)
		rec, err := repo.GetRecord(ctx, id)
		if err != nil {
			slog.Warn("fetch record failed", "record_id", id, "error", err)
			continue
		}

		timeIn, timeOut, err := repo.CountBySession(ctx, rec.SessionID)
		if err != nil {
			slog.Warn("count session records failed", "session_id", rec.SessionID, "error", err)
		} else if err := redisClient.SetSessionCounts(ctx, rec.SessionID, timeIn, timeOut); err != nil {
			slog.Warn("cache session counts failed", "session_id", rec.SessionID, "error", err)
		}

		if err := repo.UpdateRecordStatus(ctx, id, "confirmed"); err != nil {
			slog.Warn("confirm record failed", "record_id", id, "error", err)
			continue
		}
		slog.Info("record confirmed", "record_id", id,
			"session_id", rec.SessionID, "scan_type", rec.Type)

		time.Sleep(10 * time.Millisecond)
	}

	slog.Info("worker stopped")
}

package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/admission"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/registry"
	"rollcall/internal/store"
)

// Worker consumes admitted-attendance messages, appends the audit trail and
// refreshes the student's cached attendance percentage.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:admitted")
	}

	records := admission.NewRepository(db.Client)
	profiles := registry.NewRepository(db.Client)
	loc := cfg.Location()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "admitted" {
			continue
		}

		var evt admission.AdmittedEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad message body: %v", err)
			continue
		}
		log.Printf("processing admitted record %s", evt.RecordID)

		if err := records.AppendAudit(ctx, admission.AuditEntry{
			TableName:   "attendance_records",
			RecordID:    evt.RecordID,
			Action:      "insert",
			PerformedBy: evt.StudentID,
			Reason:      "attendance admitted for session " + evt.SessionType,
		}); err != nil {
			log.Printf("audit append failed for %s: %v", evt.RecordID, err)
		}

		if err := refreshPercentage(ctx, records, profiles, evt.StudentID, loc); err != nil {
			log.Printf("percentage refresh failed for %s: %v", evt.StudentID, err)
		}
	}

	log.Println("worker stopped")
}

func refreshPercentage(ctx context.Context, records *admission.Repository, profiles *registry.Repository, studentID string, loc *time.Location) error {
	present, first, err := records.PresentDays(ctx, studentID)
	if err != nil {
		return err
	}
	windows, err := records.ListWindows(ctx)
	if err != nil {
		return err
	}
	pct := admission.Percentage(windows, first, time.Now().In(loc), present)
	return profiles.SetAttendancePercentage(ctx, studentID, pct)
}

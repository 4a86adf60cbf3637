package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/formbridge/internal/config"
	"github.com/ignite/formbridge/internal/pkg/distlock"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/tracking"
)

func main() {
	log.Println("Starting formbridge delivery event worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	if cfg.Events.QueueURL == "" {
		log.Fatal("EVENTS_QUEUE_URL is required")
	}
	if cfg.Events.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Events.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.AWSRegion))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	consumer := tracking.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL, db)
	consumer.WaitSeconds = int32(cfg.Events.WaitSeconds)
	consumer.RetryDelay = cfg.Events.RetryDelay()
	consumer.Start(ctx)
	log.Printf("Delivery event consumer started (queue=%s)", cfg.Events.QueueURL)

	// Several workers may share the table; the lock keeps pruning to one of
	// them per cycle. Without Redis it falls back to a PG advisory lock.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer redisClient.Close()
	}
	pruner := tracking.NewPruner(db, distlock.NewLock(redisClient, db, "prune:delivery_events", 30*time.Minute))
	pruner.Retention = cfg.Events.Retention()
	go pruner.Start(ctx)
	log.Printf("Delivery event pruner started (retention=%d days)", cfg.Events.RetentionDays)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Println("Worker heartbeat - consumer running...")
			}
		}
	}()

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	consumer.Stop()

	log.Println("Worker stopped")
}

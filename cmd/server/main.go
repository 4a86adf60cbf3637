package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/formbridge/internal/api"
	"github.com/ignite/formbridge/internal/codegen"
	"github.com/ignite/formbridge/internal/config"
	"github.com/ignite/formbridge/internal/locator"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/registry"
	"github.com/ignite/formbridge/internal/storage"
	"github.com/ignite/formbridge/internal/tracking"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Starting formbridge server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Artifact storage initialized (type=%s)", cfg.Storage.Type)

	gen, err := codegen.New(codegen.Options{
		DebugKey:         cfg.Bridge.DebugKey,
		EndpointPatterns: cfg.Bridge.EndpointPatterns,
		Poll:             locator.Policy{Attempts: cfg.Bridge.PollAttempts, Interval: cfg.Bridge.PollInterval()},
		SinkID:           cfg.Bridge.SinkID,
	})
	if err != nil {
		log.Fatalf("Failed to load bridge templates: %v", err)
	}

	handlers := api.NewHandlers(gen, store, registry.Default())
	handlers.SetDefaultTimeout(cfg.Bridge.PrimaryTimeoutMS)

	// Event database is optional for the server; it only feeds health checks.
	var db *sql.DB
	if cfg.Events.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Events.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Failed to open events database: %v", err)
			db = nil
		} else {
			db.SetMaxOpenConns(5)
			db.SetMaxIdleConns(2)
			db.SetConnMaxLifetime(5 * time.Minute)
			defer db.Close()
		}
	}

	redisClient := connectRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var bucketClient api.BucketHeader
	var trackingHandler http.Handler
	if cfg.Storage.Type == "s3" || cfg.Events.Enabled {
		region := cfg.Events.AWSRegion
		if region == "" {
			region = cfg.Storage.AWSRegion
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			log.Printf("Warning: Failed to load AWS config: %v", err)
		} else {
			if cfg.Storage.Type == "s3" {
				bucketClient = s3.NewFromConfig(awsCfg)
			}
			if cfg.Events.Enabled && cfg.Events.QueueURL != "" {
				pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL)
				trackingHandler = tracking.NewHandler(pub).Routes()
				log.Printf("Delivery event publishing enabled (queue=%s)", cfg.Events.QueueURL)
			}
		}
	}
	if trackingHandler == nil {
		log.Println("Delivery event publishing disabled (EVENTS_QUEUE_URL not set)")
	}

	health := api.NewHealthChecker(db, redisClient, bucketClient, cfg.Storage.S3Bucket)
	router := api.SetupRoutes(api.RouterDeps{
		Handlers:       handlers,
		Health:         health,
		Tracking:       trackingHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		log.Println("Redis not configured (REDIS_ADDR not set)")
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(cfg.Addr); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed (%s): %v", cfg.Addr, err)
		client.Close()
		return nil
	}
	log.Printf("Redis connected: %s", cfg.Addr)
	return client
}

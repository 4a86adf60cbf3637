package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
)

// Component states reported by the probes.
const (
	statusUp       = "up"
	statusDegraded = "degraded"
	statusDown     = "down"
	statusSkipped  = "skipped"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string                    `json:"status"` // healthy, degraded or unhealthy
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the result of one probe.
type ComponentCheck struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Message  string `json:"message,omitempty"`
}

// BucketHeader is the part of the S3 client the artifact bucket probe uses.
type BucketHeader interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// errDegraded marks a probe that answered but reported a problem.
var errDegraded = errors.New("degraded")

// probe checks one dependency. A nil run means the dependency is not
// configured for this deployment.
type probe struct {
	name     string
	critical bool
	timeout  time.Duration
	slow     time.Duration
	run      func(ctx context.Context) (string, error)
}

// HealthChecker probes the event database, Redis, the artifact bucket and the
// recent delivery failure rate.
type HealthChecker struct {
	probes    []probe
	startTime time.Time
}

const (
	healthVersion = "1.0.0"

	// The delivery probe degrades once at least minFailedDeliveries attempts
	// failed in the last hour and they make up more than maxFailureRate of
	// all attempts.
	minFailedDeliveries = 5
	maxFailureRate      = 0.2
)

const deliveryStatsQuery = `
	SELECT COUNT(*) FILTER (WHERE outcome = 'failed'), COUNT(*)
	FROM bridge_delivery_events
	WHERE event_at > NOW() - INTERVAL '1 hour'`

// NewHealthChecker builds the probe set. Any dependency may be nil; its probe
// then reports "skipped".
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, s3Client BucketHeader, s3Bucket string) *HealthChecker {
	hc := &HealthChecker{startTime: time.Now()}

	database := probe{name: "database", critical: true, timeout: 3 * time.Second, slow: time.Second}
	deliveries := probe{name: "deliveries", timeout: 3 * time.Second}
	if db != nil {
		database.run = func(ctx context.Context) (string, error) {
			return "connected", db.PingContext(ctx)
		}
		deliveries.run = func(ctx context.Context) (string, error) {
			return deliveryFailureRate(ctx, db)
		}
	}

	cache := probe{name: "redis", timeout: 2 * time.Second, slow: 500 * time.Millisecond}
	if redisClient != nil {
		cache.run = func(ctx context.Context) (string, error) {
			return "connected", redisClient.Ping(ctx).Err()
		}
	}

	bucket := probe{name: "s3", timeout: 3 * time.Second}
	if s3Client != nil {
		bucket.run = func(ctx context.Context) (string, error) {
			if s3Bucket == "" {
				return "", errors.New("no bucket configured")
			}
			if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s3Bucket}); err != nil {
				return "", fmt.Errorf("HeadBucket failed: %w", err)
			}
			return fmt.Sprintf("bucket %q accessible", s3Bucket), nil
		}
	}

	hc.probes = []probe{database, cache, bucket, deliveries}
	return hc
}

func deliveryFailureRate(ctx context.Context, db *sql.DB) (string, error) {
	var failed, total int
	if err := db.QueryRowContext(ctx, deliveryStatsQuery).Scan(&failed, &total); err != nil {
		// The events table only exists where the worker runs migrations.
		return "", fmt.Errorf("%w: delivery stats unavailable: %v", errDegraded, err)
	}
	msg := fmt.Sprintf("%d of %d deliveries failed in the last hour", failed, total)
	if failed >= minFailedDeliveries && float64(failed) > maxFailureRate*float64(total) {
		return "", fmt.Errorf("%w: %s", errDegraded, msg)
	}
	return msg, nil
}

// HandleHealth reports every probe. It always answers 200; probes that need
// a failing status code use /health/ready.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	respondJSON(w, http.StatusOK, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness answers 503 when a critical probe is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAll(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, len(hc.probes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range hc.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()
			c := p.check(ctx)
			mu.Lock()
			checks[p.name] = c
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return checks
}

func (p probe) check(ctx context.Context) ComponentCheck {
	if p.run == nil {
		return ComponentCheck{Status: statusSkipped, Critical: p.critical, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	msg, err := p.run(ctx)
	latency := time.Since(start)

	c := ComponentCheck{Critical: p.critical, Latency: latency.String()}
	switch {
	case errors.Is(err, errDegraded):
		c.Status, c.Message = statusDegraded, err.Error()
	case err != nil:
		c.Status, c.Message = statusDown, err.Error()
	case p.slow > 0 && latency > p.slow:
		c.Status, c.Message = statusDegraded, fmt.Sprintf("slow response (%s)", latency.Round(time.Millisecond))
	default:
		c.Status, c.Message = statusUp, msg
	}
	return c
}

// determineOverallStatus is "unhealthy" when a critical probe is down,
// "degraded" when any probe is down or degraded, else "healthy". Skipped
// probes never count.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for _, c := range checks {
		switch c.Status {
		case statusDown:
			if c.Critical {
				return "unhealthy"
			}
			overall = "degraded"
		case statusDegraded:
			overall = "degraded"
		}
	}
	return overall
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/formbridge/internal/pkg/distlock"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

const (
	// DefaultRetention is how long delivery events are kept.
	DefaultRetention = 90 * 24 * time.Hour
	// DefaultPruneInterval is how often the pruner runs.
	DefaultPruneInterval = time.Hour

	pruneBatchSize = 10000
)

const deleteExpiredEvents = `
	DELETE FROM bridge_delivery_events
	WHERE id IN (
		SELECT id FROM bridge_delivery_events
		WHERE event_at < $1
		LIMIT $2
	)`

// Pruner periodically deletes delivery events older than the retention
// window. Deletes run in batches so the table is never locked for long.
type Pruner struct {
	db   *sql.DB
	lock distlock.DistLock
	log  *logger.Logger
	now  func() time.Time

	Retention time.Duration
	Interval  time.Duration
	// BatchPause is the sleep between batches.
	BatchPause time.Duration
}

// NewPruner creates a pruner. lock may be nil when only one worker runs;
// otherwise the instance holding it does the pruning for that cycle.
func NewPruner(db *sql.DB, lock distlock.DistLock) *Pruner {
	return &Pruner{
		db:         db,
		lock:       lock,
		log:        logger.Named("tracking-pruner"),
		now:        time.Now,
		Retention:  DefaultRetention,
		Interval:   DefaultPruneInterval,
		BatchPause: 100 * time.Millisecond,
	}
}

// Start runs one prune immediately and then every Interval until ctx is
// cancelled.
func (p *Pruner) Start(ctx context.Context) {
	p.log.Info("delivery event pruner started", "retention", p.Retention.String(), "interval", p.Interval.String())
	p.runCycle(ctx)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("delivery event pruner stopping")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Pruner) runCycle(ctx context.Context) {
	if p.lock != nil {
		ok, err := p.lock.Acquire(ctx)
		if err != nil {
			p.log.Warn("prune lock unavailable", "error", err.Error())
			return
		}
		if !ok {
			p.log.Debug("another worker is pruning, skipping cycle")
			return
		}
		defer p.lock.Release(context.Background())
	}

	start := time.Now()
	n, err := p.Prune(ctx)
	if err != nil {
		p.log.Error("prune failed", "deleted", n, "error", err.Error())
		return
	}
	if n > 0 {
		p.log.Info("expired delivery events removed", "deleted", n, "took", time.Since(start).Round(time.Millisecond).String())
	}
}

// Prune deletes expired events batch by batch until none remain and returns
// how many rows went. A missing table is not an error.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().Add(-p.Retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := p.db.ExecContext(queryCtx, deleteExpiredEvents, cutoff, pruneBatchSize)
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				p.log.Warn("bridge_delivery_events does not exist, skipping prune")
				return total, nil
			}
			return total, fmt.Errorf("deleting expired events: %w", err)
		}

		affected, _ := res.RowsAffected()
		total += affected
		if affected < pruneBatchSize {
			return total, nil
		}
		if p.BatchPause > 0 {
			time.Sleep(p.BatchPause)
		}
	}
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "does not exist")
}

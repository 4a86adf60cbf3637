package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/formbridge/internal/pkg/httpretry"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// DefaultBeaconLimit is the largest payload SendBeacon will queue.
const DefaultBeaconLimit = 64 * 1024

// Navigator exposes the transports that keep working while a page unloads.
type Navigator struct {
	win *Window

	mu            sync.RWMutex
	beaconEnabled bool
	beaconLimit   int
	syncRetries   int
	syncBackoff   time.Duration
	beaconsQueued int
}

func newNavigator(w *Window) *Navigator {
	return &Navigator{
		win:           w,
		beaconEnabled: true,
		beaconLimit:   DefaultBeaconLimit,
		syncRetries:   1,
		syncBackoff:   50 * time.Millisecond,
	}
}

// SetBeaconEnabled toggles navigator.sendBeacon availability.
func (n *Navigator) SetBeaconEnabled(enabled bool) {
	n.mu.Lock()
	n.beaconEnabled = enabled
	n.mu.Unlock()
}

// SetBeaconLimit changes the maximum beacon payload size.
func (n *Navigator) SetBeaconLimit(limit int) {
	n.mu.Lock()
	n.beaconLimit = limit
	n.mu.Unlock()
}

// SetSyncRetries configures how many times a synchronous request is retried
// on a transient failure.
func (n *Navigator) SetSyncRetries(retries int, backoff time.Duration) {
	n.mu.Lock()
	n.syncRetries = retries
	n.syncBackoff = backoff
	n.mu.Unlock()
}

// BeaconsQueued reports how many beacons were accepted.
func (n *Navigator) BeaconsQueued() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.beaconsQueued
}

// SendBeacon queues a fire-and-forget POST that outlives the page. It
// reports whether the payload was accepted for delivery; the outcome of the
// request itself is never observed.
func (n *Navigator) SendBeacon(target, contentType string, body []byte) bool {
	n.mu.RLock()
	accepted := n.beaconEnabled && len(body) <= n.beaconLimit
	n.mu.RUnlock()
	if !accepted {
		return false
	}

	req, err := newFormRequest(context.Background(), target, body, contentType)
	if err != nil {
		logger.Debug("beacon rejected", "url", target, "error", err.Error())
		return false
	}
	n.mu.Lock()
	n.beaconsQueued++
	n.mu.Unlock()

	client := n.win.Client()
	n.win.track(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			logger.Debug("beacon delivery failed", "url", target, "error", err.Error())
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	})
	return true
}

// KeepaliveFetch performs a fetch(..., {keepalive: true, mode: "no-cors"}).
// The response is opaque, so only a network failure or a server error is
// reported.
func (n *Navigator) KeepaliveFetch(ctx context.Context, target, contentType string, body []byte) error {
	req, err := newFormRequest(ctx, target, body, contentType)
	if err != nil {
		return err
	}
	resp, err := n.win.Client().Do(req)
	if err != nil {
		return fmt.Errorf("keepalive fetch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("keepalive fetch: server returned %d", resp.StatusCode)
	}
	return nil
}

// SyncRequest performs a blocking XMLHttpRequest-style POST. Transient
// server errors are retried.
func (n *Navigator) SyncRequest(target, contentType string, body []byte) error {
	n.mu.RLock()
	retries, backoff := n.syncRetries, n.syncBackoff
	n.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := newFormRequest(ctx, target, body, contentType)
	if err != nil {
		return err
	}

	client := httpretry.NewRetryClient(n.win.Client(), retries, httpretry.WithBackoff(backoff, 4*backoff))
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sync request: server returned %d", resp.StatusCode)
	}
	return nil
}

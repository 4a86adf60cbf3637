package locator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrGaveUp is returned when the attempt budget runs out.
var ErrGaveUp = errors.New("locator: widget elements not found")

// Policy bounds the detection loop.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// DefaultPolicy retries for roughly thirty seconds.
func DefaultPolicy() Policy {
	return Policy{Attempts: 120, Interval: 250 * time.Millisecond}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	return p
}

// Poll calls find until it succeeds, the attempts are exhausted or ctx is
// done. callback runs at most once, with the first successful result.
func Poll(ctx context.Context, find func() (Handles, bool), policy Policy, callback func(Handles)) error {
	policy = policy.normalized()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if h, ok := find(); ok {
			callback(h)
			return nil
		}
		if attempt >= policy.Attempts {
			return fmt.Errorf("%w after %d attempts", ErrGaveUp, attempt)
		}
		timer.Reset(policy.Interval)
	}
}

// Wait polls the locator and logs the page inventory when it gives up.
func (l *Locator) Wait(ctx context.Context, policy Policy, callback func(Handles)) error {
	err := Poll(ctx, l.Find, policy, callback)
	if errors.Is(err, ErrGaveUp) {
		d := l.Diagnostics()
		l.log.Error("widget elements not found", "error", err.Error(),
			"buttons", d["buttons"], "inputs", d["inputs"], "wf_elements", d["wf_elements"])
	}
	return err
}

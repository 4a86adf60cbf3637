package submission

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/page"
)

type outcome struct {
	result Result
	err    error
}

// attempt is one delivery race. submitted flips exactly once and decides
// the result; acknowledged is only set by the sink frame.
type attempt struct {
	c        *Coordinator
	id       string
	form     Form
	critical url.Values
	start    time.Time

	submitted     atomic.Bool
	acknowledged  atomic.Bool
	backupStarted atomic.Bool
	done          chan outcome

	mu        sync.Mutex
	cleanups  []func()
	cleaned   bool
	nativeErr error
}

func newAttempt(c *Coordinator, id string, form Form) *attempt {
	return &attempt{
		c:     c,
		id:    id,
		form:  form,
		start: c.clock.Now(),
		done:  make(chan outcome, 1),
	}
}

// track registers a cleanup. After cleanup already ran it executes at once.
func (a *attempt) track(remove func()) {
	if remove == nil {
		return
	}
	a.mu.Lock()
	if a.cleaned {
		a.mu.Unlock()
		remove()
		return
	}
	a.cleanups = append(a.cleanups, remove)
	a.mu.Unlock()
}

func (a *attempt) arm(d time.Duration, f func()) {
	t := a.c.clock.AfterFunc(d, f)
	a.track(func() { t.Stop() })
}

// cleanup removes every listener and timer exactly once.
func (a *attempt) cleanup() {
	a.mu.Lock()
	if a.cleaned {
		a.mu.Unlock()
		return
	}
	a.cleaned = true
	fns := a.cleanups
	a.cleanups = nil
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	a.c.log.Debug("attempt cleaned up", "attempt_id", a.id)
}

func (a *attempt) setNativeErr(err error) {
	a.mu.Lock()
	a.nativeErr = err
	a.mu.Unlock()
}

func (a *attempt) getNativeErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nativeErr
}

func (a *attempt) resolved() bool {
	return a.submitted.Load() || a.acknowledged.Load()
}

// settle is the single check-and-set every completion path goes through.
// It reports whether this call decided the attempt.
func (a *attempt) settle(o domain.Outcome, ch domain.Channel, err error) bool {
	if !a.submitted.CompareAndSwap(false, true) {
		return false
	}
	res := Result{
		AttemptID: a.id,
		Outcome:   o,
		Channel:   ch,
		Duration:  a.c.clock.Now().Sub(a.start),
	}
	a.done <- outcome{result: res, err: err}

	if err != nil {
		a.c.log.Warn("CRM submission failed", "attempt_id", a.id, "channel", string(ch), "duration_ms", res.Duration.Milliseconds(), "error", err.Error())
	} else {
		a.c.log.Debug("CRM submission successful", "attempt_id", a.id, "channel", string(ch), "duration_ms", res.Duration.Milliseconds())
	}
	a.cleanup()
	return true
}

func (a *attempt) onSinkLoad() {
	if a.settle(domain.OutcomeAcknowledged, domain.ChannelSink, nil) {
		a.acknowledged.Store(true)
	}
}

func (a *attempt) onLifecycle(event string) {
	if event == page.EventVisibilityChange && !a.c.page.Hidden() {
		return
	}
	a.backup(event)
}

func (a *attempt) onPrimaryTimeout() {
	if a.resolved() {
		return
	}
	if a.c.page.Hidden() {
		a.backup("primary-timeout-hidden")
		return
	}
	a.c.log.Debug("primary timeout reached, page visible, waiting", "attempt_id", a.id)
}

func (a *attempt) onBackupTimeout() {
	if !a.resolved() {
		a.backup("backup-timeout")
	}
	a.cleanup()
}

// backup sends the live form data out of band. Only the first caller
// transmits; later triggers are no-ops.
func (a *attempt) backup(reason string) {
	if a.resolved() {
		a.c.log.Debug("backup skipped, already submitted", "attempt_id", a.id, "reason", reason)
		return
	}
	if !a.backupStarted.CompareAndSwap(false, true) {
		return
	}
	a.c.log.Debug("sending backup submission", "attempt_id", a.id, "reason", reason)

	target := a.form.Action()
	data := a.backupValues()
	t := a.c.transport

	if t.Beacon(target, data) {
		a.settle(domain.OutcomeBackupSent, domain.ChannelBeacon, nil)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.c.cfg.KeepaliveTimeout)
		kerr := t.Keepalive(ctx, target, data)
		cancel()
		if kerr == nil {
			a.settle(domain.OutcomeBackupSent, domain.ChannelKeepalive, nil)
			return
		}
		a.c.log.Debug("keepalive backup failed", "attempt_id", a.id, "error", kerr.Error())

		serr := t.Sync(target, data)
		if serr == nil {
			a.settle(domain.OutcomeBackupSent, domain.ChannelSync, nil)
			return
		}
		err := errors.Join(ErrDeliveryFailed, a.getNativeErr(), errors.New("beacon not accepted"), kerr, serr)
		a.settle(domain.OutcomeFailed, domain.ChannelNone, err)
	}()
}

// backupValues re-reads the form and overwrites the critical fields with the
// values written at populate time.
func (a *attempt) backupValues() url.Values {
	values := a.form.Values()
	for name, v := range a.critical {
		values[name] = append([]string(nil), v...)
	}
	return values
}

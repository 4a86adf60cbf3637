package submission

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/fieldnorm"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/tracking"
)

// Result describes how an attempt concluded.
type Result struct {
	AttemptID string
	Outcome   domain.Outcome
	Channel   domain.Channel
	Duration  time.Duration
}

// Coordinator runs delivery attempts against one CRM form. It is safe for
// concurrent use; every Deliver call is an independent attempt.
type Coordinator struct {
	page      Page
	transport Transport
	clock     Clock
	cfg       Config
	log       *logger.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock used for timers.
func WithClock(c Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func New(p Page, t Transport, cfg Config, opts ...Option) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		page:      p,
		transport: t,
		clock:     realClock{},
		cfg:       cfg,
		log:       logger.Named("submission"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Deliver populates the CRM form and drives the delivery race until one
// completion signal wins. It fails fast with ErrFormNotFound when the form is
// absent. Cancelling ctx only stops the wait: the attempt keeps running until
// its backup timer concludes it.
func (c *Coordinator) Deliver(ctx context.Context, data domain.SubmissionFormData, consent bool, snap domain.TrackingSnapshot) (Result, error) {
	attemptID := uuid.NewString()
	form, ok := c.page.Form(c.cfg.FormID)
	if !ok {
		c.log.Error("CRM form missing", "form_id", c.cfg.FormID, "attempt_id", attemptID)
		return Result{AttemptID: attemptID, Outcome: domain.OutcomeFailed}, fmt.Errorf("%w: %s", ErrFormNotFound, c.cfg.FormID)
	}

	a := newAttempt(c, attemptID, form)
	a.critical = c.populate(form, data, consent, snap)

	if sink, ok := c.page.Sink(c.cfg.SinkID); ok {
		a.track(sink.OnLoad(a.onSinkLoad))
		a.track(sink.OnError(func() { a.backup("iframe-error") }))
	} else {
		c.log.Warn("sink frame not found, submission can only be confirmed by a backup", "sink_id", c.cfg.SinkID)
	}
	a.track(c.page.OnLifecycle(a.onLifecycle))
	a.arm(c.cfg.PrimaryTimeout, a.onPrimaryTimeout)
	a.arm(c.cfg.BackupTimeout(), a.onBackupTimeout)

	c.log.Debug("submitting CRM form", "attempt_id", attemptID, "form_id", c.cfg.FormID)
	if err := form.Submit(); err != nil {
		c.log.Warn("native submit failed, backup path stays armed", "attempt_id", attemptID, "error", err.Error())
		a.setNativeErr(fmt.Errorf("%w: %v", ErrNativeSubmit, err))
	}

	select {
	case out := <-a.done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{AttemptID: attemptID, Duration: c.clock.Now().Sub(a.start)}, ctx.Err()
	}
}

// populate writes the lead into the form and returns the critical values a
// backup must force-overwrite, keyed by form field name.
func (c *Coordinator) populate(form Form, data domain.SubmissionFormData, consent bool, snap domain.TrackingSnapshot) url.Values {
	data = data.Trimmed()
	first, last := fieldnorm.SplitName(data.Name)
	critical := url.Values{}

	for _, m := range []struct{ key, value, label string }{
		{c.cfg.FirstNameField, first, "first_name"},
		{c.cfg.LastNameField, last, "last_name"},
		{c.cfg.EmailField, data.Email, "email"},
		{c.cfg.PhoneField, fieldnorm.NormalizePhone(data.Phone), "phone"},
	} {
		field, ok := form.Field(m.key)
		if !ok {
			c.log.Debug("form field not found", "field", m.key)
			continue
		}
		field.SetValue(m.value)
		critical.Set(nameOf(field, m.key), m.value)
		c.log.Debug("set form field", "field", m.key, m.label, m.value)
	}

	if field, ok := form.Field(c.cfg.Consent.ID); ok {
		field.SetChecked(consent)
		if consent {
			field.SetValue(c.cfg.Consent.Value)
			critical.Set(nameOf(field, c.cfg.Consent.Name), c.cfg.Consent.Value)
		}
		c.log.Debug("consent field set", "field", c.cfg.Consent.ID, "checked", consent)
	} else if c.cfg.Consent.ID != "" {
		c.log.Debug("consent field not found", "field", c.cfg.Consent.ID)
	}

	for name, value := range tracking.CRMFields(snap) {
		if len(c.cfg.TrackingFields) > 0 && !slices.Contains(c.cfg.TrackingFields, name) {
			continue
		}
		if field, ok := form.Field(name); ok {
			field.SetValue(value)
		}
	}
	return critical
}

func nameOf(f Field, fallback string) string {
	if n := f.Name(); n != "" {
		return n
	}
	return fallback
}

// Package trigger wires the widget's register button to the CRM delivery.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/fieldnorm"
	"github.com/ignite/formbridge/internal/locator"
	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/submission"
	"github.com/ignite/formbridge/internal/tracking"
)

// Handles are the widget elements found by the locator.
type Handles = locator.Handles

// Deliverer runs one CRM delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, data domain.SubmissionFormData, consent bool, snap domain.TrackingSnapshot) (submission.Result, error)
}

// ConsentReader reports the live consent state.
type ConsentReader interface {
	Checked() bool
}

// OutcomeSink receives the result of every attempt.
type OutcomeSink interface {
	Publish(ctx context.Context, evt tracking.DeliveryEvent)
}

// Controller validates each activation and hands valid leads to the
// coordinator without ever holding up the widget's own registration.
type Controller struct {
	h       Handles
	consent ConsentReader
	coord   Deliverer
	snap    domain.TrackingSnapshot
	formID  string
	sink    OutcomeSink
	guard   Guard
	log     *logger.Logger

	wg     sync.WaitGroup
	detach func()
}

// Option customizes a Controller.
type Option func(*Controller)

// WithOutcomeSink reports attempt results to sink.
func WithOutcomeSink(sink OutcomeSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithGuard skips activations while another attempt for the same lead is in
// flight.
func WithGuard(g Guard) Option {
	return func(c *Controller) { c.guard = g }
}

// WithFormID labels outcome events with the CRM form id.
func WithFormID(id string) Option {
	return func(c *Controller) { c.formID = id }
}

// Attach registers the controller on the button in the capture phase so it
// runs before the widget's own click handler.
func Attach(h Handles, consent ConsentReader, coord Deliverer, snap domain.TrackingSnapshot, opts ...Option) (*Controller, error) {
	if h.Button == nil || h.Name == nil || h.Email == nil {
		return nil, fmt.Errorf("trigger: button, name and email handles are required")
	}
	c := &Controller{
		h:       h,
		consent: consent,
		coord:   coord,
		snap:    snap,
		log:     logger.Named("trigger"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.detach = h.Button.AddEventListener("click", c.onClick, true)
	c.log.Debug("click controller attached", "button", h.Button.Describe())
	return c, nil
}

// Detach removes the click listener.
func (c *Controller) Detach() { c.detach() }

// Wait blocks until every started delivery attempt has concluded.
func (c *Controller) Wait() { c.wg.Wait() }

// Validate checks the lead the way the click handler does.
func Validate(data domain.SubmissionFormData) error {
	if data.Name == "" {
		return fmt.Errorf("%w: %s", ErrValidation, MsgNameRequired)
	}
	if !fieldnorm.ValidEmail(data.Email) {
		return fmt.Errorf("%w: %s", ErrValidation, MsgInvalidEmail)
	}
	return nil
}

func (c *Controller) onClick(ev *page.Event) {
	data := c.read()
	c.log.Debug("register button clicked", "name", data.Name, "email", data.Email, "phone", data.Phone)

	if data.Name == "" {
		c.block(ev, MsgNameRequired, c.h.Name)
		return
	}
	if !fieldnorm.ValidEmail(data.Email) {
		c.block(ev, MsgInvalidEmail, c.h.Email)
		return
	}

	consent := c.consent.Checked()
	if !consent && data.Phone != "" && c.h.Phone != nil {
		c.clearPhone()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.deliver(data, consent)
	}()
}

func (c *Controller) read() domain.SubmissionFormData {
	data := domain.SubmissionFormData{
		Name:  c.h.Name.Value(),
		Email: c.h.Email.Value(),
	}
	if c.h.Phone != nil {
		data.Phone = c.h.Phone.Value()
	}
	return data.Trimmed()
}

// block stops the activation entirely, including the widget's handler.
func (c *Controller) block(ev *page.Event, msg string, field *page.Element) {
	ev.StopImmediatePropagation()
	ev.PreventDefault()
	if w := c.h.Button.Document().Window(); w != nil {
		w.Alert(msg)
	}
	field.Focus()
	c.log.Debug("activation blocked", "reason", msg)
}

// clearPhone empties the visible phone field and lets reactive widget code
// observe it.
func (c *Controller) clearPhone() {
	c.h.Phone.SetValue("")
	c.h.Phone.Dispatch(page.NewEvent("input"))
	c.h.Phone.Dispatch(page.NewEvent("change"))
	c.h.Phone.Dispatch(&page.Event{Type: "blur"})
	c.h.Phone.Dispatch(page.NewEvent("keyup"))
	c.log.Debug("phone cleared from widget (no SMS consent)")
}

func (c *Controller) deliver(data domain.SubmissionFormData, consent bool) {
	ctx := context.Background()
	if c.guard != nil {
		release, ok, err := c.guard.Acquire(ctx, data.Email)
		switch {
		case err != nil:
			c.log.Warn("duplicate guard unavailable, delivering anyway", "error", err.Error())
		case !ok:
			c.log.Info("delivery already in flight for this lead, skipping", "email", data.Email)
			return
		default:
			defer release()
		}
	}

	start := time.Now()
	res, err := c.coord.Deliver(ctx, data, consent, c.snap)
	if err != nil {
		c.log.Error("CRM submission failed", "attempt_id", res.AttemptID, "error", err.Error())
	} else {
		c.log.Info("CRM submission completed", "attempt_id", res.AttemptID, "channel", string(res.Channel), "outcome", string(res.Outcome))
	}

	if c.sink == nil {
		return
	}
	evt := tracking.DeliveryEvent{
		AttemptID:  res.AttemptID,
		FormID:     c.formID,
		Channel:    res.Channel,
		Outcome:    res.Outcome,
		DurationMS: res.Duration.Milliseconds(),
		SessionID:  c.snap.SessionID,
	}
	if err != nil {
		evt.Outcome = domain.OutcomeFailed
		evt.Error = err.Error()
		if res.Duration == 0 {
			evt.DurationMS = time.Since(start).Milliseconds()
		}
	}
	c.sink.Publish(ctx, evt)
}

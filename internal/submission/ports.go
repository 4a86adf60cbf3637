package submission

import (
	"context"
	"net/url"
	"time"
)

// Field is a single control of the CRM form.
type Field interface {
	Name() string
	Value() string
	SetValue(string)
	Checked() bool
	SetChecked(bool)
}

// Form is the CRM form being submitted.
type Form interface {
	Action() string
	// Field finds a control by id, falling back to name.
	Field(key string) (Field, bool)
	// Values returns the current form-encoded data set.
	Values() url.Values
	// Submit starts the native submission.
	Submit() error
}

// Signal is the hidden sink frame the form posts into.
type Signal interface {
	OnLoad(fn func()) (remove func())
	OnError(fn func()) (remove func())
}

// Page is the document hosting the form.
type Page interface {
	Form(id string) (Form, bool)
	Sink(id string) (Signal, bool)
	Hidden() bool
	// OnLifecycle calls fn with the event type for visibilitychange,
	// pagehide and beforeunload.
	OnLifecycle(fn func(event string)) (remove func())
}

// Transport sends a backup copy of the form. Beacon reports whether the
// payload was queued; the others report delivery errors.
type Transport interface {
	Beacon(target string, data url.Values) bool
	Keepalive(ctx context.Context, target string, data url.Values) error
	Sync(target string, data url.Values) error
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules the attempt's timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

package trigger

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/formbridge/internal/consent"
	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/redact"
	"github.com/ignite/formbridge/internal/submission"
	"github.com/ignite/formbridge/internal/tracking"
)

const widgetPage = `<html><body>
<div class="wf_target_abc">
  <div class="wf_form">
    <input name="name" id="wf_name">
    <input name="email" id="wf_email">
    <input name="phone" id="wf_phone">
    <div class="wf_column"><button id="register" class="wf_button">Register</button></div>
  </div>
</div>
<form id="inf_form_abc123" action="https://acme.infusionsoft.com/app/form/process/abc123" method="POST" target="inf_sink_iframe" style="display:none">
  <input id="inf_field_FirstName" name="inf_field_FirstName">
  <input id="inf_field_LastName" name="inf_field_LastName">
  <input id="inf_field_Email" name="inf_field_Email">
  <input id="inf_field_Phone1" name="inf_field_Phone1">
  <input id="inf_option_consent" name="inf_option_consent" type="checkbox">
</form>
<iframe id="inf_sink_iframe" name="inf_sink_iframe"></iframe>
</body></html>`

type fakeCoordinator struct {
	mu    sync.Mutex
	calls []domain.SubmissionFormData
	res   submission.Result
	err   error
	block chan struct{}
}

func (f *fakeCoordinator) Deliver(_ context.Context, data domain.SubmissionFormData, _ bool, _ domain.TrackingSnapshot) (submission.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, data)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.res, f.err
}

func (f *fakeCoordinator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticConsent bool

func (s staticConsent) Checked() bool { return bool(s) }

type sinkRecorder struct {
	mu     sync.Mutex
	events []tracking.DeliveryEvent
}

func (s *sinkRecorder) Publish(_ context.Context, evt tracking.DeliveryEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

type fixture struct {
	win     *page.Window
	handles Handles
	widget  *int
}

func newFixture(t *testing.T, transport http.RoundTripper) fixture {
	t.Helper()
	w, err := page.Load(widgetPage, page.Options{URL: "https://lp.example.com/join?utm_source=fb", Transport: transport})
	require.NoError(t, err)
	doc := w.Document()
	f := fixture{
		win: w,
		handles: Handles{
			Button: doc.GetElementByID("register"),
			Name:   doc.GetElementByID("wf_name"),
			Email:  doc.GetElementByID("wf_email"),
			Phone:  doc.GetElementByID("wf_phone"),
		},
		widget: new(int),
	}
	// The widget's own handler listens in the bubble phase.
	f.handles.Button.AddEventListener("click", func(*page.Event) { *f.widget++ }, false)
	return f
}

func (f fixture) fill(name, email, phone string) {
	f.handles.Name.SetValue(name)
	f.handles.Email.SetValue(email)
	f.handles.Phone.SetValue(phone)
}

func TestAttach_RequiresHandles(t *testing.T) {
	_, err := Attach(Handles{}, staticConsent(false), &fakeCoordinator{}, domain.TrackingSnapshot{})
	assert.Error(t, err)
}

func TestClick_MissingNameBlocks(t *testing.T) {
	f := newFixture(t, nil)
	coord := &fakeCoordinator{}
	c, err := Attach(f.handles, staticConsent(true), coord, domain.TrackingSnapshot{})
	require.NoError(t, err)

	f.fill("   ", "jane@x.com", "")
	assert.False(t, f.handles.Button.Click())
	c.Wait()

	assert.Equal(t, 0, coord.count())
	assert.Equal(t, 0, *f.widget)
	assert.Equal(t, []string{MsgNameRequired}, f.win.Alerts())
	assert.Equal(t, "wf_name", f.win.Document().Focused().ID())
}

func TestClick_InvalidEmailBlocks(t *testing.T) {
	for _, email := range []string{"not-an-email", "user@example", "us er@example.com", "", "a@b@c.com"} {
		t.Run(email, func(t *testing.T) {
			f := newFixture(t, nil)
			coord := &fakeCoordinator{}
			c, err := Attach(f.handles, staticConsent(true), coord, domain.TrackingSnapshot{})
			require.NoError(t, err)

			f.fill("Jane Doe", email, "")
			assert.False(t, f.handles.Button.Click())
			c.Wait()

			assert.Equal(t, 0, coord.count())
			assert.Equal(t, 0, *f.widget)
			assert.Equal(t, []string{MsgInvalidEmail}, f.win.Alerts())
			assert.Equal(t, "wf_email", f.win.Document().Focused().ID())
		})
	}
}

func TestClick_ValidLeadInvokesCoordinatorOnce(t *testing.T) {
	f := newFixture(t, nil)
	coord := &fakeCoordinator{res: submission.Result{Outcome: domain.OutcomeAcknowledged, Channel: domain.ChannelSink}}
	sink := &sinkRecorder{}
	c, err := Attach(f.handles, staticConsent(true), coord, domain.TrackingSnapshot{SessionID: "s1"},
		WithOutcomeSink(sink), WithFormID("inf_form_abc123"))
	require.NoError(t, err)

	f.fill("Jane Doe", "user@example.com", "555-000-1111")
	assert.True(t, f.handles.Button.Click())
	assert.True(t, f.handles.Button.Click())
	c.Wait()

	assert.Equal(t, 2, coord.count(), "each activation is an independent attempt")
	assert.Equal(t, 2, *f.widget)
	assert.Empty(t, f.win.Alerts())
	assert.Equal(t, "555-000-1111", f.handles.Phone.Value(), "phone kept with consent")

	require.Len(t, sink.events, 2)
	assert.Equal(t, "inf_form_abc123", sink.events[0].FormID)
	assert.Equal(t, "s1", sink.events[0].SessionID)
	assert.Equal(t, domain.OutcomeAcknowledged, sink.events[0].Outcome)
}

func TestClick_DeliveryFailureNeverBlocksWidget(t *testing.T) {
	f := newFixture(t, nil)
	coord := &fakeCoordinator{err: submission.ErrDeliveryFailed, res: submission.Result{Outcome: domain.OutcomeFailed}}
	sink := &sinkRecorder{}
	c, err := Attach(f.handles, staticConsent(false), coord, domain.TrackingSnapshot{}, WithOutcomeSink(sink))
	require.NoError(t, err)

	f.fill("Jane Doe", "jane@x.com", "")
	assert.True(t, f.handles.Button.Click())
	c.Wait()

	assert.Equal(t, 1, *f.widget)
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.OutcomeFailed, sink.events[0].Outcome)
	assert.Contains(t, sink.events[0].Error, "all backup methods failed")
}

func TestClick_NoConsentClearsPhoneWithEvents(t *testing.T) {
	f := newFixture(t, nil)
	coord := &fakeCoordinator{}
	c, err := Attach(f.handles, staticConsent(false), coord, domain.TrackingSnapshot{})
	require.NoError(t, err)

	var seen []string
	for _, typ := range []string{"input", "change", "blur", "keyup"} {
		f.handles.Phone.AddEventListener(typ, func(ev *page.Event) { seen = append(seen, ev.Type) }, false)
	}

	f.fill("Jane Doe", "jane@x.com", "555-000-1111")
	f.handles.Button.Click()
	c.Wait()

	assert.Equal(t, "", f.handles.Phone.Value())
	assert.Equal(t, []string{"input", "change", "blur", "keyup"}, seen)
	require.Equal(t, 1, coord.count())
	assert.Equal(t, "555-000-1111", coord.calls[0].Phone, "the coordinator still receives the phone")
}

func TestClick_DetachStopsHandling(t *testing.T) {
	f := newFixture(t, nil)
	coord := &fakeCoordinator{}
	c, err := Attach(f.handles, staticConsent(true), coord, domain.TrackingSnapshot{})
	require.NoError(t, err)
	c.Detach()

	f.fill("", "", "")
	assert.True(t, f.handles.Button.Click())
	assert.Equal(t, 1, *f.widget)
}

type fakeGuard struct {
	mu    sync.Mutex
	held  map[string]bool
	skips atomic.Int32
}

func (g *fakeGuard) Acquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] {
		g.skips.Add(1)
		return func() {}, false, nil
	}
	g.held[key] = true
	return func() {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
	}, true, nil
}

func TestClick_GuardSkipsInFlightDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	coord := &fakeCoordinator{block: make(chan struct{})}
	guard := &fakeGuard{held: map[string]bool{}}
	c, err := Attach(f.handles, staticConsent(true), coord, domain.TrackingSnapshot{},
		WithGuard(guard))
	require.NoError(t, err)

	f.fill("Jane Doe", "jane@x.com", "")
	f.handles.Button.Click()
	require.Eventually(t, func() bool { return coord.count() == 1 }, time.Second, time.Millisecond)
	f.handles.Button.Click()
	require.Eventually(t, func() bool { return guard.skips.Load() == 1 }, time.Second, time.Millisecond)

	close(coord.block)
	c.Wait()
	assert.Equal(t, 1, coord.count())
	assert.Equal(t, 2, *f.widget)
}

func TestLockGuard_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	g := NewLockGuard(client, nil, "inf_form_abc123", time.Minute)
	release, ok, err := g.Acquire(ctx, "Jane@X.com")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.Acquire(ctx, " jane@x.com ")
	require.NoError(t, err)
	assert.False(t, ok)
	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "jane")
	}

	release()
	_, ok, err = g.Acquire(ctx, "jane@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(domain.SubmissionFormData{Name: "Jane", Email: "user@example.com"}))
	assert.ErrorIs(t, Validate(domain.SubmissionFormData{Email: "user@example.com"}), ErrValidation)
	assert.ErrorIs(t, Validate(domain.SubmissionFormData{Name: "Jane", Email: "not-an-email"}), ErrValidation)
}

// network answers every request with 200 and records what was sent.
type network struct {
	mu     sync.Mutex
	bodies map[string][]string
}

func (n *network) RoundTrip(r *http.Request) (*http.Response, error) {
	var body string
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}
	n.mu.Lock()
	if n.bodies == nil {
		n.bodies = map[string][]string{}
	}
	n.bodies[r.URL.Host] = append(n.bodies[r.URL.Host], body)
	n.mu.Unlock()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}, Request: r}, nil
}

func (n *network) sent(host string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.bodies[host]...)
}

func TestEndToEnd_NoConsentPhoneRedactedEverywhereButCRM(t *testing.T) {
	netw := &network{}
	f := newFixture(t, netw)
	w := f.win
	doc := w.Document()

	gate, err := consent.Inject(doc, f.handles.Button, "I agree to texts from Acme.")
	require.NoError(t, err)
	w.Use(redact.New(gate, nil).Middleware())

	pg, tr := submission.Host(w)
	coord := submission.New(pg, tr, submission.Config{
		FormID:  "inf_form_abc123",
		Consent: domain.ConsentField{ID: "inf_option_consent"},
	})
	snap := tracking.Capture(w.Href(), w.Referrer(), time.Now())
	c, err := Attach(f.handles, gate, coord, snap)
	require.NoError(t, err)

	// The widget registers with the phone it captured while the user typed.
	f.handles.Button.AddEventListener("click", func(*page.Event) {
		req, _ := http.NewRequest(http.MethodPost, "https://embed.webby.app/api/register",
			strings.NewReader(`{"viewer":{"name":"Jane Doe","email":"jane@x.com","phone":"555-000-1111"}}`))
		req.Header.Set("Content-Type", "application/json")
		if resp, err := w.Fetch(req); err == nil {
			resp.Body.Close()
		}
	}, false)

	f.fill("Jane Doe", "jane@x.com", "555-000-1111")
	assert.True(t, f.handles.Button.Click())
	c.Wait()
	w.Wait()

	assert.Equal(t, "", f.handles.Phone.Value())
	assert.Equal(t, "+15550001111", doc.GetElementByID("inf_field_Phone1").Value())
	assert.False(t, doc.GetElementByID("inf_option_consent").Checked())

	widget := netw.sent("embed.webby.app")
	require.Len(t, widget, 1)
	assert.Contains(t, widget[0], `"phone":""`)

	crm := netw.sent("acme.infusionsoft.com")
	require.Len(t, crm, 1)
	posted, err := url.ParseQuery(crm[0])
	require.NoError(t, err)
	assert.Equal(t, "Jane", posted.Get("inf_field_FirstName"))
	assert.Equal(t, "Doe", posted.Get("inf_field_LastName"))
	assert.Equal(t, "+15550001111", posted.Get("inf_field_Phone1"))
	assert.False(t, posted.Has("inf_option_consent"))
	assert.Equal(t, 1, *f.widget)
}

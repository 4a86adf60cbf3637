package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/formbridge/internal/domain"
)

const (
	formID    = "inf_form_abc123"
	consentID = "inf_option_Iconsenttoreceivetexts"
	action    = "https://acme.infusionsoft.com/app/form/process/abc123"
)

var jane = domain.SubmissionFormData{Name: "Jane Doe", Email: "jane@x.com", Phone: "555-000-1111"}

type harness struct {
	page      *fakePage
	form      *fakeForm
	transport *fakeTransport
	clock     *fakeClock
	coord     *Coordinator
	fields    map[string]*fakeField
}

func newHarness(t *testing.T, tracking ...string) *harness {
	t.Helper()
	h := &harness{
		page:      newFakePage(),
		form:      newFakeForm(action),
		transport: &fakeTransport{},
		clock:     newFakeClock(),
		fields:    make(map[string]*fakeField),
	}
	for _, id := range []string{DefaultFirstNameField, DefaultLastNameField, DefaultEmailField, DefaultPhoneField,
		"inf_custom_GaSource", "inf_custom_GaMedium", "inf_custom_gclid"} {
		h.fields[id] = h.form.add(id, id, false)
	}
	h.fields[consentID] = h.form.add(consentID, consentID, true)
	h.form.add("inf_form_xid", "inf_form_xid", false).SetValue("xid-1")
	h.page.forms[formID] = h.form

	h.coord = New(h.page, h.transport, Config{
		FormID:         formID,
		PrimaryTimeout: time.Second,
		Consent:        domain.ConsentField{ID: consentID},
		TrackingFields: tracking,
	}, WithClock(h.clock))
	return h
}

func snapshot() domain.TrackingSnapshot {
	return domain.TrackingSnapshot{
		Params:    map[string]string{domain.ParamUTMSource: "fb"},
		Referrer:  "https://lp.example.com/",
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		SessionID: "session-1",
		PageURL:   "https://lp.example.com/?utm_source=fb",
	}
}

// start runs Deliver in the background and waits until the race is armed and
// the native submission has been issued.
func (h *harness) start(t *testing.T, consent bool) <-chan outcome {
	t.Helper()
	ch := make(chan outcome, 1)
	go func() {
		r, err := h.coord.Deliver(context.Background(), jane, consent, snapshot())
		ch <- outcome{result: r, err: err}
	}()
	require.Eventually(t, func() bool { return h.form.submitCount() == 1 }, 2*time.Second, time.Millisecond)
	return ch
}

func await(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never concluded")
		return outcome{}
	}
}

func (h *harness) assertCleanedUp(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.page.lifecycle.removals() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, h.page.lifecycle.activeCount())
	assert.Equal(t, 1, h.page.sink.load.removals())
	assert.Equal(t, 1, h.page.sink.err.removals())
	assert.Equal(t, 0, h.clock.pending())
}

func TestDeliver_FormNotFoundBeforeAnyTimer(t *testing.T) {
	h := newHarness(t)
	delete(h.page.forms, formID)

	res, err := h.coord.Deliver(context.Background(), jane, true, snapshot())
	require.ErrorIs(t, err, ErrFormNotFound)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, h.clock.armed())
	assert.Equal(t, 0, h.page.lifecycle.registered())
	assert.Equal(t, 0, h.page.sink.load.registered())
	assert.Equal(t, 0, h.form.submitCount())
	assert.Empty(t, h.transport.callLog())
}

func TestDeliver_PopulatesForm(t *testing.T) {
	h := newHarness(t, "inf_custom_GaSource", "inf_custom_GaMedium")
	ch := h.start(t, false)

	assert.Equal(t, "Jane", h.fields[DefaultFirstNameField].Value())
	assert.Equal(t, "Doe", h.fields[DefaultLastNameField].Value())
	assert.Equal(t, "jane@x.com", h.fields[DefaultEmailField].Value())
	assert.Equal(t, "+15550001111", h.fields[DefaultPhoneField].Value())
	assert.False(t, h.fields[consentID].Checked())
	assert.Equal(t, "fb", h.fields["inf_custom_GaSource"].Value())
	assert.Equal(t, "null", h.fields["inf_custom_GaMedium"].Value())
	assert.Equal(t, "", h.fields["inf_custom_gclid"].Value(), "fields not listed in the config are left alone")

	h.page.sink.load.fire("load")
	o := await(t, ch)
	require.NoError(t, o.err)
}

func TestDeliver_ConsentWritesCheckedAndValue(t *testing.T) {
	h := newHarness(t)
	h.fields[consentID].SetValue("")
	ch := h.start(t, true)

	assert.True(t, h.fields[consentID].Checked())
	assert.Equal(t, "on", h.fields[consentID].Value())
	assert.Equal(t, "null", h.fields["inf_custom_gclid"].Value(), "empty config writes every declared tracking field")

	h.page.sink.load.fire("load")
	require.NoError(t, await(t, ch).err)
}

func TestDeliver_FirstWriterWins(t *testing.T) {
	t.Run("sink load then page hidden", func(t *testing.T) {
		h := newHarness(t)
		h.transport.beaconOK = true
		ch := h.start(t, false)

		h.page.sink.load.fire("load")
		o := await(t, ch)
		require.NoError(t, o.err)
		assert.Equal(t, domain.OutcomeAcknowledged, o.result.Outcome)
		assert.Equal(t, domain.ChannelSink, o.result.Channel)

		h.page.hide()
		h.page.lifecycle.replay("pagehide")
		h.page.sink.err.replay("error")
		h.clock.Advance(5 * time.Second)

		assert.Empty(t, h.transport.callLog())
		h.assertCleanedUp(t)
	})

	t.Run("page hidden then sink load", func(t *testing.T) {
		h := newHarness(t)
		h.transport.beaconOK = true
		ch := h.start(t, false)

		h.page.hide()
		o := await(t, ch)
		require.NoError(t, o.err)
		assert.Equal(t, domain.OutcomeBackupSent, o.result.Outcome)
		assert.Equal(t, domain.ChannelBeacon, o.result.Channel)

		h.page.sink.load.replay("load")
		h.page.lifecycle.replay("beforeunload")
		h.clock.Advance(5 * time.Second)

		assert.Equal(t, []string{"beacon"}, h.transport.callLog())
		h.assertCleanedUp(t)
	})
}

func TestDeliver_HiddenPageSendsOneBackupInPreferenceOrder(t *testing.T) {
	tests := []struct {
		name         string
		beaconOK     bool
		keepaliveErr error
		want         domain.Channel
		calls        []string
	}{
		{"beacon accepted", true, nil, domain.ChannelBeacon, []string{"beacon"}},
		{"keepalive after beacon refused", false, nil, domain.ChannelKeepalive, []string{"beacon", "keepalive"}},
		{"sync as last resort", false, errNetwork, domain.ChannelSync, []string{"beacon", "keepalive", "sync"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.transport.beaconOK = tt.beaconOK
			h.transport.keepaliveErr = tt.keepaliveErr
			ch := h.start(t, false)

			h.page.hide()
			h.page.lifecycle.fire("beforeunload")
			h.clock.Advance(time.Second)

			o := await(t, ch)
			require.NoError(t, o.err)
			assert.Equal(t, domain.OutcomeBackupSent, o.result.Outcome)
			assert.Equal(t, tt.want, o.result.Channel)

			h.clock.Advance(5 * time.Second)
			assert.Equal(t, tt.calls, h.transport.callLog())
			h.assertCleanedUp(t)
		})
	}
}

func TestDeliver_AllBackupsFail(t *testing.T) {
	h := newHarness(t)
	h.form.submitErr = errors.New("form.submit is not a function")
	h.transport.keepaliveErr = errNetwork
	h.transport.syncErr = errors.New("sync request blocked")
	ch := h.start(t, false)

	h.page.hide()
	o := await(t, ch)
	require.Error(t, o.err)
	assert.ErrorIs(t, o.err, ErrDeliveryFailed)
	assert.ErrorIs(t, o.err, ErrNativeSubmit)
	assert.ErrorIs(t, o.err, errNetwork)
	assert.Equal(t, domain.OutcomeFailed, o.result.Outcome)
	assert.Equal(t, domain.ChannelNone, o.result.Channel)
	assert.Equal(t, []string{"beacon", "keepalive", "sync"}, h.transport.callLog())
	h.assertCleanedUp(t)
}

func TestDeliver_NativeSubmitErrorKeepsRaceAlive(t *testing.T) {
	h := newHarness(t)
	h.form.submitErr = errors.New("blocked by extension")
	ch := h.start(t, false)

	h.page.sink.load.fire("load")
	o := await(t, ch)
	require.NoError(t, o.err)
	assert.Equal(t, domain.OutcomeAcknowledged, o.result.Outcome)
}

func TestDeliver_PrimaryTimeoutWhileVisibleWaits(t *testing.T) {
	h := newHarness(t)
	h.transport.beaconOK = true
	ch := h.start(t, false)

	h.clock.Advance(time.Second)
	h.page.lifecycle.fire("visibilitychange")
	assert.Empty(t, h.transport.callLog())

	h.page.sink.load.fire("load")
	o := await(t, ch)
	assert.Equal(t, domain.ChannelSink, o.result.Channel)
	assert.Equal(t, time.Second, o.result.Duration)
}

func TestDeliver_PrimaryTimeoutWhileHiddenSendsBackup(t *testing.T) {
	h := newHarness(t)
	h.transport.beaconOK = true
	ch := h.start(t, false)

	h.page.hidden.Store(true)
	h.clock.Advance(999 * time.Millisecond)
	assert.Empty(t, h.transport.callLog())
	h.clock.Advance(time.Millisecond)

	o := await(t, ch)
	assert.Equal(t, domain.ChannelBeacon, o.result.Channel)
	assert.Equal(t, []string{"beacon"}, h.transport.callLog())
}

func TestDeliver_BackupTimeoutForcesBackupAndCleansUp(t *testing.T) {
	h := newHarness(t)
	ch := h.start(t, false)

	h.clock.Advance(2999 * time.Millisecond)
	assert.Empty(t, h.transport.callLog())
	h.clock.Advance(time.Millisecond)

	o := await(t, ch)
	require.NoError(t, o.err)
	assert.Equal(t, domain.ChannelKeepalive, o.result.Channel)
	assert.Equal(t, 3*time.Second, o.result.Duration)
	h.assertCleanedUp(t)
}

func TestDeliver_SinkErrorTriggersBackup(t *testing.T) {
	h := newHarness(t)
	h.transport.beaconOK = true
	ch := h.start(t, false)

	h.page.sink.err.fire("error")
	o := await(t, ch)
	assert.Equal(t, domain.OutcomeBackupSent, o.result.Outcome)
	assert.Equal(t, domain.ChannelBeacon, o.result.Channel)
}

func TestDeliver_BackupForcesCriticalFields(t *testing.T) {
	h := newHarness(t)
	h.transport.beaconOK = true
	ch := h.start(t, true)

	// A widget script resets the CRM form after population.
	h.fields[DefaultEmailField].SetValue("")
	h.fields[DefaultPhoneField].SetValue("555")
	h.fields[consentID].SetChecked(false)
	h.fields["inf_custom_GaSource"].SetValue("live")

	h.page.hide()
	await(t, ch)

	sent := h.transport.lastSent()
	require.NotNil(t, sent)
	assert.Equal(t, "Jane", sent.Get(DefaultFirstNameField))
	assert.Equal(t, "Doe", sent.Get(DefaultLastNameField))
	assert.Equal(t, "jane@x.com", sent.Get(DefaultEmailField))
	assert.Equal(t, "+15550001111", sent.Get(DefaultPhoneField))
	assert.Equal(t, "on", sent.Get(consentID))
	assert.Equal(t, "live", sent.Get("inf_custom_GaSource"))
	assert.Equal(t, "xid-1", sent.Get("inf_form_xid"))
}

func TestDeliver_BackupWithoutConsentOmitsConsentField(t *testing.T) {
	h := newHarness(t)
	h.transport.beaconOK = true
	ch := h.start(t, false)

	h.page.hide()
	await(t, ch)
	assert.False(t, h.transport.lastSent().Has(consentID))
}

func TestDeliver_WithoutSinkStillBacksUp(t *testing.T) {
	h := newHarness(t)
	h.page.sink = nil
	h.transport.beaconOK = true
	ch := h.start(t, false)

	h.page.hide()
	o := await(t, ch)
	assert.Equal(t, domain.ChannelBeacon, o.result.Channel)
}

func TestDeliver_ContextCancelStopsWaiting(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan outcome, 1)
	go func() {
		r, err := h.coord.Deliver(ctx, jane, false, snapshot())
		ch <- outcome{result: r, err: err}
	}()
	require.Eventually(t, func() bool { return h.form.submitCount() == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	o := await(t, ch)
	assert.ErrorIs(t, o.err, context.Canceled)
	assert.NotEmpty(t, o.result.AttemptID)

	// The attempt still concludes on its own.
	h.transport.beaconOK = true
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, []string{"beacon"}, h.transport.callLog())
	assert.Equal(t, 0, h.clock.pending())
}

func TestDeliver_AttemptsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.transport.beaconOK = true
	ch := h.start(t, false)
	h.page.sink.load.fire("load")
	first := await(t, ch)

	ch2 := make(chan outcome, 1)
	go func() {
		r, err := h.coord.Deliver(context.Background(), jane, false, snapshot())
		ch2 <- outcome{result: r, err: err}
	}()
	require.Eventually(t, func() bool { return h.form.submitCount() == 2 }, 2*time.Second, time.Millisecond)
	h.page.sink.load.fire("load")
	second := await(t, ch2)

	assert.NotEqual(t, first.result.AttemptID, second.result.AttemptID)
	assert.Equal(t, domain.ChannelSink, second.result.Channel)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(domain.BridgeConfig{FormID: "f", Consent: domain.ConsentField{ID: "c"}})
	c := New(newFakePage(), &fakeTransport{}, cfg).Config()

	assert.Equal(t, time.Second, c.PrimaryTimeout)
	assert.Equal(t, 3*time.Second, c.BackupTimeout())
	assert.Equal(t, "inf_sink_iframe", c.SinkID)
	assert.Equal(t, "c", c.Consent.Name)
	assert.Equal(t, "on", c.Consent.Value)
	assert.Equal(t, DefaultPhoneField, c.PhoneField)
	assert.Equal(t, 5*time.Second, c.KeepaliveTimeout)

	custom := ConfigFrom(domain.BridgeConfig{FormID: "f", PrimaryTimeout: 250})
	assert.Equal(t, 750*time.Millisecond, custom.BackupTimeout())
}

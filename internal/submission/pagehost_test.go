package submission

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/page"
)

const crmPage = `<html><body>
<form id="inf_form_abc123" action="/app/form/process/abc123" method="POST" target="inf_sink_iframe">
  <input type="hidden" name="inf_form_xid" value="xid-1">
  <input id="inf_field_FirstName" name="inf_field_FirstName">
  <input id="inf_field_LastName" name="inf_field_LastName">
  <input id="inf_field_Email" name="inf_field_Email">
  <input id="inf_field_Phone1" name="inf_field_Phone1">
  <input id="inf_option_consent" name="inf_option_consent" type="checkbox" value="1145">
  <input type="hidden" name="inf_custom_GaSource">
</form>
<iframe id="inf_sink_iframe" name="inf_sink_iframe" style="display:none"></iframe>
</body></html>`

type crmServer struct {
	*httptest.Server
	mu       sync.Mutex
	posts    []url.Values
	received chan struct{}
	release  chan struct{}
}

// newCRMServer records every form post. When hold is set the first request
// blocks until release is closed.
func newCRMServer(t *testing.T, hold bool) *crmServer {
	s := &crmServer{received: make(chan struct{}, 8), release: make(chan struct{})}
	if !hold {
		close(s.release)
	}
	first := true
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		v, _ := url.ParseQuery(string(b))
		s.mu.Lock()
		s.posts = append(s.posts, v)
		wait := first
		first = false
		s.mu.Unlock()
		s.received <- struct{}{}
		if wait {
			<-s.release
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *crmServer) got() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.posts...)
}

func hostCoordinator(t *testing.T, srv *crmServer) (*page.Window, *Coordinator) {
	t.Helper()
	w, err := page.Load(crmPage, page.Options{URL: srv.URL + "/landing"})
	require.NoError(t, err)
	p, tr := Host(w)
	c := New(p, tr, Config{
		FormID:         "inf_form_abc123",
		PrimaryTimeout: 2 * time.Second,
		Consent:        domain.ConsentField{ID: "inf_option_consent", Value: "1145"},
	})
	return w, c
}

func TestHost_SinkLoadAcknowledges(t *testing.T) {
	srv := newCRMServer(t, false)
	w, c := hostCoordinator(t, srv)

	res, err := c.Deliver(context.Background(), jane, true, snapshot())
	require.NoError(t, err)
	w.Wait()

	assert.Equal(t, domain.OutcomeAcknowledged, res.Outcome)
	assert.Equal(t, domain.ChannelSink, res.Channel)

	posts := srv.got()
	require.Len(t, posts, 1)
	assert.Equal(t, "Jane", posts[0].Get("inf_field_FirstName"))
	assert.Equal(t, "+15550001111", posts[0].Get("inf_field_Phone1"))
	assert.Equal(t, "1145", posts[0].Get("inf_option_consent"))
	assert.Equal(t, "fb", posts[0].Get("inf_custom_GaSource"))
	assert.Equal(t, "xid-1", posts[0].Get("inf_form_xid"))
	assert.Equal(t, 0, w.ListenerCount())
	assert.Equal(t, 0, w.Document().ListenerCount())
}

func TestHost_PageHiddenBeforeLoadSendsOneBeacon(t *testing.T) {
	srv := newCRMServer(t, true)
	w, c := hostCoordinator(t, srv)

	done := make(chan outcome, 1)
	go func() {
		r, err := c.Deliver(context.Background(), jane, false, snapshot())
		done <- outcome{result: r, err: err}
	}()

	select {
	case <-srv.received:
	case <-time.After(2 * time.Second):
		t.Fatal("native submission never arrived")
	}
	w.Hide()
	w.Unload()

	o := await(t, done)
	require.NoError(t, o.err)
	assert.Equal(t, domain.OutcomeBackupSent, o.result.Outcome)
	assert.Equal(t, domain.ChannelBeacon, o.result.Channel)

	close(srv.release)
	w.Wait()

	posts := srv.got()
	require.Len(t, posts, 2, "native submission plus exactly one backup")
	assert.Equal(t, "jane@x.com", posts[1].Get("inf_field_Email"))
	assert.False(t, posts[1].Has("inf_option_consent"))
	assert.Equal(t, 1, w.Navigator().BeaconsQueued())
}

func TestHost_BeaconUnavailableFallsBackToKeepalive(t *testing.T) {
	srv := newCRMServer(t, true)
	w, c := hostCoordinator(t, srv)
	w.Navigator().SetBeaconEnabled(false)

	done := make(chan outcome, 1)
	go func() {
		r, err := c.Deliver(context.Background(), jane, false, snapshot())
		done <- outcome{result: r, err: err}
	}()
	<-srv.received
	w.Hide()

	o := await(t, done)
	require.NoError(t, o.err)
	assert.Equal(t, domain.ChannelKeepalive, o.result.Channel)
	close(srv.release)
	w.Wait()
}

func TestHost_FormNotFound(t *testing.T) {
	w, err := page.Load(`<p>no form</p>`, page.Options{URL: "https://lp.example.com/"})
	require.NoError(t, err)
	p, tr := Host(w)
	c := New(p, tr, Config{FormID: "inf_form_missing"})

	_, err = c.Deliver(context.Background(), jane, false, snapshot())
	assert.ErrorIs(t, err, ErrFormNotFound)
	assert.Equal(t, 0, w.ListenerCount())
}

package tracking

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/formbridge/internal/domain"
)

func TestCapture(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	page := "https://lp.example.com/join?utm_source=fb&utm_medium=%20&utm_campaign=null&gclid=abc%20def&_wf_cid=c-1"
	snap := Capture(page, "", now)

	assert.Equal(t, map[string]string{
		"utm_source": "fb",
		"gclid":      "abc def",
		"_wf_cid":    "c-1",
	}, snap.Params)
	assert.Equal(t, page, snap.Referrer)
	assert.Equal(t, page, snap.PageURL)
	assert.Equal(t, time.UTC, snap.Timestamp.Location())
	assert.Equal(t, "2026-03-04T04:06:07.000Z", snap.TimestampISO())
	assert.Len(t, snap.SessionID, 36)

	other := Capture(page, "https://ref.example.com/", now)
	assert.Equal(t, "https://ref.example.com/", other.Referrer)
	assert.NotEqual(t, snap.SessionID, other.SessionID)
}

func TestCapture_UnparseableURL(t *testing.T) {
	snap := Capture("://bad", "", time.Now())
	assert.Empty(t, snap.Params)
	assert.Equal(t, "://bad", snap.Referrer)
}

func TestCRMFields(t *testing.T) {
	snap := Capture("https://lp.example.com/?utm_source=google&fbclid=F1", "https://ref.example.com", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	fields := CRMFields(snap)

	assert.Len(t, fields, 14)
	assert.Equal(t, "google", fields[FieldSource])
	assert.Equal(t, "F1", fields[FieldFBCLID])
	assert.Equal(t, MissingValue, fields[FieldMedium])
	assert.Equal(t, MissingValue, fields[FieldTTCLID])
	assert.Equal(t, "https://ref.example.com", fields[FieldReferrer])
	assert.Equal(t, snap.SessionID, fields[FieldSessionID])
	assert.Equal(t, "https://lp.example.com/?utm_source=google&fbclid=F1", fields[FieldPageURL])
	assert.Equal(t, "2026-01-02T03:04:05.000Z", fields[FieldTimestamp])
}

type fakeSQS struct {
	mu       sync.Mutex
	sent     []string
	sendErr  error
	batches  [][]types.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()
	if f.received != nil {
		select {
		case f.received <- struct{}{}:
		default:
		}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	f.mu.Unlock()
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) sentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestPublisher_PublishFillsIDAndTimestamp(t *testing.T) {
	q := &fakeSQS{}
	pub := NewPublisher(q, "https://sqs.example/queue")
	pub.Publish(context.Background(), DeliveryEvent{FormID: "inf_form_abc", Outcome: domain.OutcomeBackupSent, Channel: domain.ChannelBeacon})

	require.Eventually(t, func() bool { return len(q.sentBodies()) == 1 }, 2*time.Second, 5*time.Millisecond)
	var evt DeliveryEvent
	require.NoError(t, json.Unmarshal([]byte(q.sentBodies()[0]), &evt))
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, domain.ChannelBeacon, evt.Channel)
}

func TestPublisher_SendFailureIsSwallowed(t *testing.T) {
	q := &fakeSQS{sendErr: errors.New("throttled")}
	pub := NewPublisher(q, "q")
	assert.NotPanics(t, func() {
		pub.Publish(context.Background(), DeliveryEvent{FormID: "f"})
	})
}

func msg(handle, body string) types.Message {
	return types.Message{ReceiptHandle: aws.String(handle), Body: aws.String(body)}
}

func TestConsumer_StoresAndDeletes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	evt := DeliveryEvent{
		ID:         "7f1d3f0e-4c1b-4c5e-9d0a-1b2c3d4e5f60",
		AttemptID:  "a-1",
		FormID:     "inf_form_abc",
		Channel:    domain.ChannelSink,
		Outcome:    domain.OutcomeAcknowledged,
		DurationMS: 420,
		SessionID:  "s-1",
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	body, _ := json.Marshal(evt)

	mock.ExpectExec("INSERT INTO bridge_delivery_events").
		WithArgs(sqlmock.AnyArg(), "a-1", "inf_form_abc", "iframe", "acknowledged", nil, int64(420), "s-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bridge_delivery_events").
		WillReturnError(errors.New("db down"))

	q := &fakeSQS{batches: [][]types.Message{{
		msg("h1", string(body)),
		msg("h2", "not json"),
		msg("h3", string(body)),
	}}}
	c := NewConsumer(q, "q", db)
	require.NoError(t, c.receiveBatch(context.Background()))

	// h3 failed to store and stays on the queue.
	assert.Equal(t, []string{"h1", "h2"}, q.deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumer_StartStop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := &fakeSQS{received: make(chan struct{}, 1)}
	c := NewConsumer(q, "q", db)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	select {
	case <-q.received:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never polled")
	}
	cancel()
	c.Stop()
	c.Stop()
	assert.NoError(t, mock.ExpectationsWereMet())
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DeliveryEvent
}

func (r *recordingPublisher) Publish(_ context.Context, evt DeliveryEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func TestHandler_DeliveryJSONAndForm(t *testing.T) {
	pub := &recordingPublisher{}
	srv := httptest.NewServer(NewHandler(pub).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/track/delivery", "application/json",
		strings.NewReader(`{"form_id":"inf_form_abc","outcome":"failed","error":"all backup methods failed"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	form := url.Values{"form_id": {"inf_form_abc"}, "outcome": {"backup_sent"}, "channel": {"sendBeacon"}, "duration_ms": {"1200"}}
	resp, err = http.PostForm(srv.URL+"/track/delivery", form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/track/delivery", "application/json", strings.NewReader(`{"outcome":"failed"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.OutcomeFailed, pub.events[0].Outcome)
	assert.Equal(t, domain.ChannelBeacon, pub.events[1].Channel)
	assert.Equal(t, int64(1200), pub.events[1].DurationMS)
}

func TestHandler_DeliveryPixel(t *testing.T) {
	pub := &recordingPublisher{}
	srv := httptest.NewServer(NewHandler(pub).Routes())
	defer srv.Close()

	data := base64.RawURLEncoding.EncodeToString([]byte(`{"form_id":"inf_form_abc","outcome":"acknowledged","channel":"iframe"}`))
	resp, err := http.Get(srv.URL + "/track/delivery/" + data)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/track/delivery/not-base64!")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.ChannelSink, pub.events[0].Channel)
}

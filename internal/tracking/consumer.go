package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/ignite/formbridge/internal/pkg/logger"
)

const insertDeliveryEvent = `
	INSERT INTO bridge_delivery_events (id, attempt_id, form_id, channel, outcome, error, duration_ms, session_id, event_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT DO NOTHING`

// Consumer long-polls the delivery event queue and stores each event.
type Consumer struct {
	sqsClient SQSAPI
	queueURL  string
	db        *sql.DB
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	log       *logger.Logger

	// RetryDelay is the pause after a failed receive.
	RetryDelay time.Duration
	// WaitSeconds is the long-poll duration per receive.
	WaitSeconds int32
}

func NewConsumer(sqsClient SQSAPI, queueURL string, db *sql.DB) *Consumer {
	return &Consumer{
		sqsClient:   sqsClient,
		queueURL:    queueURL,
		db:          db,
		done:        make(chan struct{}),
		log:         logger.Named("tracking-consumer"),
		RetryDelay:  5 * time.Second,
		WaitSeconds: 20,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.log.Info("SQS delivery event consumer started", "queue", c.queueURL)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poll(ctx)
	}()
}

// Stop ends polling and waits for the loop to exit.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}
		if err := c.receiveBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("SQS receive error", "error", err.Error())
			select {
			case <-time.After(c.RetryDelay):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

// receiveBatch handles one long-poll. Malformed messages are dropped; events
// that fail to store stay on the queue for redelivery.
func (c *Consumer) receiveBatch(ctx context.Context) error {
	out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.WaitSeconds,
	})
	if err != nil {
		return err
	}

	for _, msg := range out.Messages {
		var evt DeliveryEvent
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
			c.log.Warn("SQS bad message", "error", err.Error())
			c.deleteMessage(ctx, msg.ReceiptHandle)
			continue
		}
		if err := c.Store(ctx, evt); err != nil {
			c.log.Error("storing delivery event", "event_id", evt.ID, "error", err.Error())
			continue
		}
		c.deleteMessage(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	if _, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		c.log.Warn("SQS delete failed", "error", err.Error())
	}
}

// Store inserts one event. Replays of an already stored event are ignored.
func (c *Consumer) Store(ctx context.Context, evt DeliveryEvent) error {
	id, err := uuid.Parse(evt.ID)
	if err != nil {
		id = uuid.New()
	}
	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = c.db.ExecContext(ctx, insertDeliveryEvent,
		id, evt.AttemptID, evt.FormID, string(evt.Channel), string(evt.Outcome),
		nullString(evt.Error), evt.DurationMS, evt.SessionID, at)
	if err != nil {
		return err
	}
	c.log.Debug("stored delivery event", "form_id", evt.FormID, "outcome", string(evt.Outcome), "channel", string(evt.Channel))
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// DeliveryEvent records how one submission attempt concluded.
type DeliveryEvent struct {
	ID         string         `json:"id"`
	AttemptID  string         `json:"attempt_id"`
	FormID     string         `json:"form_id"`
	Channel    domain.Channel `json:"channel"`
	Outcome    domain.Outcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	SessionID  string         `json:"session_id"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SQSAPI is the subset of the SQS client used by the publisher and consumer.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Publisher sends delivery events to SQS without blocking the caller.
type Publisher struct {
	client   SQSAPI
	queueURL string
	log      *logger.Logger
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL, log: logger.Named("tracking")}
}

// Publish fills in the event id and timestamp when missing and sends the
// event in the background with a 5s budget. Failures are logged.
func (p *Publisher) Publish(ctx context.Context, evt DeliveryEvent) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		p.log.Error("marshal delivery event", "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			p.log.Error("publishing delivery event to SQS", "event_id", evt.ID, "error", err.Error())
		}
	}()
}

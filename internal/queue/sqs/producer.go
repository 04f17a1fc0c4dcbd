package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"medrelay/internal/normalize"
	"medrelay/internal/observability"
	"medrelay/internal/relay"
	"medrelay/internal/util"
)

// SQS message bodies are capped at 256KB.
const maxMessageBytes = 256 * 1024

const defaultGroupBuckets = 256

var ErrTooLarge = errors.New("relay event exceeds sqs message size")

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// RelayEvent is one webhook delivery waiting for the relay worker. Body is the raw
// request body, kept as bytes because it may not be valid JSON.
type RelayEvent struct {
	ID          string    `json:"id"`
	Direction   string    `json:"direction"`
	Event       string    `json:"event,omitempty"`
	Body        []byte    `json:"body"`
	OrderingKey string    `json:"orderingKey,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

type Producer struct {
	SQS      API
	QueueURL string
	// FIFO queues get a message group per conversation bucket so one chat stays ordered.
	FIFO         bool
	GroupBuckets int
}

// Enqueue matches the webhook server's queue contract.
func (p *Producer) Enqueue(ctx context.Context, direction, event string, body []byte) error {
	ev := RelayEvent{
		ID:          util.NewEventID(),
		Direction:   direction,
		Event:       event,
		Body:        body,
		OrderingKey: orderingKey(direction, body),
		ReceivedAt:  util.NowUTC(),
	}
	err := p.Send(ctx, ev)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.QueueEvents.WithLabelValues(direction, "enqueue_"+result).Inc()
	return err
}

func (p *Producer) Send(ctx context.Context, ev RelayEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if len(raw) > maxMessageBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(raw)),
	}
	if p.FIFO {
		in.MessageGroupId = str(messageGroupIDBucketed(ev.Direction, ev.OrderingKey, p.GroupBuckets))
		in.MessageDeduplicationId = str(ev.ID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func orderingKey(direction string, body []byte) string {
	if direction == relay.DirectionOutbound {
		return normalize.HelpdeskOrderingKey(body)
	}
	return normalize.WhatsAppOrderingKey(body)
}

// messageGroupIDBucketed spreads conversations over a fixed number of FIFO groups.
// Events of one conversation always land in the same group.
func messageGroupIDBucketed(direction, key string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%s-%04d", direction, h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }

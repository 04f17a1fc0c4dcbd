package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"medrelay/internal/observability"
)

type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type Handler func(ctx context.Context, ev RelayEvent) error

// PollConcurrent runs relay events through a worker pool until ctx is done. A message
// is deleted once its handler succeeds; a failed one is left for SQS to redrive.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan types.Message, workers*2)
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	go func() {
		defer close(jobs)

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: c.MaxMessages,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.Error("sqs receive message failed", "err", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	err := <-errCh

	// workers drain what is already buffered
	wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler Handler) {
	if m.Body == nil {
		observability.QueueEvents.WithLabelValues("unknown", "poison").Inc()
		c.delete(ctx, m)
		return
	}
	var ev RelayEvent
	if err := json.Unmarshal([]byte(*m.Body), &ev); err != nil {
		// poison message, redrive would loop forever
		slog.Error("sqs relay event undecodable", "err", err)
		observability.QueueEvents.WithLabelValues("unknown", "poison").Inc()
		c.delete(ctx, m)
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("sqs relay handler error", "err", err, "event_id", ev.ID, "direction", ev.Direction)
		return
	}
	c.delete(ctx, m)
}

// delete outlives shutdown so a finished job is not redelivered.
func (c *Consumer) delete(ctx context.Context, m types.Message) {
	if _, err := c.SQS.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		slog.Error("sqs delete message failed", "err", err)
	}
}

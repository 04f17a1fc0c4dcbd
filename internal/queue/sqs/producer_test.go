package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	mu      sync.Mutex
	sent    []*sqs.SendMessageInput
	pending []types.Message
	deleted []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestMessageGroupIDBucketed(t *testing.T) {
	key := "tenant_7:5534999990000@s.whatsapp.net"

	got1 := messageGroupIDBucketed("inbound", key, 2000)
	got2 := messageGroupIDBucketed("inbound", key, 2000)
	if got1 != got2 {
		t.Fatalf("expected stable group id, got %q vs %q", got1, got2)
	}
	if !strings.HasPrefix(got1, "inbound-") {
		t.Fatalf("group id %q should carry the direction", got1)
	}

	// buckets<=0 should use default.
	if got := messageGroupIDBucketed("outbound", "3:77", 0); got == "" {
		t.Fatalf("expected non-empty group id for default buckets")
	}
}

func TestEnqueueFIFO(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "https://sqs/relay.fifo", FIFO: true, GroupBuckets: 64}
	body := []byte(`{"event":"messages.upsert","instance":"tenant_7","data":{"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"ABC123"}}}`)

	if err := p.Enqueue(context.Background(), "inbound", "messages-upsert", body); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent: %d", len(f.sent))
	}
	in := f.sent[0]
	if in.MessageGroupId == nil || in.MessageDeduplicationId == nil {
		t.Fatalf("fifo attributes missing: %+v", in)
	}
	var ev RelayEvent
	if err := json.Unmarshal([]byte(*in.MessageBody), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Direction != "inbound" || ev.Event != "messages-upsert" || string(ev.Body) != string(body) {
		t.Fatalf("event: %+v", ev)
	}
	if ev.OrderingKey != "tenant_7:5534999990000@s.whatsapp.net" || *in.MessageDeduplicationId != ev.ID {
		t.Fatalf("ordering=%q dedup=%q id=%q", ev.OrderingKey, *in.MessageDeduplicationId, ev.ID)
	}
}

func TestEnqueueStandardQueueAndInvalidBody(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "https://sqs/relay"}

	if err := p.Enqueue(context.Background(), "outbound", "", []byte("not json")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if f.sent[0].MessageGroupId != nil {
		t.Fatalf("standard queue must not set a group id")
	}
}

func TestEnqueueTooLarge(t *testing.T) {
	p := &Producer{SQS: &fakeSQS{}, QueueURL: "q"}
	big := make([]byte, maxMessageBytes)
	if err := p.Enqueue(context.Background(), "inbound", "", big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func message(handle string, ev *RelayEvent, raw string) types.Message {
	h := handle
	m := types.Message{ReceiptHandle: &h}
	if ev != nil {
		b, _ := json.Marshal(ev)
		s := string(b)
		m.Body = &s
	} else if raw != "" {
		m.Body = &raw
	}
	return m
}

func TestPollConcurrentDeletesOnlyHandled(t *testing.T) {
	f := &fakeSQS{pending: []types.Message{
		message("ok", &RelayEvent{ID: "evt_ok", Direction: "inbound"}, ""),
		message("fail", &RelayEvent{ID: "evt_fail", Direction: "inbound"}, ""),
		message("poison", nil, "{not json"),
		message("empty", nil, ""),
	}}
	c := &Consumer{SQS: f, QueueURL: "q", MaxMessages: 10}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.PollConcurrent(ctx, 2, func(ctx context.Context, ev RelayEvent) error {
			if ev.ID == "evt_fail" {
				return errors.New("upstream 503")
			}
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		n := len(f.deleted)
		f.mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("messages not processed in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("poll returned %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	got := map[string]bool{}
	for _, h := range f.deleted {
		got[h] = true
	}
	if !got["ok"] || !got["poison"] || !got["empty"] || got["fail"] {
		t.Fatalf("deleted: %v", f.deleted)
	}
}

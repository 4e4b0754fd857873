package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"habitledger/pkg/trace"
)

type fakeAck struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type fakeRetries struct {
	counts map[string]int64
	resets int
}

func (f *fakeRetries) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRetries) Reset(ctx context.Context, key string) error {
	delete(f.counts, key)
	f.resets++
	return nil
}

type fakeDLQ struct {
	published [][]byte
	err       error
}

func (f *fakeDLQ) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string, failedQueue string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload)
	return nil
}

func newTestConsumer(h MessageHandler) *Consumer {
	c := &Consumer{
		queue:      amqp091.Queue{Name: "test.queue"},
		routingKey: "habit.completion.toggled",
		logger:     zap.NewNop(),
	}
	c.SetHandler(h)
	return c
}

func delivery(ack *fakeAck) amqp091.Delivery {
	return amqp091.Delivery{
		Acknowledger: ack,
		MessageId:    "msg-1",
		Body:         []byte(`{"habit_id":1}`),
		Headers:      amqp091.Table{trace.HeaderName: "trace-abc"},
	}
}

func TestProcess_SuccessAcksAndPropagatesTrace(t *testing.T) {
	var seen string
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		seen = trace.FromContext(ctx)
		return nil
	})
	retries := &fakeRetries{}
	c.WithRetryLimit(retries, 3, nil)

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack))

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 0, ack.nacks)
	assert.Equal(t, "trace-abc", seen)
	assert.Equal(t, 1, retries.resets)
}

func TestProcess_RetryableErrorRequeues(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		return context.DeadlineExceeded
	})
	c.WithRetryLimit(&fakeRetries{}, 3, &fakeDLQ{})

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack))

	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestProcess_RetriesExhaustedGoesToDLQ(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		return context.DeadlineExceeded
	})
	dlq := &fakeDLQ{}
	c.WithRetryLimit(&fakeRetries{}, 1, dlq)

	first := &fakeAck{}
	c.process(context.Background(), delivery(first))
	assert.True(t, first.requeue)

	second := &fakeAck{}
	c.process(context.Background(), delivery(second))
	assert.Equal(t, 1, second.acks)
	assert.Len(t, dlq.published, 1)
}

func TestProcess_PoisonMessageDeadLettered(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		var v struct{}
		return json.Unmarshal([]byte("{"), &v)
	})
	dlq := &fakeDLQ{}
	c.WithRetryLimit(&fakeRetries{}, 3, dlq)

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack))

	assert.Equal(t, 1, ack.acks)
	assert.Len(t, dlq.published, 1)
}

func TestProcess_DLQFailureRequeues(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		return errors.New("boom")
	})
	c.WithRetryLimit(&fakeRetries{}, 3, &fakeDLQ{err: errors.New("dlq down")})

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack))

	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestProcess_NoSinkDropsMessage(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		return errors.New("boom")
	})

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack))

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}

func TestProcess_PanicIsNacked(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		panic("handler bug")
	})

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack))

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}

type memDeduper struct {
	seen map[string]bool
}

func (d *memDeduper) AcquireOnce(ctx context.Context, handler string, messageID string) bool {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[handler+messageID] {
		return false
	}
	d.seen[handler+messageID] = true
	return true
}

func (d *memDeduper) Release(ctx context.Context, handler string, messageID string) {
	delete(d.seen, handler+messageID)
}

func TestProcess_DuplicateMessageAckedWithoutHandling(t *testing.T) {
	calls := 0
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		calls++
		return nil
	})
	c.WithDeduper(&memDeduper{})

	first, second := &fakeAck{}, &fakeAck{}
	c.process(context.Background(), delivery(first))
	c.process(context.Background(), delivery(second))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, second.acks)
}

func TestProcess_FailedMessageReleasesDedupKey(t *testing.T) {
	calls := 0
	c := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		calls++
		return context.DeadlineExceeded
	})
	c.WithDeduper(&memDeduper{})

	c.process(context.Background(), delivery(&fakeAck{}))
	c.process(context.Background(), delivery(&fakeAck{}))
	assert.Equal(t, 2, calls)
}

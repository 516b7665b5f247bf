package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	primaryTopic = "process_db"
	retryTopic   = "process_db_retry"
)

// fakeReader hands out queued records and blocks when empty.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	wake      chan struct{}
	committed []kafka.Message
	commitErr error
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, wake: make(chan struct{}, 1)}
}

func (r *fakeReader) add(msg kafka.Message) {
	r.mu.Lock()
	r.queue = append(r.queue, msg)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			msg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return msg, nil
		}
		r.mu.Unlock()
		select {
		case <-r.wake:
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		}
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

// fakeWriter records what was sent to the retry topic.
type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	err     error
	onWrite func(kafka.Message)
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	if w.err != nil {
		w.mu.Unlock()
		return w.err
	}
	w.written = append(w.written, msgs...)
	hook := w.onWrite
	w.mu.Unlock()
	if hook != nil {
		for _, m := range msgs {
			hook(m)
		}
	}
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.written...)
}

func record(topic string, partition int, offset int64, value string) kafka.Message {
	return kafka.Message{Topic: topic, Partition: partition, Offset: offset, Value: []byte(value)}
}

func TestProcessForwardsFailedMessageUnmodified(t *testing.T) {
	registry := NewRegistry()
	registry.Register(EventUpdateStockPrice, HandlerFunc(func(ctx context.Context, data json.RawMessage) error {
		return errors.New("database is locked")
	}))

	value := `{"type":"UPDATE_STOCK_PRICE","data":{"marketId":"m1","yesPrice":6.0,"noPrice":4.0}}`
	reader := newFakeReader()
	writer := &fakeWriter{}
	p := NewPipeline(reader, writer, registry, nil, zaptest.NewLogger(t))

	require.NoError(t, p.Process(context.Background(), record(primaryTopic, 0, 17, value)))

	forwarded := writer.messages()
	require.Len(t, forwarded, 1)
	assert.Equal(t, value, string(forwarded[0].Value), "value must be forwarded byte for byte")
	assert.Equal(t, EventUpdateStockPrice, string(forwarded[0].Key))
	assert.Equal(t, 1, retryCount(forwarded[0].Headers))

	var m Message
	require.NoError(t, json.Unmarshal(forwarded[0].Value, &m))
	assert.Equal(t, EventUpdateStockPrice, m.Type)
	assert.JSONEq(t, `{"marketId":"m1","yesPrice":6.0,"noPrice":4.0}`, string(m.Data))

	commits := reader.commits()
	require.Len(t, commits, 1)
	assert.Equal(t, int64(17), commits[0].Offset, "offset advances even though the handler failed")
}

func TestProcessIncrementsRetryCount(t *testing.T) {
	registry := NewRegistry()
	reader := newFakeReader()
	writer := &fakeWriter{}
	p := NewPipeline(reader, writer, registry, nil, zaptest.NewLogger(t))

	msg := record(retryTopic, 0, 3, `{"type":"NOT_A_THING","data":{}}`)
	msg.Headers = []kafka.Header{{Key: RetryCountHeader, Value: []byte("4")}, {Key: "trace", Value: []byte("x")}}

	require.NoError(t, p.Process(context.Background(), msg))

	forwarded := writer.messages()
	require.Len(t, forwarded, 1)
	assert.Equal(t, 5, retryCount(forwarded[0].Headers))
	assert.Len(t, forwarded[0].Headers, 2)
}

func TestProcessForwardFailureDoesNotCommit(t *testing.T) {
	registry := NewRegistry()
	reader := newFakeReader()
	writer := &fakeWriter{err: errors.New("leader not available")}
	p := NewPipeline(reader, writer, registry, nil, zaptest.NewLogger(t))

	err := p.Process(context.Background(), record(primaryTopic, 1, 9, `{"type":"ORDER_PLACED","data":{}}`))
	require.Error(t, err)
	assert.Empty(t, reader.commits())
}

func TestRunCommitsEveryOffsetInOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register("OK", HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))
	registry.Register("FAIL", HandlerFunc(func(context.Context, json.RawMessage) error { return errors.New("boom") }))

	reader := newFakeReader(
		record(primaryTopic, 0, 0, `{"type":"OK","data":{}}`),
		record(primaryTopic, 0, 1, `{"type":"FAIL","data":{}}`),
		record(primaryTopic, 0, 2, `not json at all`),
		record(primaryTopic, 0, 3, `{"type":"UNKNOWN","data":{}}`),
		record(primaryTopic, 0, 4, `{"data":{}}`),
		record(primaryTopic, 0, 5, `{"type":"OK","data":{}}`),
	)
	writer := &fakeWriter{}
	offsets := NewOffsetTracker()
	p := NewPipeline(reader, writer, registry, offsets, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var last int64 = -1
	for _, m := range reader.commits() {
		assert.Greater(t, m.Offset, last)
		last = m.Offset
	}
	assert.Equal(t, int64(5), offsets.Last(primaryTopic, 0))

	// FAIL and UNKNOWN go to the retry topic; malformed records do not
	assert.Len(t, writer.messages(), 2)
}

func TestRunStopsWhenForwardFails(t *testing.T) {
	registry := NewRegistry()
	reader := newFakeReader(record(primaryTopic, 0, 0, `{"type":"UNKNOWN","data":{}}`))
	writer := &fakeWriter{err: errors.New("broker down")}
	p := NewPipeline(reader, writer, registry, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.Error(t, err)
	assert.Empty(t, reader.commits())
}

func TestOffsetTrackerRejectsRegression(t *testing.T) {
	tracker := NewOffsetTracker()
	assert.Equal(t, int64(-1), tracker.Last(primaryTopic, 0))

	require.NoError(t, tracker.Commit(primaryTopic, 0, 10))
	require.NoError(t, tracker.Commit(primaryTopic, 0, 10))
	require.NoError(t, tracker.Commit(primaryTopic, 1, 2))
	assert.Error(t, tracker.Commit(primaryTopic, 0, 9))
	assert.Equal(t, int64(10), tracker.Last(primaryTopic, 0))
	assert.Equal(t, int64(2), tracker.Last(primaryTopic, 1))
}

func TestConsumerRunsOneReaderPerWorker(t *testing.T) {
	registry := NewRegistry()
	registry.Register("OK", HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))

	var mu sync.Mutex
	var readers []*fakeReader
	newReader := func() Reader {
		mu.Lock()
		defer mu.Unlock()
		partition := len(readers)
		r := newFakeReader(record(primaryTopic, partition, 0, `{"type":"OK","data":{}}`))
		readers = append(readers, r)
		return r
	}

	c := NewConsumer(3, newReader, &fakeWriter{}, registry, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.Offsets().Last(primaryTopic, 0) == 0 &&
			c.Offsets().Last(primaryTopic, 1) == 0 &&
			c.Offsets().Last(primaryTopic, 2) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, readers, 3)
	for _, r := range readers {
		r.mu.Lock()
		assert.True(t, r.closed)
		r.mu.Unlock()
	}
}

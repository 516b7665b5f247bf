package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/pkg/metrics"
)

// RetryCountHeader counts how many times a record went through the retry topic.
const RetryCountHeader = "retry-count"

// Reader is the part of *kafka.Reader the pipeline uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the part of *kafka.Writer the pipeline uses. It must be bound to the
// retry topic.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Pipeline processes the records of one reader sequentially.
type Pipeline struct {
	reader   Reader
	retry    Writer
	registry *Registry
	offsets  *OffsetTracker
	logger   *zap.Logger

	// fetchBackoff is the pause after a failed fetch.
	fetchBackoff time.Duration
}

func NewPipeline(reader Reader, retry Writer, registry *Registry, offsets *OffsetTracker, logger *zap.Logger) *Pipeline {
	if offsets == nil {
		offsets = NewOffsetTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		reader:       reader,
		retry:        retry,
		registry:     registry,
		offsets:      offsets,
		logger:       logger,
		fetchBackoff: time.Second,
	}
}

// Run consumes until ctx is canceled or the reader is closed. It returns an
// error only when a record could be neither applied nor handed to the retry
// topic; that record stays uncommitted.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			p.logger.Error("Failed to fetch message", zap.Error(err))
			select {
			case <-time.After(p.fetchBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := p.Process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Process attempts one record and commits it. A handler failure forwards the
// record to the retry topic before the commit.
func (p *Pipeline) Process(ctx context.Context, msg kafka.Message) error {
	log := p.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	m, err := DecodeMessage(msg.Value)
	if err != nil {
		// nothing to re-tag, so it cannot go to the retry topic
		metrics.IngestMalformed.WithLabelValues(msg.Topic).Inc()
		log.Error("Skipping malformed message",
			zap.Bool("alert", true),
			zap.Error(err),
			zap.ByteString("value", msg.Value))
		return p.commit(ctx, msg)
	}
	log = log.With(zap.String("event_type", m.Type))

	start := time.Now()
	err = p.registry.Dispatch(ctx, m)
	metrics.IngestHandlerLatency.WithLabelValues(m.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.IngestMessages.WithLabelValues(msg.Topic, m.Type, "success").Inc()
		return p.commit(ctx, msg)
	}

	log.Warn("Handler failed, forwarding to retry topic", zap.Error(err))
	if ferr := p.forward(ctx, msg, m.Type); ferr != nil {
		metrics.IngestMessages.WithLabelValues(msg.Topic, m.Type, "forward_failed").Inc()
		log.Error("Failed to forward message to retry topic",
			zap.Bool("alert", true),
			zap.Error(ferr))
		return fmt.Errorf("forward %s/%d@%d to retry topic: %w", msg.Topic, msg.Partition, msg.Offset, ferr)
	}
	metrics.IngestMessages.WithLabelValues(msg.Topic, m.Type, "retried").Inc()
	metrics.IngestRetryForwarded.WithLabelValues(m.Type).Inc()
	return p.commit(ctx, msg)
}

// forward re-publishes the record value unchanged, keyed by event type.
func (p *Pipeline) forward(ctx context.Context, msg kafka.Message, eventType string) error {
	attempt := retryCount(msg.Headers) + 1
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	for _, h := range msg.Headers {
		if h.Key != RetryCountHeader {
			headers = append(headers, h)
		}
	}
	headers = append(headers, kafka.Header{Key: RetryCountHeader, Value: []byte(strconv.Itoa(attempt))})

	return p.retry.WriteMessages(ctx, kafka.Message{
		Key:     []byte(eventType),
		Value:   msg.Value,
		Headers: headers,
	})
}

func (p *Pipeline) commit(ctx context.Context, msg kafka.Message) error {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to commit offset",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	if err := p.offsets.Commit(msg.Topic, msg.Partition, msg.Offset); err != nil {
		p.logger.Error("Offset regression", zap.Error(err))
	}
	return nil
}

func retryCount(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key == RetryCountHeader {
			n, err := strconv.Atoi(string(h.Value))
			if err == nil {
				return n
			}
		}
	}
	return 0
}

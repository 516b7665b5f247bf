package ingest

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/internal/config"
)

// NewReader builds a consumer-group reader over the primary and retry topics.
// Offsets are committed synchronously by the pipeline, never on read.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    []string{cfg.Topic, cfg.RetryTopic},
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       cfg.MaxBytes,
		SessionTimeout: cfg.SessionTimeout,
	})
}

// NewRetryWriter builds the producer bound to the retry topic. Records are keyed
// by event type so the hash balancer keeps one type on one partition.
func NewRetryWriter(cfg config.KafkaConfig, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.RetryTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), zap.String("topic", cfg.RetryTopic))
		}),
	}
}

// EnsureTopics creates the primary and retry topics when they are missing.
func EnsureTopics(ctx context.Context, cfg config.KafkaConfig, logger *zap.Logger) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	var dialer kafka.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka broker: %w", err)
	}
	defer conn.Close()

	existing, err := listTopics(conn)
	if err != nil {
		return err
	}

	var missing []kafka.TopicConfig
	for _, topic := range []string{cfg.Topic, cfg.RetryTopic} {
		if existing[topic] {
			logger.Debug("Topic already exists", zap.String("topic", topic))
			continue
		}
		missing = append(missing, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.Replication,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "cleanup.policy", ConfigValue: "delete"},
			},
		})
	}
	if len(missing) == 0 {
		return nil
	}

	// topic creation has to go through the controller
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find Kafka controller: %w", err)
	}
	ctrlConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka controller: %w", err)
	}
	defer ctrlConn.Close()

	for _, tc := range missing {
		logger.Info("Creating Kafka topic",
			zap.String("topic", tc.Topic),
			zap.Int("partitions", tc.NumPartitions),
			zap.Int("replication_factor", tc.ReplicationFactor))
	}
	if err := ctrlConn.CreateTopics(missing...); err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	return nil
}

func listTopics(conn *kafka.Conn) (map[string]bool, error) {
	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions: %w", err)
	}
	topics := make(map[string]bool)
	for _, p := range partitions {
		topics[p.Topic] = true
	}
	return topics, nil
}

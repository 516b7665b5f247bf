package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Consumer runs several pipelines in one consumer group. Kafka assigns each
// partition to one worker, so records of a partition are applied in log order.
type Consumer struct {
	workers   int
	newReader func() Reader
	retry     Writer
	registry  *Registry
	offsets   *OffsetTracker
	logger    *zap.Logger
}

// NewConsumer takes a reader factory so every worker owns its own group member.
func NewConsumer(workers int, newReader func() Reader, retry Writer, registry *Registry, logger *zap.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		workers:   workers,
		newReader: newReader,
		retry:     retry,
		registry:  registry,
		offsets:   NewOffsetTracker(),
		logger:    logger.Named("ingest"),
	}
}

// Offsets exposes the commit tracker shared by the workers.
func (c *Consumer) Offsets() *OffsetTracker {
	return c.offsets
}

// Run blocks until ctx is canceled or a worker fails. A failing worker stops the
// others so the process can restart and pick up from the last commit.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		worker := i
		g.Go(func() error {
			reader := c.newReader()
			defer reader.Close()

			log := c.logger.With(zap.Int("worker", worker))
			log.Info("Ingestion worker started", zap.Strings("event_types", c.registry.Types()))
			err := NewPipeline(reader, c.retry, c.registry, c.offsets, log).Run(ctx)
			if err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			log.Info("Ingestion worker stopped")
			return nil
		})
	}
	return g.Wait()
}

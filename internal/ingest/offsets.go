package ingest

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/Aidin1998/tradebus/pkg/metrics"
)

type partitionKey struct {
	topic     string
	partition int
}

// OffsetTracker remembers the last committed offset of every partition a worker
// has seen and refuses to move one backwards.
type OffsetTracker struct {
	mu      sync.Mutex
	offsets map[partitionKey]int64
}

func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{offsets: make(map[partitionKey]int64)}
}

// Commit records offset as committed. A smaller offset than the last one for
// the same partition is rejected; an equal one (redelivery) is accepted.
func (t *OffsetTracker) Commit(topic string, partition int, offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := partitionKey{topic, partition}
	if last, ok := t.offsets[key]; ok && offset < last {
		return fmt.Errorf("offset for %s/%d moved backwards: %d < %d", topic, partition, offset, last)
	}
	t.offsets[key] = offset
	metrics.IngestCommittedOffset.WithLabelValues(topic, strconv.Itoa(partition)).Set(float64(offset))
	return nil
}

// Last returns the last committed offset, or -1 if none.
func (t *OffsetTracker) Last(topic string, partition int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if off, ok := t.offsets[partitionKey{topic, partition}]; ok {
		return off
	}
	return -1
}

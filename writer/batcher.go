package writer

import (
	"bytes"
	"context"
	"fmt"

	appconfig "fraudflow/config"
	"fraudflow/logger"
	"fraudflow/models"
	"fraudflow/storage"
)

// Ref identifies a broker message whose event sits in a partition buffer.
// Once the buffer holding it is durably flushed the ref is handed to the
// flush callback so the consumer can advance its commit watermark.
type Ref struct {
	Partition int
	Offset    int64
}

// FlushFn is invoked after each successful flush with the refs of every
// record the flushed object contains.
type FlushFn func(refs []Ref)

type partitionBuffer struct {
	lines [][]byte
	refs  []Ref
}

// Batcher groups raw event lines by partition key and flushes each group to
// partitioned storage once it reaches the configured batch size, or on
// shutdown. It is mutated only by the single consuming loop; flushes never
// overwrite an existing object, so a failed write can be retried safely.
type Batcher struct {
	cfg       *appconfig.Config
	store     storage.ObjectStore
	onFlush   FlushFn
	log       *logger.Log
	batchSize int
	buffers   map[models.PartitionKey]*partitionBuffer

	flushCount   int64
	recordCount  int64
	failureCount int64
}

func NewBatcher(cfg *appconfig.Config, store storage.ObjectStore, onFlush FlushFn) *Batcher {
	batchSize := cfg.Batcher.BatchSize
	if batchSize < 1 {
		batchSize = 50
	}
	return &Batcher{
		cfg:       cfg,
		store:     store,
		onFlush:   onFlush,
		log:       logger.GetLogger(),
		batchSize: batchSize,
		buffers:   make(map[models.PartitionKey]*partitionBuffer),
	}
}

// Add appends one raw event line to its partition's buffer and flushes the
// buffer when it reaches the batch size. On a flush failure the buffer is
// left intact: a subsequent Add or FlushAll retries the write under a new
// object name.
func (b *Batcher) Add(ctx context.Context, key models.PartitionKey, line []byte, ref Ref) error {
	buf, ok := b.buffers[key]
	if !ok {
		buf = &partitionBuffer{
			lines: make([][]byte, 0, b.batchSize),
			refs:  make([]Ref, 0, b.batchSize),
		}
		b.buffers[key] = buf
	}

	buf.lines = append(buf.lines, line)
	buf.refs = append(buf.refs, ref)

	if len(buf.lines) >= b.batchSize {
		return b.flush(ctx, key, buf, "size")
	}
	return nil
}

// FlushAll writes out every non-empty partition buffer. All buffers are
// attempted even when one fails; the first error is returned afterwards so
// no partition is silently skipped during shutdown.
func (b *Batcher) FlushAll(ctx context.Context, reason string) error {
	var firstErr error
	for key, buf := range b.buffers {
		if len(buf.lines) == 0 {
			continue
		}
		if err := b.flush(ctx, key, buf, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Batcher) flush(ctx context.Context, key models.PartitionKey, buf *partitionBuffer, reason string) error {
	objKey := storage.RawObjectKey(key)

	log := b.log.WithComponent("batcher").WithFields(logger.Fields{
		"dt":           key.Dt,
		"hour":         key.Hour,
		"record_count": len(buf.lines),
		"object_key":   objKey,
		"reason":       reason,
		"operation":    "flush",
	})

	data := bytes.Join(buf.lines, []byte("\n"))
	data = append(data, '\n')

	if err := b.store.Put(ctx, objKey, data); err != nil {
		b.failureCount++
		log.WithError(err).Error("failed to flush partition batch")
		return fmt.Errorf("flush partition dt=%s hour=%s: %w", key.Dt, key.Hour, err)
	}

	b.flushCount++
	b.recordCount += int64(len(buf.lines))
	logger.IncrementFlush(len(buf.lines))

	refs := buf.refs
	delete(b.buffers, key)

	log.Info("partition batch flushed")
	logger.LogDataFlowEntry(log, "partition_buffer", "object_store", len(refs), "raw_events")
	b.log.LogMetric("batcher", "records_flushed", int64(len(refs)), "counter", logger.Fields{
		"dt":   key.Dt,
		"hour": key.Hour,
	})

	if b.onFlush != nil {
		b.onFlush(refs)
	}
	return nil
}

// Pending reports the number of records currently buffered across all
// partitions.
func (b *Batcher) Pending() int {
	total := 0
	for _, buf := range b.buffers {
		total += len(buf.lines)
	}
	return total
}

// Stats returns flush, record and failure counters for reporting.
func (b *Batcher) Stats() (flushes, records, failures int64) {
	return b.flushCount, b.recordCount, b.failureCount
}

package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	appconfig "fraudflow/config"
	"fraudflow/logger"
	"fraudflow/models"
	"fraudflow/partition"
	"fraudflow/writer"
)

// messageReader is the slice of kafka.Reader the consumer depends on,
// separated so tests can substitute a scripted reader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads payment events from the transactions topic and feeds the
// ingestion batcher. A single loop owns both the reader and the batcher's
// partition buffers, preserving append order within each storage partition.
type Consumer struct {
	config  *appconfig.Config
	reader  messageReader
	batcher *writer.Batcher
	tracker *offsetTracker
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	fatal   chan error
	log     *logger.Log

	eventsConsumed int64
	eventsDropped  int64
	commitFailures int64
}

func NewConsumer(cfg *appconfig.Config, batcher *writer.Batcher) *Consumer {
	minBytes := cfg.Kafka.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := cfg.Kafka.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	c := &Consumer{
		config:  cfg,
		batcher: batcher,
		tracker: newOffsetTracker(cfg.Kafka.Topic),
		wg:      &sync.WaitGroup{},
		fatal:   make(chan error, 1),
		log:     logger.GetLogger(),
	}
	c.reader = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
	})

	c.log.WithComponent("kafka_consumer").WithFields(logger.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
		"group":   cfg.Kafka.GroupID,
	}).Debug("kafka consumer initialized")

	return c
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("kafka consumer already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	log := c.log.WithComponent("kafka_consumer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting kafka consumer")

	c.wg.Add(1)
	go c.run()

	go c.metricsReporter(ctx)

	return nil
}

// Fatal reports an unrecoverable stream error from the consume loop. The
// owner selects on it next to the signal channel and initiates shutdown,
// which runs the final flush.
func (c *Consumer) Fatal() <-chan error {
	return c.fatal
}

// Stop drains the consumer. It must be called after the context passed to
// Start has been cancelled: the run loop exits first, then every non-empty
// partition buffer is flushed and the resulting watermark committed, so no
// event held in memory is silently dropped. A flush failure is returned
// after every buffer has been attempted; the unflushed events are
// redelivered on restart.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	log := c.log.WithComponent("kafka_consumer")
	log.Info("stopping kafka consumer")

	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flushErr := c.batcher.FlushAll(ctx, "shutdown")
	if flushErr != nil {
		log.WithError(flushErr).Error("final flush failed; unflushed events will be redelivered")
	}
	c.commit(ctx)

	if err := c.reader.Close(); err != nil {
		log.WithError(err).Warn("failed to close kafka reader")
		if flushErr == nil {
			flushErr = err
		}
	}
	log.Info("kafka consumer stopped")
	return flushErr
}

func (c *Consumer) run() {
	defer c.wg.Done()

	log := c.log.WithComponent("kafka_consumer")
	log.Info("consume loop started")

	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Debug("consume loop stopping")
				return
			}
			// Unrecoverable stream error: hand it to the owner so shutdown
			// and the final flush run instead of leaving a dead loop behind.
			log.WithError(err).Error("fetch from broker failed")
			select {
			case c.fatal <- err:
			default:
			}
			return
		}

		atomic.AddInt64(&c.eventsConsumed, 1)
		logger.IncrementConsumed()
		c.tracker.track(msg.Partition, msg.Offset)

		line := bytes.TrimSpace(msg.Value)
		key, err := c.routeEvent(line)
		if err != nil {
			// Per-record failure: report, skip, and let the offset pass so
			// the watermark does not stall behind a poison message.
			atomic.AddInt64(&c.eventsDropped, 1)
			logger.IncrementRejected()
			log.WithError(err).WithFields(logger.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
				"raw":       string(line),
			}).Warn("dropping unroutable event")
			c.tracker.markDone(msg.Partition, msg.Offset)
			continue
		}

		ref := writer.Ref{Partition: msg.Partition, Offset: msg.Offset}
		if err := c.batcher.Add(c.ctx, key, line, ref); err != nil {
			// The buffer survives a failed flush; the write is retried on
			// the next threshold crossing or at shutdown.
			log.WithError(err).Error("partition flush failed; batch retained for retry")
			continue
		}
	}
}

// routeEvent extracts the event timestamp and resolves the storage
// partition. Full validation happens later in the normalize stage; here only
// enough of the payload is parsed to route it.
func (c *Consumer) routeEvent(line []byte) (models.PartitionKey, error) {
	var envelope struct {
		Ts string `json:"ts"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return models.PartitionKey{}, fmt.Errorf("undecodable event: %w", err)
	}
	if envelope.Ts == "" {
		return models.PartitionKey{}, fmt.Errorf("event missing ts field")
	}
	return partition.Key(envelope.Ts)
}

// handleFlush is wired as the batcher's flush callback: it advances the
// watermark for every record the flushed object contains and commits.
func (c *Consumer) handleFlush(refs []writer.Ref) {
	for _, ref := range refs {
		c.tracker.markDone(ref.Partition, ref.Offset)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.commit(ctx)
}

// HandleFlush exposes the flush callback for wiring into the batcher.
func (c *Consumer) HandleFlush(refs []writer.Ref) {
	c.handleFlush(refs)
}

func (c *Consumer) commit(ctx context.Context) {
	msgs := c.tracker.commitMessages()
	if len(msgs) == 0 {
		return
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		atomic.AddInt64(&c.commitFailures, 1)
		c.log.WithComponent("kafka_consumer").WithError(err).Warn("offset commit failed; events may be redelivered")
	}
}

func (c *Consumer) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportMetrics()
		}
	}
}

func (c *Consumer) reportMetrics() {
	consumed := atomic.LoadInt64(&c.eventsConsumed)
	dropped := atomic.LoadInt64(&c.eventsDropped)
	commitFailures := atomic.LoadInt64(&c.commitFailures)

	log := c.log.WithComponent("kafka_consumer")
	c.log.LogMetric("kafka_consumer", "events_consumed", consumed, "counter", logger.Fields{})
	c.log.LogMetric("kafka_consumer", "events_dropped", dropped, "counter", logger.Fields{})
	c.log.LogMetric("kafka_consumer", "commit_failures", commitFailures, "counter", logger.Fields{})

	log.WithFields(logger.Fields{
		"events_consumed": consumed,
		"events_dropped":  dropped,
		"commit_failures": commitFailures,
	}).Debug("kafka consumer metrics")
}

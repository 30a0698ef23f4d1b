package kafka

import (
	kafkago "github.com/segmentio/kafka-go"
)

// offsetTracker computes, per broker partition, the highest contiguous
// offset whose event has been durably flushed to storage. Offsets are
// committed only up to that watermark, giving at-least-once delivery: a
// crash between flush and commit redelivers already-persisted events, never
// the other way around.
type offsetTracker struct {
	topic string
	parts map[int]*partitionProgress
}

type partitionProgress struct {
	// next is the lowest offset not yet durable; everything below it has
	// been flushed.
	next  int64
	done  map[int64]struct{}
	dirty bool
}

func newOffsetTracker(topic string) *offsetTracker {
	return &offsetTracker{topic: topic, parts: make(map[int]*partitionProgress)}
}

// track registers a fetched offset. Fetches arrive in order per partition,
// so the first tracked offset seeds the watermark base.
func (t *offsetTracker) track(partition int, offset int64) {
	if _, ok := t.parts[partition]; !ok {
		t.parts[partition] = &partitionProgress{next: offset, done: make(map[int64]struct{})}
	}
}

// markDone records that the event at the given offset is durable and
// advances the contiguous watermark as far as possible.
func (t *offsetTracker) markDone(partition int, offset int64) {
	p, ok := t.parts[partition]
	if !ok {
		return
	}
	if offset < p.next {
		return
	}
	p.done[offset] = struct{}{}
	for {
		if _, ok := p.done[p.next]; !ok {
			break
		}
		delete(p.done, p.next)
		p.next++
		p.dirty = true
	}
}

// commitMessages returns one synthetic message per partition whose watermark
// advanced since the last call. Committing a message commits offset+1, so
// the watermark message carries next-1.
func (t *offsetTracker) commitMessages() []kafkago.Message {
	var msgs []kafkago.Message
	for partition, p := range t.parts {
		if !p.dirty {
			continue
		}
		msgs = append(msgs, kafkago.Message{
			Topic:     t.topic,
			Partition: partition,
			Offset:    p.next - 1,
		})
		p.dirty = false
	}
	return msgs
}

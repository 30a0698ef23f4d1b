package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Stage throughput counters reported by the periodic summary. Components
// bump these through the Increment helpers; the report goroutine snapshots
// and logs them on an interval so that a "report" level run stays readable.
var (
	eventsConsumed  int64
	eventsRejected  int64
	batchesFlushed  int64
	recordsFlushed  int64
	storeWrites     int64
	storeWriteBytes int64

	componentWarns  sync.Map // map[string]*int64
	componentErrors sync.Map // map[string]*int64
)

func recordWarn(component string) {
	v, _ := componentWarns.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := componentErrors.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementConsumed counts one event received from the broker.
func IncrementConsumed() {
	atomic.AddInt64(&eventsConsumed, 1)
}

// IncrementRejected counts one record dropped by validation or routing.
func IncrementRejected() {
	atomic.AddInt64(&eventsRejected, 1)
}

// IncrementFlush counts one durable partition flush of n records.
func IncrementFlush(n int) {
	atomic.AddInt64(&batchesFlushed, 1)
	atomic.AddInt64(&recordsFlushed, int64(n))
}

// IncrementStoreWrite counts one object write of the given size.
func IncrementStoreWrite(size int64) {
	atomic.AddInt64(&storeWrites, 1)
	atomic.AddInt64(&storeWriteBytes, size)
}

// StartReport launches a goroutine that periodically logs a one-line summary
// of the stage counters until the context is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	warns := int64(0)
	componentWarns.Range(func(_, v any) bool {
		warns += atomic.LoadInt64(v.(*int64))
		return true
	})
	errs := int64(0)
	componentErrors.Range(func(_, v any) bool {
		errs += atomic.LoadInt64(v.(*int64))
		return true
	})

	fields := Fields{
		"events_consumed":   atomic.LoadInt64(&eventsConsumed),
		"events_rejected":   atomic.LoadInt64(&eventsRejected),
		"batches_flushed":   atomic.LoadInt64(&batchesFlushed),
		"records_flushed":   atomic.LoadInt64(&recordsFlushed),
		"store_writes":      atomic.LoadInt64(&storeWrites),
		"store_write_bytes": atomic.LoadInt64(&storeWriteBytes),
		"warns":             warns,
		"errors":            errs,
	}

	log.WithComponent("report").WithFields(fields).Info("pipeline summary")
}

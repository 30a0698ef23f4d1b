package writer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	appconfig "fraudflow/config"
	"fraudflow/models"
	"fraudflow/storage"
)

func batcherConfig(size int) *appconfig.Config {
	return &appconfig.Config{Batcher: appconfig.BatcherConfig{BatchSize: size}}
}

var testKey = models.PartitionKey{Dt: "2025-12-18", Hour: "14"}

func TestBatcherFlushesAtThreshold(t *testing.T) {
	store := storage.NewMemoryStore()
	var flushed []Ref
	b := NewBatcher(batcherConfig(3), store, func(refs []Ref) {
		flushed = append(flushed, refs...)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		line := []byte(fmt.Sprintf(`{"tx_id":"t%d"}`, i))
		if err := b.Add(ctx, testKey, line, Ref{Partition: 0, Offset: int64(i)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if store.Len() != 1 {
		t.Fatalf("expected one object written, got %d", store.Len())
	}
	if len(flushed) != 3 {
		t.Errorf("expected 3 refs flushed, got %d", len(flushed))
	}
	if b.Pending() != 0 {
		t.Errorf("buffer not cleared after flush: %d pending", b.Pending())
	}
}

func TestBatcherPreservesOrderAndFormat(t *testing.T) {
	store := storage.NewMemoryStore()
	b := NewBatcher(batcherConfig(2), store, nil)
	ctx := context.Background()

	b.Add(ctx, testKey, []byte(`{"tx_id":"first"}`), Ref{})
	b.Add(ctx, testKey, []byte(`{"tx_id":"second"}`), Ref{})

	keys, _ := store.List(ctx, "raw/transactions/dt=2025-12-18/hour=14/")
	if len(keys) != 1 {
		t.Fatalf("expected one object, got %v", keys)
	}
	data, _ := store.Get(ctx, keys[0])
	want := "{\"tx_id\":\"first\"}\n{\"tx_id\":\"second\"}\n"
	if string(data) != want {
		t.Errorf("unexpected object content:\n got %q\nwant %q", data, want)
	}
}

func TestBatcherKeepsPartitionsSeparate(t *testing.T) {
	store := storage.NewMemoryStore()
	b := NewBatcher(batcherConfig(1), store, nil)
	ctx := context.Background()

	b.Add(ctx, models.PartitionKey{Dt: "2025-12-18", Hour: "10"}, []byte(`{}`), Ref{})
	b.Add(ctx, models.PartitionKey{Dt: "2025-12-18", Hour: "11"}, []byte(`{}`), Ref{})

	h10, _ := store.List(ctx, "raw/transactions/dt=2025-12-18/hour=10/")
	h11, _ := store.List(ctx, "raw/transactions/dt=2025-12-18/hour=11/")
	if len(h10) != 1 || len(h11) != 1 {
		t.Errorf("expected one object per hour partition, got %d and %d", len(h10), len(h11))
	}
}

func TestBatcherFlushAllDrainsRemaining(t *testing.T) {
	store := storage.NewMemoryStore()
	b := NewBatcher(batcherConfig(50), store, nil)
	ctx := context.Background()

	b.Add(ctx, testKey, []byte(`{"tx_id":"a"}`), Ref{})
	b.Add(ctx, models.PartitionKey{Dt: "2025-12-19", Hour: "01"}, []byte(`{"tx_id":"b"}`), Ref{})

	if err := b.FlushAll(ctx, "shutdown"); err != nil {
		t.Fatalf("flush all: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 objects after FlushAll, got %d", store.Len())
	}
	if b.Pending() != 0 {
		t.Errorf("pending records after FlushAll: %d", b.Pending())
	}
}

// failingStore fails the first n writes, then delegates to the wrapped store.
type failingStore struct {
	*storage.MemoryStore
	failures int
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if f.failures > 0 {
		f.failures--
		return &storage.WriteError{Key: key, Err: fmt.Errorf("injected failure")}
	}
	return f.MemoryStore.Put(ctx, key, data)
}

func TestBatcherRetainsBufferOnWriteFailure(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), failures: 1}
	b := NewBatcher(batcherConfig(2), store, nil)
	ctx := context.Background()

	b.Add(ctx, testKey, []byte(`{"tx_id":"a"}`), Ref{Offset: 0})
	err := b.Add(ctx, testKey, []byte(`{"tx_id":"b"}`), Ref{Offset: 1})
	if err == nil {
		t.Fatalf("expected flush error")
	}
	if !strings.Contains(err.Error(), "flush partition") {
		t.Errorf("unexpected error: %v", err)
	}
	if b.Pending() != 2 {
		t.Fatalf("buffer lost after failed write: %d pending", b.Pending())
	}

	// Retry succeeds under a fresh object name and drains the buffer.
	if err := b.FlushAll(ctx, "retry"); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if b.Pending() != 0 || store.Len() != 1 {
		t.Errorf("retry did not persist the batch: pending=%d objects=%d", b.Pending(), store.Len())
	}
}

func TestEncodeParquet(t *testing.T) {
	records := []models.NormalizedRecord{
		{TxID: "t1", Ts: "2025-12-18T14:30:00Z", Dt: "2025-12-18", Hour: "14",
			MerchantID: "MERCHANT_0001", Country: "US", Amount: 10.5, Currency: "USD",
			PaymentMethod: "CARD", DeviceID: "D1", IP: "1.2.3.4", Status: models.StatusApproved},
	}
	data, err := EncodeParquet(records)
	if err != nil {
		t.Fatalf("encode parquet: %v", err)
	}
	if len(data) == 0 {
		t.Errorf("empty parquet output")
	}
	// Parquet files end with the PAR1 magic bytes.
	if string(data[len(data)-4:]) != "PAR1" {
		t.Errorf("missing parquet magic footer")
	}
}

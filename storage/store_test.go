package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fraudflow/models"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "a/b", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := store.Get(ctx, "a/b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected data: %q", data)
	}
}

func TestMemoryStoreWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := store.Put(ctx, "k", []byte("two"))
	if err == nil {
		t.Fatalf("expected write-once violation")
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Errorf("expected WriteError, got %T", err)
	}
}

func TestMemoryStoreListPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, k := range []string{"raw/dt=2025-12-18/a", "raw/dt=2025-12-18/b", "raw/dt=2025-12-19/c"} {
		if err := store.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	keys, err := store.List(ctx, "raw/dt=2025-12-18/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReadError, got %v", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "marts/x", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "marts/x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "marts/x"); err == nil {
		t.Fatalf("expected get to fail after delete")
	}
	// Deleting an absent key is not an error.
	if err := store.Delete(ctx, "marts/x"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	// The key is free for reuse after deletion.
	if err := store.Put(ctx, "marts/x", []byte("two")); err != nil {
		t.Fatalf("put after delete: %v", err)
	}
}

func TestLayoutKeys(t *testing.T) {
	key := RawObjectKey(models.PartitionKey{Dt: "2025-12-18", Hour: "14"})
	if !strings.HasPrefix(key, "raw/transactions/dt=2025-12-18/hour=14/part-") {
		t.Errorf("unexpected raw key: %s", key)
	}
	if !strings.HasSuffix(key, ".jsonl") {
		t.Errorf("raw key missing extension: %s", key)
	}

	if !strings.HasPrefix(NormalizedObjectKey("2025-12-18"), "normalized/transactions/dt=2025-12-18/part-") {
		t.Errorf("unexpected normalized key")
	}
	if !strings.HasSuffix(LakeObjectKey("2025-12-18"), ".parquet") {
		t.Errorf("lake key missing parquet extension")
	}
	if !strings.HasPrefix(RawObjectKey(models.PartitionKey{Dt: "2025-12-18", Hour: "14"}), RawPrefix("2025-12-18")) {
		t.Errorf("raw key not under its date prefix")
	}
}

func TestUniqueObjectNames(t *testing.T) {
	a := MetricsObjectKey("2025-12-18")
	b := MetricsObjectKey("2025-12-18")
	if a == b {
		t.Errorf("expected unique object names, got %s twice", a)
	}
}

package loader

import (
	"context"
	"testing"

	"fraudflow/storage"
)

func TestReadMetricsAndAlerts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	metricLines := `{"dt":"2024-03-01","merchant_id":"m1","tx_count":3,"sum_amount":2060,"avg_amount":686.67,"max_amount":2000,"unique_countries":2,"unique_devices":2,"decline_rate":0.3333}` + "\n" +
		`{"dt":"2024-03-01","merchant_id":"m2","tx_count":1,"sum_amount":5,"avg_amount":5,"max_amount":5,"unique_countries":1,"unique_devices":1,"decline_rate":0}` + "\n"
	if err := store.Put(ctx, storage.MetricsObjectKey("2024-03-01"), []byte(metricLines)); err != nil {
		t.Fatalf("seed metrics failed: %v", err)
	}

	alertLines := `{"alert_id":"a1","dt":"2024-03-01","merchant_id":"m1","customer_id":null,"rule_code":"HIGH_AMOUNT","severity":3,"details":{"max_amount":2000,"threshold":1000}}` + "\n"
	if err := store.Put(ctx, storage.AlertsObjectKey("2024-03-01"), []byte(alertLines)); err != nil {
		t.Fatalf("seed alerts failed: %v", err)
	}

	metrics, err := ReadMetrics(ctx, store, "2024-03-01")
	if err != nil {
		t.Fatalf("ReadMetrics failed: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(metrics))
	}
	if metrics[0].MerchantID != "m1" || metrics[0].TxCount != 3 || metrics[0].DeclineRate != 0.3333 {
		t.Fatalf("unexpected metric %+v", metrics[0])
	}

	alerts, err := ReadAlerts(ctx, store, "2024-03-01")
	if err != nil {
		t.Fatalf("ReadAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.RuleCode != "HIGH_AMOUNT" || a.Severity != 3 || a.CustomerID != nil {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.Details["threshold"] != 1000.0 {
		t.Fatalf("unexpected details %v", a.Details)
	}
}

func TestReadMetricsEmptyDate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	metrics, err := ReadMetrics(ctx, store, "2024-03-01")
	if err != nil {
		t.Fatalf("ReadMetrics failed on empty prefix: %v", err)
	}
	if len(metrics) != 0 {
		t.Fatalf("expected no metrics, got %d", len(metrics))
	}
}

func TestReadMetricsCorruptLine(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	if err := store.Put(ctx, storage.MetricsObjectKey("2024-03-01"), []byte("not json\n")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := ReadMetrics(ctx, store, "2024-03-01"); err == nil {
		t.Fatal("expected error for corrupt mart line")
	}
}

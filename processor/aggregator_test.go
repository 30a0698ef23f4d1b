package processor

import (
	"testing"

	appconfig "fraudflow/config"
	"fraudflow/models"
)

func record(tx, merchant, country, device, status string, amount float64) models.NormalizedRecord {
	return models.NormalizedRecord{
		TxID:          tx,
		Ts:            "2024-03-01T10:00:00Z",
		Dt:            "2024-03-01",
		Hour:          "10",
		CustomerID:    "c1",
		MerchantID:    merchant,
		Country:       country,
		Amount:        amount,
		Currency:      "USD",
		PaymentMethod: "CARD",
		DeviceID:      device,
		IP:            "10.0.0.1",
		Status:        status,
	}
}

func TestAggregateSingleMerchant(t *testing.T) {
	records := []models.NormalizedRecord{
		record("t1", "m1", "US", "d1", models.StatusApproved, 50),
		record("t2", "m1", "US", "d1", models.StatusDeclined, 10),
		record("t3", "m1", "FR", "d2", models.StatusApproved, 2000),
	}
	SortRecords(records)

	metrics := AggregateSorted(records)
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	m := metrics[0]
	if m.Dt != "2024-03-01" || m.MerchantID != "m1" {
		t.Fatalf("unexpected key %s/%s", m.Dt, m.MerchantID)
	}
	if m.TxCount != 3 {
		t.Fatalf("expected tx_count 3, got %d", m.TxCount)
	}
	if m.SumAmount != 2060.00 {
		t.Fatalf("expected sum 2060.00, got %v", m.SumAmount)
	}
	if m.AvgAmount != 686.67 {
		t.Fatalf("expected avg 686.67, got %v", m.AvgAmount)
	}
	if m.MaxAmount != 2000.00 {
		t.Fatalf("expected max 2000.00, got %v", m.MaxAmount)
	}
	if m.UniqueCountries != 2 || m.UniqueDevices != 2 {
		t.Fatalf("expected 2 countries and 2 devices, got %d/%d", m.UniqueCountries, m.UniqueDevices)
	}
	if m.DeclineRate != 0.3333 {
		t.Fatalf("expected decline_rate 0.3333, got %v", m.DeclineRate)
	}
}

func TestAggregateGroupBoundaries(t *testing.T) {
	records := []models.NormalizedRecord{
		record("t1", "m2", "US", "d1", models.StatusApproved, 10),
		record("t2", "m1", "US", "d1", models.StatusApproved, 20),
		record("t3", "m2", "US", "d1", models.StatusApproved, 30),
	}
	SortRecords(records)

	metrics := AggregateSorted(records)
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(metrics))
	}
	// Sorted order: m1 first, then m2. The last group must be flushed too.
	if metrics[0].MerchantID != "m1" || metrics[0].TxCount != 1 {
		t.Fatalf("unexpected first group %+v", metrics[0])
	}
	if metrics[1].MerchantID != "m2" || metrics[1].TxCount != 2 || metrics[1].SumAmount != 40.00 {
		t.Fatalf("unexpected last group %+v", metrics[1])
	}
}

func TestAggregateEmpty(t *testing.T) {
	if metrics := AggregateSorted(nil); len(metrics) != 0 {
		t.Fatalf("expected no metrics for empty input, got %d", len(metrics))
	}
}

func TestAggregateSingleRecord(t *testing.T) {
	metrics := AggregateSorted([]models.NormalizedRecord{
		record("t1", "m1", "US", "d1", models.StatusDeclined, 12.345),
	})
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	m := metrics[0]
	if m.TxCount != 1 || m.SumAmount != 12.35 || m.DeclineRate != 1.0 {
		t.Fatalf("unexpected metric %+v", m)
	}
}

func TestAggregateDeduplicatesReplayedTx(t *testing.T) {
	records := []models.NormalizedRecord{
		record("t1", "m1", "US", "d1", models.StatusApproved, 100),
		record("t1", "m1", "US", "d1", models.StatusApproved, 100),
		record("t2", "m1", "US", "d1", models.StatusApproved, 50),
	}
	SortRecords(records)

	metrics := AggregateSorted(records)
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	if metrics[0].TxCount != 2 || metrics[0].SumAmount != 150.00 {
		t.Fatalf("replayed tx inflated the aggregate: %+v", metrics[0])
	}
}

func TestEngineDefaultRules(t *testing.T) {
	engine := NewEngine(nil)

	metric := models.MerchantDailyMetric{
		Dt: "2024-03-01", MerchantID: "m1",
		TxCount: 3, SumAmount: 2060.00, AvgAmount: 686.67, MaxAmount: 2000.00,
		UniqueCountries: 2, UniqueDevices: 2, DeclineRate: 0.3333,
	}
	alerts := engine.Evaluate([]models.MerchantDailyMetric{metric})
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.RuleCode != "HIGH_AMOUNT" || a.Severity != 3 {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.CustomerID != nil {
		t.Fatal("merchant-level alerts must have nil customer_id")
	}
	if a.AlertID == "" || a.Dt != "2024-03-01" || a.MerchantID != "m1" {
		t.Fatalf("unexpected alert identity %+v", a)
	}
	if a.Details["max_amount"] != 2000.00 || a.Details["threshold"] != 1000.0 {
		t.Fatalf("unexpected details %v", a.Details)
	}
}

func TestEngineThresholdBoundaries(t *testing.T) {
	engine := NewEngine(nil)

	// max_amount exactly at threshold does not fire (strict greater-than).
	atAmount := models.MerchantDailyMetric{Dt: "2024-03-01", MerchantID: "m1", TxCount: 1, MaxAmount: 1000.00}
	if alerts := engine.Evaluate([]models.MerchantDailyMetric{atAmount}); len(alerts) != 0 {
		t.Fatalf("HIGH_AMOUNT fired at exact threshold: %+v", alerts)
	}

	// unique_countries at threshold fires (at-least comparison).
	atCountries := models.MerchantDailyMetric{Dt: "2024-03-01", MerchantID: "m1", TxCount: 1, UniqueCountries: 3}
	alerts := engine.Evaluate([]models.MerchantDailyMetric{atCountries})
	if len(alerts) != 1 || alerts[0].RuleCode != "MULTI_COUNTRY" {
		t.Fatalf("expected MULTI_COUNTRY at 3 countries, got %+v", alerts)
	}
	if alerts[0].Details["unique_countries"] != 3 {
		t.Fatalf("expected integral detail value, got %v", alerts[0].Details)
	}

	// decline_rate exactly at threshold does not fire.
	atDecline := models.MerchantDailyMetric{Dt: "2024-03-01", MerchantID: "m1", TxCount: 2, DeclineRate: 0.50}
	if alerts := engine.Evaluate([]models.MerchantDailyMetric{atDecline}); len(alerts) != 0 {
		t.Fatalf("HIGH_DECLINE fired at exact threshold: %+v", alerts)
	}
}

func TestEngineMultipleRulesPerMetric(t *testing.T) {
	engine := NewEngine(nil)
	metric := models.MerchantDailyMetric{
		Dt: "2024-03-01", MerchantID: "m1",
		TxCount: 40, MaxAmount: 5000, UniqueCountries: 4, DeclineRate: 0.9,
	}
	alerts := engine.Evaluate([]models.MerchantDailyMetric{metric})
	if len(alerts) != 4 {
		t.Fatalf("expected all four rules to fire, got %d", len(alerts))
	}
	seen := map[string]bool{}
	for _, a := range alerts {
		if seen[a.AlertID] {
			t.Fatalf("duplicate alert id %s", a.AlertID)
		}
		seen[a.AlertID] = true
	}
}

func TestEngineCustomRules(t *testing.T) {
	engine := NewEngine([]appconfig.RuleConfig{
		{Code: "MANY_DEVICES", Field: "unique_devices", Threshold: 5, Severity: 1, AtLeast: true},
	})
	metric := models.MerchantDailyMetric{Dt: "2024-03-01", MerchantID: "m1", UniqueDevices: 5, MaxAmount: 9999}
	alerts := engine.Evaluate([]models.MerchantDailyMetric{metric})
	if len(alerts) != 1 || alerts[0].RuleCode != "MANY_DEVICES" {
		t.Fatalf("custom rule set must replace the defaults: %+v", alerts)
	}
}

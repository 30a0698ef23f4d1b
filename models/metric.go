package models

// MerchantDailyMetric is the aggregate for one (dt, merchant_id) key.
// Exactly one record exists per key per pipeline run; a rerun for the same
// date supersedes the previous set rather than merging into it.
type MerchantDailyMetric struct {
	Dt              string  `json:"dt"`
	MerchantID      string  `json:"merchant_id"`
	TxCount         int     `json:"tx_count"`
	SumAmount       float64 `json:"sum_amount"`
	AvgAmount       float64 `json:"avg_amount"`
	MaxAmount       float64 `json:"max_amount"`
	UniqueCountries int     `json:"unique_countries"`
	UniqueDevices   int     `json:"unique_devices"`
	DeclineRate     float64 `json:"decline_rate"`
}

// Alert records one fired fraud rule for a merchant-day. CustomerID is nil
// in the current rule set: every rule operates at merchant granularity.
// Alerts are immutable; a rerun for the date replaces them wholesale and
// regenerates identifiers.
type Alert struct {
	AlertID    string         `json:"alert_id"`
	Dt         string         `json:"dt"`
	MerchantID string         `json:"merchant_id"`
	CustomerID *string        `json:"customer_id"`
	RuleCode   string         `json:"rule_code"`
	Severity   int            `json:"severity"`
	Details    map[string]any `json:"details"`
}

package processor

import (
	"fmt"

	"github.com/google/uuid"

	appconfig "fraudflow/config"
	"fraudflow/models"
)

// Engine evaluates the configured rule set against merchant-day metrics.
// Rules are data, not code: each names a metric field and a threshold, so
// operators can tune or extend the set without a deploy.
type Engine struct {
	rules []appconfig.RuleConfig
}

func NewEngine(rules []appconfig.RuleConfig) *Engine {
	if len(rules) == 0 {
		rules = appconfig.DefaultRules
	}
	return &Engine{rules: rules}
}

// Evaluate runs every rule over every metric, in rule-set order per metric.
// A metric can fire multiple rules; each fire yields its own alert with a
// fresh identifier.
func (e *Engine) Evaluate(metrics []models.MerchantDailyMetric) []models.Alert {
	var alerts []models.Alert
	for _, metric := range metrics {
		for _, rule := range e.rules {
			value, err := fieldValue(metric, rule.Field)
			if err != nil {
				continue
			}
			fired := value > rule.Threshold
			if rule.AtLeast {
				fired = value >= rule.Threshold
			}
			if !fired {
				continue
			}
			alerts = append(alerts, models.Alert{
				AlertID:    uuid.NewString(),
				Dt:         metric.Dt,
				MerchantID: metric.MerchantID,
				CustomerID: nil,
				RuleCode:   rule.Code,
				Severity:   rule.Severity,
				Details: map[string]any{
					rule.Field:  detailValue(metric, rule.Field),
					"threshold": rule.Threshold,
				},
			})
		}
	}
	return alerts
}

func fieldValue(m models.MerchantDailyMetric, field string) (float64, error) {
	switch field {
	case "tx_count":
		return float64(m.TxCount), nil
	case "sum_amount":
		return m.SumAmount, nil
	case "avg_amount":
		return m.AvgAmount, nil
	case "max_amount":
		return m.MaxAmount, nil
	case "unique_countries":
		return float64(m.UniqueCountries), nil
	case "unique_devices":
		return float64(m.UniqueDevices), nil
	case "decline_rate":
		return m.DeclineRate, nil
	}
	return 0, fmt.Errorf("unknown rule field %q", field)
}

// detailValue keeps integer fields integral in the alert payload instead of
// coercing everything to float64.
func detailValue(m models.MerchantDailyMetric, field string) any {
	switch field {
	case "tx_count":
		return m.TxCount
	case "unique_countries":
		return m.UniqueCountries
	case "unique_devices":
		return m.UniqueDevices
	default:
		v, _ := fieldValue(m, field)
		return v
	}
}

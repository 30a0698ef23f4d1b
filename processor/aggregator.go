package processor

import (
	"math"

	"fraudflow/models"
)

// groupState accumulates one (dt, merchant_id) group while the aggregator
// walks the sorted input. Countries, devices and transaction ids are tracked
// as sets; everything else folds into scalars.
type groupState struct {
	dt         string
	merchantID string
	txCount    int
	sumAmount  float64
	maxAmount  float64
	declined   int
	countries  map[string]struct{}
	devices    map[string]struct{}
	seenTx     map[string]struct{}
}

func newGroupState(dt, merchantID string) *groupState {
	return &groupState{
		dt:         dt,
		merchantID: merchantID,
		countries:  make(map[string]struct{}),
		devices:    make(map[string]struct{}),
		seenTx:     make(map[string]struct{}),
	}
}

// absorb folds one record into the group. Records repeating a tx_id already
// seen in the group are skipped, so a replayed micro-batch cannot inflate
// the aggregates.
func (g *groupState) absorb(rec models.NormalizedRecord) {
	if _, dup := g.seenTx[rec.TxID]; dup {
		return
	}
	g.seenTx[rec.TxID] = struct{}{}

	g.txCount++
	g.sumAmount += rec.Amount
	if rec.Amount > g.maxAmount {
		g.maxAmount = rec.Amount
	}
	if rec.Status == models.StatusDeclined {
		g.declined++
	}
	g.countries[rec.Country] = struct{}{}
	g.devices[rec.DeviceID] = struct{}{}
}

// emit finalizes the group into a metric. Rounding happens here, once, at
// emission: amounts to 2 decimal places, the decline rate to 4.
func (g *groupState) emit() models.MerchantDailyMetric {
	avg := 0.0
	declineRate := 0.0
	if g.txCount > 0 {
		avg = g.sumAmount / float64(g.txCount)
		declineRate = float64(g.declined) / float64(g.txCount)
	}
	return models.MerchantDailyMetric{
		Dt:              g.dt,
		MerchantID:      g.merchantID,
		TxCount:         g.txCount,
		SumAmount:       round2(g.sumAmount),
		AvgAmount:       round2(avg),
		MaxAmount:       round2(g.maxAmount),
		UniqueCountries: len(g.countries),
		UniqueDevices:   len(g.devices),
		DeclineRate:     round4(declineRate),
	}
}

// AggregateSorted folds records sorted by (dt, merchant_id) into one metric
// per group. A group boundary flushes the running state; the final group is
// flushed after the loop.
func AggregateSorted(records []models.NormalizedRecord) []models.MerchantDailyMetric {
	var metrics []models.MerchantDailyMetric
	var current *groupState

	for _, rec := range records {
		if current == nil || current.dt != rec.Dt || current.merchantID != rec.MerchantID {
			if current != nil {
				metrics = append(metrics, current.emit())
			}
			current = newGroupState(rec.Dt, rec.MerchantID)
		}
		current.absorb(rec)
	}
	if current != nil {
		metrics = append(metrics, current.emit())
	}
	return metrics
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

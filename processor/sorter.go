package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"fraudflow/models"
	"fraudflow/storage"
)

// LoadNormalized reads every normalized object for a date back into memory.
// A pipeline day is bounded (micro-batch objects of a single date), so the
// whole set fits comfortably; aggregation needs it sorted anyway.
func LoadNormalized(ctx context.Context, store storage.ObjectStore, dt string) ([]models.NormalizedRecord, error) {
	keys, err := store.List(ctx, storage.NormalizedPrefix(dt))
	if err != nil {
		return nil, fmt.Errorf("failed to list normalized objects for %s: %w", dt, err)
	}

	var records []models.NormalizedRecord
	for _, key := range keys {
		data, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read normalized object: %w", err)
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var rec models.NormalizedRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("corrupt normalized record in %s: %w", key, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// SortRecords orders records by (dt, merchant_id) so the aggregator can fold
// them in a single pass. The sort is stable: records of one merchant keep
// their storage order.
func SortRecords(records []models.NormalizedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Dt != records[j].Dt {
			return records[i].Dt < records[j].Dt
		}
		return records[i].MerchantID < records[j].MerchantID
	})
}

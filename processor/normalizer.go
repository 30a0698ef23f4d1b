package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	appconfig "fraudflow/config"
	"fraudflow/logger"
	"fraudflow/models"
	"fraudflow/partition"
	"fraudflow/storage"
	"fraudflow/writer"
)

// Validation failure kinds, in the order checks are applied to a record.
const (
	KindParseError       = "parse_error"
	KindMissingField     = "missing_field"
	KindInvalidAmount    = "invalid_amount"
	KindInvalidTimestamp = "invalid_timestamp"
	KindInvalidStatus    = "invalid_status"
)

// ValidationError reports the first check a raw event failed. Kind is one of
// the Kind constants; Field names the offending field when one is known.
type ValidationError struct {
	Kind  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q", e.Kind, e.Field)
	}
	return e.Kind
}

func (e *ValidationError) Unwrap() error { return e.Err }

// requiredFields is the validation order: the first missing field is the one
// reported, so callers see a stable error for the same input.
var requiredFields = []string{
	"tx_id", "ts", "customer_id", "merchant_id", "country",
	"amount", "currency", "payment_method", "device_id", "ip", "status",
}

// Normalize validates one raw JSON event line and produces the canonical
// record: fields trimmed, country/currency/payment_method/status upper-cased,
// dt and hour derived from the timestamp's own offset.
func Normalize(line []byte) (models.NormalizedRecord, error) {
	var rec models.NormalizedRecord

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return rec, &ValidationError{Kind: KindParseError, Err: err}
	}

	for _, field := range requiredFields {
		v, ok := raw[field]
		if !ok || v == nil {
			return rec, &ValidationError{Kind: KindMissingField, Field: field}
		}
		if field == "amount" {
			// Present but malformed amounts are classified below.
			continue
		}
		// Composite values (objects, arrays) have no usable string form and
		// count as absent; scalars are checked for blankness after coercion.
		s, scalar := scalarString(v)
		if !scalar || strings.TrimSpace(s) == "" {
			return rec, &ValidationError{Kind: KindMissingField, Field: field}
		}
	}

	amount, err := parseAmount(raw["amount"])
	if err != nil {
		return rec, &ValidationError{Kind: KindInvalidAmount, Field: "amount", Err: err}
	}

	ts := strings.TrimSpace(stringField(raw, "ts"))
	pk, err := partition.Key(ts)
	if err != nil {
		return rec, &ValidationError{Kind: KindInvalidTimestamp, Field: "ts", Err: err}
	}

	status := strings.ToUpper(strings.TrimSpace(stringField(raw, "status")))
	if status != models.StatusApproved && status != models.StatusDeclined {
		return rec, &ValidationError{Kind: KindInvalidStatus, Field: "status"}
	}

	rec = models.NormalizedRecord{
		TxID:          strings.TrimSpace(stringField(raw, "tx_id")),
		Ts:            ts,
		Dt:            pk.Dt,
		Hour:          pk.Hour,
		CustomerID:    strings.TrimSpace(stringField(raw, "customer_id")),
		MerchantID:    strings.TrimSpace(stringField(raw, "merchant_id")),
		Country:       strings.ToUpper(strings.TrimSpace(stringField(raw, "country"))),
		Amount:        amount,
		Currency:      strings.ToUpper(strings.TrimSpace(stringField(raw, "currency"))),
		PaymentMethod: strings.ToUpper(strings.TrimSpace(stringField(raw, "payment_method"))),
		DeviceID:      strings.TrimSpace(stringField(raw, "device_id")),
		IP:            strings.TrimSpace(stringField(raw, "ip")),
		Status:        status,
	}
	return rec, nil
}

func stringField(raw map[string]any, field string) string {
	s, _ := scalarString(raw[field])
	return s
}

// scalarString renders a scalar JSON value as its string form. Producers
// occasionally emit identifiers unquoted, so a numeric merchant_id "123"
// must survive as the string "123", not vanish.
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

// parseAmount accepts a JSON number or a numeric string. Negative amounts
// are rejected; zero is a legal amount.
func parseAmount(v any) (float64, error) {
	var amount float64
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		amount = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, err
		}
		amount = f
	case float64:
		amount = n
	default:
		return 0, fmt.Errorf("amount has unsupported type %T", v)
	}
	if amount < 0 {
		return 0, fmt.Errorf("amount %v is negative", amount)
	}
	return amount, nil
}

// NormalizeResult summarizes one normalize stage run.
type NormalizeResult struct {
	ObjectsRead    int
	RecordsIn      int
	RecordsOut     int
	RecordsDropped int
	DropsByKind    map[string]int
}

// Normalizer reads a date's raw partition objects, validates every line, and
// writes the surviving records to the normalized zone. With the parquet
// mirror enabled the same records are also written to the lake zone.
type Normalizer struct {
	config *appconfig.Config
	store  storage.ObjectStore
	log    *logger.Log
}

func NewNormalizer(cfg *appconfig.Config, store storage.ObjectStore) *Normalizer {
	return &Normalizer{
		config: cfg,
		store:  store,
		log:    logger.GetLogger(),
	}
}

// NormalizeDate processes every raw object under the date's prefix. Each raw
// object yields at most one normalized object; invalid lines are counted and
// dropped, never written.
func (n *Normalizer) NormalizeDate(ctx context.Context, dt string) (NormalizeResult, error) {
	result := NormalizeResult{DropsByKind: make(map[string]int)}
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"dt": dt})

	keys, err := n.store.List(ctx, storage.RawPrefix(dt))
	if err != nil {
		return result, fmt.Errorf("failed to list raw objects for %s: %w", dt, err)
	}

	var mirror []models.NormalizedRecord
	for _, key := range keys {
		data, err := n.store.Get(ctx, key)
		if err != nil {
			return result, fmt.Errorf("failed to read raw object: %w", err)
		}
		result.ObjectsRead++

		var buf bytes.Buffer
		var kept int
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			result.RecordsIn++

			rec, err := Normalize(line)
			if err != nil {
				result.RecordsDropped++
				kind := KindParseError
				var verr *ValidationError
				if errors.As(err, &verr) {
					kind = verr.Kind
				}
				result.DropsByKind[kind]++
				log.WithError(err).WithFields(logger.Fields{
					"object": key,
					"raw":    string(line),
				}).Warn("dropping invalid event")
				continue
			}

			encoded, err := json.Marshal(rec)
			if err != nil {
				return result, fmt.Errorf("failed to encode normalized record: %w", err)
			}
			buf.Write(encoded)
			buf.WriteByte('\n')
			kept++
			result.RecordsOut++
			if n.config.Pipeline.ParquetMirror {
				mirror = append(mirror, rec)
			}
		}

		if kept == 0 {
			continue
		}
		outKey := storage.NormalizedObjectKey(dt)
		if err := n.store.Put(ctx, outKey, buf.Bytes()); err != nil {
			return result, fmt.Errorf("failed to write normalized object: %w", err)
		}
		logger.LogDataFlowEntry(log, key, outKey, kept, "normalized_records")
	}

	if n.config.Pipeline.ParquetMirror && len(mirror) > 0 {
		encoded, err := writer.EncodeParquet(mirror)
		if err != nil {
			return result, fmt.Errorf("failed to encode parquet mirror: %w", err)
		}
		if err := n.store.Put(ctx, storage.LakeObjectKey(dt), encoded); err != nil {
			return result, fmt.Errorf("failed to write parquet mirror: %w", err)
		}
	}

	log.WithFields(logger.Fields{
		"objects_read":    result.ObjectsRead,
		"records_in":      result.RecordsIn,
		"records_out":     result.RecordsOut,
		"records_dropped": result.RecordsDropped,
	}).Info("normalize stage complete")
	n.log.LogMetric("normalizer", "records_normalized", int64(result.RecordsOut), "counter", logger.Fields{"dt": dt})

	return result, nil
}

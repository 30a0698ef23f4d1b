package partition

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fraudflow/models"
)

// ErrMalformedTimestamp reports an event timestamp that could not be parsed.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// Accepted timestamp layouts, tried in order. A trailing literal Z is
// rewritten to +00:00 before parsing, so only explicit-offset and naive
// layouts appear here.
var layouts = []string{
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// Parse interprets an ISO-8601 timestamp. The result keeps the timestamp's
// own offset; no timezone conversion is applied.
func Parse(ts string) (time.Time, error) {
	s := strings.TrimSpace(ts)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, ts)
}

// Key derives the storage partition key (date, hour) from an event
// timestamp, using the timestamp's own offset.
func Key(ts string) (models.PartitionKey, error) {
	t, err := Parse(ts)
	if err != nil {
		return models.PartitionKey{}, err
	}
	return models.PartitionKey{
		Dt:   t.Format("2006-01-02"),
		Hour: t.Format("15"),
	}, nil
}

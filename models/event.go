package models

// PartitionKey routes a record to its storage partition. Dt is the calendar
// date (YYYY-MM-DD) and Hour the zero-padded hour (00-23), both derived from
// the event timestamp's own offset.
type PartitionKey struct {
	Dt   string
	Hour string
}

// Transaction statuses accepted after normalization.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
)

// RawEvent is one payment attempt as received from the transactions topic.
// Events are immutable; their lifecycle ends once persisted to partitioned
// storage.
type RawEvent struct {
	TxID          string  `json:"tx_id"`
	Ts            string  `json:"ts"`
	CustomerID    string  `json:"customer_id"`
	MerchantID    string  `json:"merchant_id"`
	Country       string  `json:"country"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"payment_method"`
	DeviceID      string  `json:"device_id"`
	IP            string  `json:"ip"`
	Status        string  `json:"status"`
}

// NormalizedRecord is a RawEvent after validation: string fields trimmed,
// country/currency/payment_method/status upper-cased, dt and hour derived
// from ts.
type NormalizedRecord struct {
	TxID          string  `json:"tx_id"`
	Ts            string  `json:"ts"`
	Dt            string  `json:"dt"`
	Hour          string  `json:"hour"`
	CustomerID    string  `json:"customer_id"`
	MerchantID    string  `json:"merchant_id"`
	Country       string  `json:"country"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"payment_method"`
	DeviceID      string  `json:"device_id"`
	IP            string  `json:"ip"`
	Status        string  `json:"status"`
}

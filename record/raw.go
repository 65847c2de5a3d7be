package record

// Wire shapes as delivered by the ingestion sources, before validation.
// Timestamps stay strings here: resolving them to UTC (or rejecting the
// ambiguous ones) is the validator's job, not the decoder's.

// RawTransaction is one transaction as read off the wire.
type RawTransaction struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Pair      string  `json:"pair"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	Kind      string  `json:"kind"`
	Timestamp string  `json:"timestamp"`
}

// RawUser is one user row as read off the wire.
type RawUser struct {
	ID        string `json:"id"`
	Region    string `json:"region"`
	CreatedAt string `json:"created_at"`
}

// RawRate is one exchange-rate row as read off the wire.
type RawRate struct {
	Pair      string  `json:"pair"`
	Timestamp string  `json:"timestamp"`
	AvgRate   float64 `json:"avg_rate"`
	PointRate float64 `json:"point_rate,omitempty"`
}

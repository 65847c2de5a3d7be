package source

import (
	"encoding/json"
	"fmt"

	"volume-recon-go/record"
)

// Envelope wraps one record on the feed stream.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEnvelope decodes one feed message into the batch it belongs to.
func ParseEnvelope(raw []byte, b *Batch) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	switch env.Type {
	case "transaction":
		var tx record.RawTransaction
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return err
		}
		b.Transactions = append(b.Transactions, tx)
	case "user":
		var u record.RawUser
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return err
		}
		b.Users = append(b.Users, u)
	case "rate":
		var r record.RawRate
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return err
		}
		b.Rates = append(b.Rates, r)
	default:
		return fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return nil
}

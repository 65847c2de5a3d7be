package aggregate

import (
	"sort"

	"volume-recon-go/record"
)

// HourlyBucket is the presentation-layer roll-up: total traded volume and
// average execution price per pair per UTC hour. Minute-level data over a
// multi-day span is too noisy for trend dashboards.
type HourlyBucket struct {
	Pair     string
	Window   record.Window
	Volume   float64
	AvgPrice float64
	Trades   int
}

// HourlyRollup buckets completed trades of the window into UTC hours,
// ordered by pair then hour.
func HourlyRollup(txns []record.Transaction, w record.Window) []HourlyBucket {
	type acc struct {
		volume   float64
		priceSum float64
		trades   int
	}
	buckets := make(map[string]map[record.Window]*acc)

	for _, tx := range txns {
		if tx.Kind != record.KindTrade || tx.Status != record.StatusCompleted {
			continue
		}
		if !w.Contains(tx.Timestamp) {
			continue
		}
		hour := record.Hour(tx.Timestamp)
		if buckets[tx.Pair] == nil {
			buckets[tx.Pair] = make(map[record.Window]*acc)
		}
		b := buckets[tx.Pair][hour]
		if b == nil {
			b = &acc{}
			buckets[tx.Pair][hour] = b
		}
		b.volume += tx.Amount * tx.Price
		b.priceSum += tx.Price
		b.trades++
	}

	var out []HourlyBucket
	for pair, hours := range buckets {
		for hour, b := range hours {
			out = append(out, HourlyBucket{
				Pair:     pair,
				Window:   hour,
				Volume:   b.volume,
				AvgPrice: b.priceSum / float64(b.trades),
				Trades:   b.trades,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].Window.Start.Before(out[j].Window.Start)
	})
	return out
}

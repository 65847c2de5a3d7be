package main

import (
	"flag"
	"fmt"
	"time"

	"volume-recon-go/metrics"
)

// Serves synthetic pipeline metrics so a Prometheus/Grafana setup can be
// verified without running a reconciliation.
func main() {
	addr := flag.String("metricsAddr", ":9210", "metrics listen address")
	pair := flag.String("pair", "USD-EUR", "pair label for the synthetic series")
	variance := flag.Float64("variance", 0.012, "synthetic reconciliation variance")
	dupRate := flag.Float64("dupRate", 0.002, "synthetic duplication rate")
	flag.Parse()

	met := metrics.New(metrics.DefaultConfig())
	met.Serve(*addr)
	fmt.Printf("metricsprobe serving on %s\n", *addr)

	met.DuplicationRate.Set(*dupRate)
	met.Variance.WithLabelValues(*pair).Set(*variance)
	met.Verdicts.WithLabelValues("ok").Inc()
	met.RecordsValidated.WithLabelValues("transaction").Add(1000)
	met.AggregatesPublished.Add(2)
	met.QuarantinedScopes.Set(0)

	// Drift the gauges so dashboards visibly update.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	drift := 0.0
	for range ticker.C {
		drift += 0.0001
		met.Variance.WithLabelValues(*pair).Set(*variance + drift)
		met.RecordsValidated.WithLabelValues("transaction").Add(10)
		met.RunsTotal.Inc()
	}
}

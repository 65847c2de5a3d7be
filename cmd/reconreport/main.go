package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"volume-recon-go/config"
	"volume-recon-go/record"
	"volume-recon-go/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	pair := flag.String("pair", "", "filter by asset pair (default: all pairs)")
	fromStr := flag.String("from", "", "first window day as YYYY-MM-DD")
	toStr := flag.String("to", "", "day after the last window, YYYY-MM-DD (default: tomorrow)")
	jsonOut := flag.Bool("json", false, "emit one JSON object per report")
	flag.Parse()

	from, to, err := parseRange(*fromStr, *toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse range: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "reconreport needs a database dsn; the in-memory store has no history")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := store.ConnectPostgres(ctx, store.PostgresConfig{
		DSN:      cfg.Database.DSN,
		MinConns: cfg.Database.MinConns,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	reports, err := pg.ReportsByWindow(ctx, *pair, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query reports: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		printJSON(reports)
		return
	}
	printTable(reports, from, to, *pair)
}

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	to := record.Day(time.Now().UTC()).End
	from := to.Add(-7 * 24 * time.Hour)
	if fromStr != "" {
		d, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = d
	}
	if toStr != "" {
		d, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = d
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is not before to %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	return from, to, nil
}

func printTable(reports []record.ReconciliationReport, from, to time.Time, pair string) {
	fmt.Printf("reconciliation reports %s .. %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	if pair != "" {
		fmt.Printf(" pair=%s", pair)
	}
	fmt.Println()
	if len(reports) == 0 {
		fmt.Println("no reports in range")
		return
	}

	fmt.Printf("%-10s  %-12s  %16s  %16s  %9s  %-7s  %s\n",
		"window", "pair", "internal", "external", "variance", "verdict", "note")
	var breaches, warns, unknowns int
	for _, r := range reports {
		variance := fmt.Sprintf("%8.4f%%", r.Variance*100)
		if r.Verdict == record.VerdictUnknown {
			variance = "        -"
		}
		fmt.Printf("%-10s  %-12s  %16.2f  %16.2f  %9s  %-7s  %s\n",
			r.Window.Start.Format("2006-01-02"), r.Pair,
			r.Internal, r.External, variance, r.Verdict, r.Note)
		switch r.Verdict {
		case record.VerdictBreach:
			breaches++
		case record.VerdictWarn:
			warns++
		case record.VerdictUnknown:
			unknowns++
		}
	}
	fmt.Printf("\n%d reports: %d breach, %d warn, %d unknown\n",
		len(reports), breaches, warns, unknowns)
}

func printJSON(reports []record.ReconciliationReport) {
	enc := json.NewEncoder(os.Stdout)
	for _, r := range reports {
		_ = enc.Encode(struct {
			Window   string  `json:"window"`
			Pair     string  `json:"pair"`
			Internal float64 `json:"internal"`
			External float64 `json:"external"`
			Variance float64 `json:"variance"`
			Verdict  string  `json:"verdict"`
			Rule     string  `json:"rule"`
			Note     string  `json:"note,omitempty"`
		}{
			Window:   r.Window.Start.Format("2006-01-02"),
			Pair:     r.Pair,
			Internal: r.Internal,
			External: r.External,
			Variance: r.Variance,
			Verdict:  string(r.Verdict),
			Rule:     string(r.RuleVersion),
			Note:     r.Note,
		})
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"volume-recon-go/aggregate"
	"volume-recon-go/config"
	"volume-recon-go/dedup"
	"volume-recon-go/infrastructure/alert"
	"volume-recon-go/infrastructure/logger"
	"volume-recon-go/metrics"
	"volume-recon-go/pipeline"
	"volume-recon-go/quarantine"
	"volume-recon-go/ratecheck"
	"volume-recon-go/reconcile"
	"volume-recon-go/record"
	"volume-recon-go/source"
	"volume-recon-go/store"
	"volume-recon-go/validate"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	once := flag.Bool("once", false, "run a single window and exit")
	windowArg := flag.String("window", "", "window day as YYYY-MM-DD (with -once; default: previous UTC day)")
	inputArg := flag.String("input", "", "batch JSON file (with -once)")
	initSchema := flag.Bool("init-schema", false, "create database tables and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	if *initSchema {
		pg, ok := st.(*store.Postgres)
		if !ok {
			lg.Fatal("init-schema requires a database dsn")
		}
		if err := pg.InitSchema(ctx); err != nil {
			lg.Fatal("init schema", zap.Error(err))
		}
		lg.Info("schema initialized")
		return
	}

	met := metrics.New(metrics.DefaultConfig())
	met.Serve(cfg.Metrics.Addr)

	channels := []alert.Channel{alert.NewLogChannel("log", lg.Logger)}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", cfg.Alert.WebhookURL))
	}
	alerts := alert.NewManager(channels, cfg.Alert.ThrottleInterval())
	dispatcher := quarantine.NewDispatcher(quarantine.NewRegistry(), alerts, lg.Named("quarantine").Logger)

	guard := dedup.NewGuard(cfg.Thresholds.DuplicationRate, lg.Named("dedup").Logger)
	checker := ratecheck.New(cfg.Thresholds.RateDeviation)
	aggregator := aggregate.New(st, dispatcher.Registry(), lg.Named("aggregate").Logger)
	monitor := reconcile.NewMonitor(
		&reconcile.HTTPReferenceClient{
			BaseURL:    cfg.Reference.BaseURL,
			HTTPClient: &http.Client{Timeout: cfg.Reference.Timeout()},
			Limiter:    reconcile.NewTokenBucketLimiter(cfg.Reference.RequestRate, cfg.Reference.RequestBurst),
			ChunkSpan:  cfg.Reference.ChunkSpan(),
		},
		st,
		reconcile.Thresholds{Warn: cfg.Thresholds.VarianceWarn, Breach: cfg.Thresholds.VarianceBreach},
		cfg.Reference.Timeout(),
		lg.Named("reconcile").Logger,
	)
	runner := pipeline.New(
		validate.New(lg.Named("validate").Logger),
		guard, checker, aggregator, monitor, dispatcher,
		st, met, cfg.Rule.Version, lg.Named("pipeline").Logger,
	)

	// Threshold changes apply at the next run; never mid-window.
	watcher := &config.Watcher{Path: *cfgPath, Cooldown: 5 * time.Second}
	go func() {
		if err := watcher.Start(ctx, func(th config.ThresholdConfig) {
			guard.SetThreshold(th.DuplicationRate)
			checker.SetThreshold(th.RateDeviation)
			monitor.SetThresholds(reconcile.Thresholds{Warn: th.VarianceWarn, Breach: th.VarianceBreach})
			lg.Info("thresholds reloaded",
				zap.Float64("duplicationRate", th.DuplicationRate),
				zap.Float64("rateDeviation", th.RateDeviation),
				zap.Float64("varianceWarn", th.VarianceWarn),
				zap.Float64("varianceBreach", th.VarianceBreach))
		}); err != nil && ctx.Err() == nil {
			lg.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	if *once {
		if err := runOnce(ctx, runner, *windowArg, *inputArg, lg); err != nil {
			lg.Fatal("run failed", zap.Error(err))
		}
		return
	}

	runDaemon(ctx, cfg, runner, lg)
}

func openStore(ctx context.Context, cfg config.AppConfig, lg *logger.Logger) (store.Store, func(), error) {
	if cfg.Database.DSN == "" {
		lg.Info("using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.ConnectPostgres(ctx, store.PostgresConfig{
		DSN:      cfg.Database.DSN,
		MinConns: cfg.Database.MinConns,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	lg.Info("connected to postgres")
	return pg, pg.Close, nil
}

func runOnce(ctx context.Context, runner *pipeline.Runner, windowArg, inputArg string, lg *logger.Logger) error {
	w := record.Day(time.Now().UTC().Add(-24 * time.Hour))
	if windowArg != "" {
		day, err := time.Parse("2006-01-02", windowArg)
		if err != nil {
			return err
		}
		w = record.Day(day)
	}

	var src source.BatchSource = source.NewStatic()
	if inputArg != "" {
		batch, err := source.LoadFile(inputArg)
		if err != nil {
			return err
		}
		src = source.NewStatic(batch)
	}

	rep, err := runner.RunWindow(ctx, w, src, nil)
	if err != nil {
		return err
	}
	lg.Info("run complete",
		zap.String("window", w.String()),
		zap.Int("published", rep.Published),
		zap.Int("blocked", rep.Blocked),
		zap.Int("quality_results", len(rep.Results)))
	for _, hb := range rep.Hourly {
		fmt.Printf("%-10s %s  volume=%14.2f  avgPrice=%12.4f  trades=%d\n",
			hb.Pair, hb.Window.Start.Format("2006-01-02T15Z"), hb.Volume, hb.AvgPrice, hb.Trades)
	}
	return nil
}

func runDaemon(ctx context.Context, cfg config.AppConfig, runner *pipeline.Runner, lg *logger.Logger) {
	runAt, err := config.ParseRunAt(cfg.Schedule.RunAtUTC)
	if err != nil {
		lg.Fatal("parse schedule", zap.Error(err))
	}

	spool := source.NewSpool()
	if cfg.Ingestion.StreamURL != "" {
		go streamLoop(ctx, cfg.Ingestion.StreamURL, spool, lg)
	}

	// Each day's closing rates seed the next day's rate sanity baseline.
	var prior ratecheck.PriorCloses
	sched := pipeline.NewScheduler(runner, runAt, lg.Named("schedule").Logger)
	sched.SourceFor = func(w record.Window) (source.BatchSource, error) {
		return spool.Take(w), nil
	}
	sched.PriorFor = func(record.Window) ratecheck.PriorCloses {
		return prior
	}
	sched.OnReport = func(rep pipeline.RunReport) {
		if len(rep.Closes) > 0 {
			prior = rep.Closes
		}
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify failed", zap.Error(err))
	} else if sent {
		lg.Info("systemd notified ready")
	}
	go watchdogLoop(ctx, lg)

	lg.Info("daemon started", zap.String("runAt", cfg.Schedule.RunAtUTC))
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		lg.Error("scheduler stopped", zap.Error(err))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	lg.Info("daemon exit")
}

// streamLoop keeps the feed connected, spooling micro-batches under the
// arrival day until that day's scheduled run takes them.
func streamLoop(ctx context.Context, url string, spool *source.Spool, lg *logger.Logger) {
	for ctx.Err() == nil {
		feed := source.NewWSFeed(url, lg.Named("feed").Logger)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				b, err := feed.Next(ctx)
				if err != nil {
					return
				}
				spool.Add(record.Day(time.Now().UTC()), b)
			}
		}()
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			lg.Warn("feed disconnected", zap.Error(err))
		}
		<-done
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
}

func watchdogLoop(ctx context.Context, lg *logger.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	lg.Info("systemd watchdog enabled", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"datahub/internal/config"
	"datahub/internal/gather/cn"
	"datahub/internal/metrics"
	"datahub/internal/store"
	"datahub/internal/tushare"
	"datahub/internal/util"
)

func main() {
	cfgPath := "config/datahub.yaml"
	if p := os.Getenv("DATAHUB_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config file")
	start := flag.String("start", "", "first date to clean, YYYY-MM-DD (overrides gather.cn_market.start_date)")
	end := flag.String("end", "", "last date to clean, YYYY-MM-DD; defaults to today")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	util.SetDefault(logger)

	job := cfg.Gather.CNMarket
	if *start != "" {
		job.StartDate = *start
	}
	if *end != "" {
		job.EndDate = *end
	}
	if job.StartDate == "" {
		log.Fatalf("no start date: pass -start or set gather.cn_market.start_date")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := tushare.NewClient(cfg.Tushare.Token, cfg.Tushare.URL, cfg.Tushare.RateLimitPerMin, cfg.Tushare.Timeout)
	if err != nil {
		log.Fatalf("failed to create tushare client: %v", err)
	}
	cache, err := tushare.NewCachedQuerier(client, cfg.Tushare.CacheSize)
	if err != nil {
		log.Fatalf("failed to create query cache: %v", err)
	}

	mstore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Storage.Backend, err)
	}

	runErr := run(ctx, cfg, job, cache, mstore)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := mstore.Close(closeCtx); err != nil {
		slog.Error("closing store", "error", err)
	}
	if runErr != nil {
		log.Fatalf("gatherer error: %v", runErr)
	}
}

// run cleans the configured range and reports cache and run metrics.
func run(ctx context.Context, cfg *config.Config, job config.GatherJobConfig, cache *tushare.CachedQuerier, mstore store.MarketStore) error {
	gatherer := cn.NewMarketCleanGatherer(cache, mstore, cn.Options{
		StartDate:  job.StartDate,
		EndDate:    job.EndDate,
		BatchSize:  job.BatchSize,
		MaxWorkers: job.MaxWorkers,
		BatchPause: job.BatchPause,
	})
	runMetrics := metrics.NewRun(gatherer.Name())
	gatherer.SetMetrics(runMetrics)
	gatherer.OnProgress = func(pct int) {
		slog.Info("progress", "gatherer", gatherer.Name(), "percent", pct)
	}

	slog.Info("starting gatherer", "gatherer", gatherer.Name(), "backend", cfg.Storage.Backend,
		"start", job.StartDate, "end", job.EndDate)
	err := gatherer.Run(ctx)

	stats := cache.Stats()
	slog.Info("query cache", "hits", stats.Hits, "misses", stats.Misses)

	pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pushCancel()
	if perr := runMetrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); perr != nil {
		slog.Warn("pushing metrics", "url", cfg.Metrics.PushgatewayURL, "error", perr)
	}
	return err
}

// openStore connects the configured persistence backend.
func openStore(ctx context.Context, cfg config.Storage) (store.MarketStore, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		return store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.Collection)
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(cfg.SQLitePath, cfg.Collection)
	case config.BackendParquet:
		return store.NewParquetStore(cfg.DataDir, cfg.Collection)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"trader/internal/adapter"
	"trader/internal/ledger"
	"trader/internal/live"
	"trader/internal/obs"
	"trader/internal/ops"
	"trader/internal/order"
	"trader/internal/order/delegator/binance"
	"trader/internal/order/delegator/paper"
	"trader/internal/order/delegator/rest"
	"trader/internal/reconcile"
	tsignal "trader/internal/signal"
	"trader/internal/storage"
	"trader/pkg/conn"
	"trader/pkg/exception"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
)

var _defaultMaintenanceMargin = decimal.RequireFromString("0.005")

func main() {
	configPath := flag.String("config", "", "Path to JSON config (empty=paper broker with file storage)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	restore := flag.Bool("restore", true, "Restore the ledger from the latest snapshot file")
	candleDir := flag.String("candles", "", "Directory of <pair>.csv files for on-demand backtests")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"env": "local",
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := run(ctx, loaded, *restore, *candleDir); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default()
	}
	return ops.Load(path)
}

type stores struct {
	pending   reconcile.PendingStore
	sink      reconcile.OutcomeSink
	snapshots []storage.SnapshotSaver
	closers   []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func run(ctx context.Context, loaded ops.Loaded, restore bool, candleDir string) error {
	broker, err := newBroker(loaded.Broker)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, loaded.Storage)
	if err != nil {
		return err
	}
	defer st.close()

	l, err := openLedger(ctx, broker, loaded, restore)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	reconciler, err := reconcile.New(loaded.Reconciler, st.pending, broker, l, st.sink, metrics)
	if err != nil {
		return err
	}
	executor, err := order.NewExecutor(loaded.Executor, broker, reconciler, metrics)
	if err != nil {
		return err
	}
	pool, err := order.NewPool(loaded.Executor, executor)
	if err != nil {
		return err
	}

	var provider tsignal.Provider = tsignal.Hold
	if loaded.Signal.URL != "" {
		provider = tsignal.NewHTTPProvider(&http.Client{}, loaded.Signal.URL, loaded.Signal.Timeout)
	}
	var candles live.CandleSource
	if candleDir != "" {
		candles = live.CSVDir(candleDir)
	}
	engine, err := live.NewEngine(l, pool, reconciler, provider, candles, metrics)
	if err != nil {
		return err
	}

	pool.Run(ctx)
	if err := engine.StartReconciler(ctx); err != nil {
		return err
	}
	if _, err := reconciler.CrossCheckPositions(ctx); err != nil {
		logs.Warnf("startup position cross check failed, err: %+v", err)
	}

	writer := storage.NewSnapshotWriter(loaded.Storage.SnapshotInterval, func() storage.Snapshot {
		return storage.Snapshot{
			Time:   time.Now().UTC(),
			Equity: l.Equity(nil),
			Ledger: l.Snapshot(),
		}
	}, st.snapshots...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()

	logs.Infof("trader started, broker=%s storage=%s pairs=%v cash=%s", broker.Platform(), loaded.Storage.Kind, loaded.Live.Pairs, l.Cash())
	runLoop(ctx, engine, loaded.Live)

	pool.Close()
	if err := engine.StopReconciler(context.Background()); err != nil {
		logs.Errorf("stop reconciler, err: %+v", err)
	}
	wg.Wait()
	logs.Infof("trader stopped, metrics: %+v", metrics.Snapshot())
	return nil
}

// runLoop runs one decision loop per pair until ctx is done, so a slow
// signal or submission on one pair never delays the others.
func runLoop(ctx context.Context, engine *live.Engine, cfg ops.Live) {
	if len(cfg.Pairs) == 0 {
		<-ctx.Done()
		return
	}

	var wg sync.WaitGroup
	for _, pair := range cfg.Pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPair(ctx, engine, pair, cfg)
		}()
	}
	wg.Wait()
}

func runPair(ctx context.Context, engine *live.Engine, pair string, cfg ops.Live) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, err := engine.Step(ctx, pair, cfg.Size, cfg.Leverage)
			if err != nil {
				logs.Errorf("step failed, decision=%s pair=%s err: %+v", d.DecisionID, pair, err)
			}
		}
	}
}

func newBroker(cfg ops.BrokerConfig) (adapter.Broker, error) {
	token := adapter.NewToken(cfg.APIKey, cfg.SecretKey)
	switch cfg.Kind {
	case ops.BrokerBinance:
		return binance.NewDelegator(binance.Config{
			Token:   token,
			Testnet: cfg.Testnet,
			FeeRate: cfg.FeeRate,
		}), nil
	case ops.BrokerREST:
		return rest.NewDelegator(&http.Client{}, cfg.BaseURL, token), nil
	case ops.BrokerPaper:
		b := paper.New(paper.Config{
			Cash:      cfg.PaperCash,
			FeeRate:   cfg.FeeRate,
			FillAfter: cfg.PaperFillAfter,
		})
		for pair, mark := range cfg.PaperMarks {
			b.SetMark(pair, mark)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", exception.ErrOrderUnsupportedPlatform, cfg.Kind)
	}
}

func openStores(ctx context.Context, cfg ops.Storage) (*stores, error) {
	for _, dir := range []string{filepath.Dir(cfg.PendingPath), cfg.OutcomeDir, filepath.Dir(cfg.SnapshotPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	st := &stores{}
	sinks := storage.MultiSink{storage.NewDailyOutcomeLog(cfg.OutcomeDir)}
	st.snapshots = append(st.snapshots, storage.FileSnapshotSaver(cfg.SnapshotPath))

	var db *gorm.DB
	if cfg.UsePostgres {
		client, err := conn.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = client.Close() })
		db = client.DB()

		var pgPool *pgxpool.Pool
		pgPool, err = conn.NewPool(ctx, cfg.Postgres)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, pgPool.Close)

		outcomes, err := storage.NewPgOutcomeSink(ctx, pgPool)
		if err != nil {
			st.close()
			return nil, err
		}
		sinks = append(sinks, outcomes)

		history, err := storage.NewGormSnapshotStore(db)
		if err != nil {
			st.close()
			return nil, err
		}
		st.snapshots = append(st.snapshots, history)
	}
	st.sink = sinks

	switch cfg.Kind {
	case ops.StoragePostgres:
		pending, err := storage.NewGormPendingStore(db)
		if err != nil {
			st.close()
			return nil, err
		}
		st.pending = pending
	default:
		st.pending = storage.NewFilePendingStore(cfg.PendingPath)
	}
	return st, nil
}

// openLedger seeds the ledger from the broker balance, then restores the
// last snapshot when there is one.
func openLedger(ctx context.Context, broker adapter.Broker, loaded ops.Loaded, restore bool) (*ledger.Ledger, error) {
	mmr := loaded.Backtest.MaintenanceMarginRate
	if mmr.IsZero() {
		mmr = _defaultMaintenanceMargin
	}
	balance, err := broker.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	l := ledger.New(balance.Available, mmr)
	if !restore {
		return l, nil
	}

	snap, err := storage.ReadSnapshot(loaded.Storage.SnapshotPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, err
	}
	if err := l.Restore(snap.Ledger); err != nil {
		return nil, err
	}
	logs.Infof("ledger restored, snapshot=%s cash=%s positions=%d", snap.Time, l.Cash(), len(l.Positions()))
	return l, nil
}


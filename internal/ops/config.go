package ops

import (
	"fmt"
	"os"
	"strings"
	"time"

	"trader/internal/backtest"
	"trader/internal/order"
	"trader/internal/reconcile"
	"trader/pkg/conn"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// Broker kinds.
const (
	BrokerPaper   = "paper"
	BrokerBinance = "binance"
	BrokerREST    = "rest"
)

// Storage kinds.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// FileConfig mirrors the JSON config layout. Durations are Go duration
// strings such as "30s".
type FileConfig struct {
	Executor   ExecutorConfig   `json:"executor"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Backtest   backtest.Config  `json:"backtest"`
	Storage    StorageConfig    `json:"storage"`
	Broker     BrokerConfig     `json:"broker"`
	Signal     SignalConfig     `json:"signal"`
	Live       LiveConfig       `json:"live"`
}

// ExecutorConfig describes submission retries and the worker pool.
type ExecutorConfig struct {
	Namespace   string `json:"namespace"`
	MaxAttempts int    `json:"maxAttempts"`
	CallTimeout string `json:"callTimeout"`
	BackoffMin  string `json:"backoffMin"`
	BackoffMax  string `json:"backoffMax"`
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queueSize"`
}

// ReconcilerConfig describes the poll loop.
type ReconcilerConfig struct {
	Interval          string `json:"interval"`
	StaleThreshold    int    `json:"staleThreshold"`
	CallTimeout       string `json:"callTimeout"`
	CloseReason       string `json:"closeReason"`
	ResolvedRetention string `json:"resolvedRetention"`
}

// StorageConfig selects the pending store and where outcomes and
// snapshots go. Postgres is used by the postgres kind and, when set, for
// the outcome table and snapshot history as well.
type StorageConfig struct {
	Kind             string      `json:"kind"`
	PendingPath      string      `json:"pendingPath"`
	OutcomeDir       string      `json:"outcomeDir"`
	SnapshotPath     string      `json:"snapshotPath"`
	SnapshotInterval string      `json:"snapshotInterval"`
	Postgres         conn.Option `json:"postgres"`
}

// BrokerConfig selects the broker adapter.
type BrokerConfig struct {
	Kind           string                     `json:"kind"`
	APIKey         string                     `json:"apiKey"`
	SecretKey      string                     `json:"secretKey"`
	BaseURL        string                     `json:"baseUrl"`
	Testnet        bool                       `json:"testnet"`
	FeeRate        decimal.Decimal            `json:"feeRate"`
	PaperCash      decimal.Decimal            `json:"paperCash"`
	PaperFillAfter int                        `json:"paperFillAfter"`
	PaperMarks     map[string]decimal.Decimal `json:"paperMarks"`
}

// SignalConfig points at the external decision service.
type SignalConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout"`
}

// LiveConfig lists the assets traded by the live engine.
type LiveConfig struct {
	Pairs    []string        `json:"pairs"`
	Size     decimal.Decimal `json:"size"`
	Leverage decimal.Decimal `json:"leverage"`
	Interval string          `json:"interval"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Executor   order.Config
	Reconciler reconcile.Config
	Backtest   backtest.Config
	Storage    Storage
	Broker     BrokerConfig
	Signal     Signal
	Live       Live
}

// Storage is the resolved storage section.
type Storage struct {
	Kind             string
	PendingPath      string
	OutcomeDir       string
	SnapshotPath     string
	SnapshotInterval time.Duration
	Postgres         conn.Option
	UsePostgres      bool
}

// Signal is the resolved signal section. An empty URL means HOLD.
type Signal struct {
	URL     string
	Timeout time.Duration
}

// Live is the resolved live section.
type Live struct {
	Pairs    []string
	Size     decimal.Decimal
	Leverage decimal.Decimal
	Interval time.Duration
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return Resolve(cfg)
}

// Default is the configuration used without a config file: a paper broker
// and file storage under the working directory.
func Default() (Loaded, error) {
	return Resolve(FileConfig{})
}

// Resolve applies defaults and validates every section.
func Resolve(cfg FileConfig) (Loaded, error) {
	executor, err := resolveExecutor(cfg.Executor)
	if err != nil {
		return Loaded{}, err
	}
	reconciler, err := resolveReconciler(cfg.Reconciler)
	if err != nil {
		return Loaded{}, err
	}
	bt := cfg.Backtest
	if bt.InitialCash.IsZero() && bt.FeeRate.IsZero() && bt.SlippageBps.IsZero() {
		// without a backtest section the default fee and slippage apply
		def := backtest.DefaultConfig()
		bt.FeeRate, bt.SlippageBps = def.FeeRate, def.SlippageBps
	}
	storage, err := resolveStorage(cfg.Storage)
	if err != nil {
		return Loaded{}, err
	}
	broker, err := resolveBroker(cfg.Broker)
	if err != nil {
		return Loaded{}, err
	}
	sig, err := resolveSignal(cfg.Signal)
	if err != nil {
		return Loaded{}, err
	}
	live, err := resolveLive(cfg.Live)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Executor:   executor,
		Reconciler: reconciler,
		Backtest:   bt,
		Storage:    storage,
		Broker:     broker,
		Signal:     sig,
		Live:       live,
	}, nil
}

func resolveExecutor(cfg ExecutorConfig) (order.Config, error) {
	out := order.Config{
		Namespace:   cfg.Namespace,
		MaxAttempts: cfg.MaxAttempts,
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
	}
	var err error
	if out.CallTimeout, err = parseDuration("executor.callTimeout", cfg.CallTimeout); err != nil {
		return order.Config{}, err
	}
	if out.BackoffMin, err = parseDuration("executor.backoffMin", cfg.BackoffMin); err != nil {
		return order.Config{}, err
	}
	if out.BackoffMax, err = parseDuration("executor.backoffMax", cfg.BackoffMax); err != nil {
		return order.Config{}, err
	}
	return out, nil
}

func resolveReconciler(cfg ReconcilerConfig) (reconcile.Config, error) {
	out := reconcile.Config{
		StaleThreshold: cfg.StaleThreshold,
		CloseReason:    cfg.CloseReason,
	}
	var err error
	if out.Interval, err = parseDuration("reconciler.interval", cfg.Interval); err != nil {
		return reconcile.Config{}, err
	}
	if out.CallTimeout, err = parseDuration("reconciler.callTimeout", cfg.CallTimeout); err != nil {
		return reconcile.Config{}, err
	}
	if out.ResolvedRetention, err = parseDuration("reconciler.resolvedRetention", cfg.ResolvedRetention); err != nil {
		return reconcile.Config{}, err
	}
	return out, nil
}

func resolveStorage(cfg StorageConfig) (Storage, error) {
	out := Storage{
		Kind:         strings.ToLower(cfg.Kind),
		PendingPath:  cfg.PendingPath,
		OutcomeDir:   cfg.OutcomeDir,
		SnapshotPath: cfg.SnapshotPath,
		Postgres:     cfg.Postgres,
	}
	if out.Kind == "" {
		out.Kind = StorageFile
	}
	if out.PendingPath == "" {
		out.PendingPath = "data/pending.json"
	}
	if out.OutcomeDir == "" {
		out.OutcomeDir = "data/trades"
	}
	if out.SnapshotPath == "" {
		out.SnapshotPath = "data/snapshot.json"
	}
	interval, err := parseDuration("storage.snapshotInterval", cfg.SnapshotInterval)
	if err != nil {
		return Storage{}, err
	}
	out.SnapshotInterval = interval
	if out.SnapshotInterval == 0 {
		out.SnapshotInterval = time.Minute
	}
	out.UsePostgres = cfg.Postgres.Host != "" || cfg.Postgres.ConnString != ""

	switch out.Kind {
	case StorageFile:
	case StoragePostgres:
		if !out.UsePostgres {
			return Storage{}, fmt.Errorf("storage kind postgres needs storage.postgres.host or connString")
		}
	default:
		return Storage{}, fmt.Errorf("unknown storage kind: %s", cfg.Kind)
	}
	return out, nil
}

func resolveBroker(cfg BrokerConfig) (BrokerConfig, error) {
	cfg.Kind = strings.ToLower(cfg.Kind)
	if cfg.Kind == "" {
		cfg.Kind = BrokerPaper
	}
	switch cfg.Kind {
	case BrokerPaper:
		if cfg.PaperCash.IsZero() {
			cfg.PaperCash = decimal.NewFromInt(10_000)
		}
	case BrokerBinance:
		if cfg.APIKey == "" || cfg.SecretKey == "" {
			return BrokerConfig{}, fmt.Errorf("broker binance needs apiKey and secretKey")
		}
	case BrokerREST:
		if cfg.BaseURL == "" {
			return BrokerConfig{}, fmt.Errorf("broker rest needs baseUrl")
		}
	default:
		return BrokerConfig{}, fmt.Errorf("%w: broker kind %s", exception.ErrOrderUnsupportedPlatform, cfg.Kind)
	}
	if cfg.FeeRate.IsNegative() {
		return BrokerConfig{}, fmt.Errorf("broker feeRate must be >= 0")
	}
	return cfg, nil
}

func resolveSignal(cfg SignalConfig) (Signal, error) {
	timeout, err := parseDuration("signal.timeout", cfg.Timeout)
	if err != nil {
		return Signal{}, err
	}
	return Signal{URL: cfg.URL, Timeout: timeout}, nil
}

func resolveLive(cfg LiveConfig) (Live, error) {
	interval, err := parseDuration("live.interval", cfg.Interval)
	if err != nil {
		return Live{}, err
	}
	out := Live{
		Pairs:    cfg.Pairs,
		Size:     cfg.Size,
		Leverage: cfg.Leverage,
		Interval: interval,
	}
	if out.Leverage.IsZero() {
		out.Leverage = decimal.NewFromInt(1)
	}
	if out.Interval == 0 {
		out.Interval = time.Minute
	}
	if len(out.Pairs) > 0 && !out.Size.IsPositive() {
		return Live{}, fmt.Errorf("live size must be > 0 when pairs are set")
	}
	if !out.Leverage.IsPositive() {
		return Live{}, fmt.Errorf("live leverage must be > 0")
	}
	return out, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", field)
	}
	return d, nil
}

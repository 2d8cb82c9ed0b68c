package storage

import (
	"context"
	"os"
	"time"

	"trader/internal/ledger"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
)

// Snapshot is one periodic equity record with the ledger state it was taken from.
type Snapshot struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
	Ledger ledger.Snapshot `json:"ledger"`
}

// WriteSnapshot atomically writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(exception.ErrDataIntegrity, "snapshot "+path+": "+err.Error())
	}
	return snap, nil
}

type snapshotRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	TakenAt   time.Time       `gorm:"column:taken_at;index"`
	Cash      decimal.Decimal `gorm:"column:cash;type:numeric"`
	Equity    decimal.Decimal `gorm:"column:equity;type:numeric"`
	Positions string          `gorm:"column:positions;type:text"`
}

func (snapshotRow) TableName() string {
	return "equity_snapshots"
}

// GormSnapshotStore appends snapshots to the equity_snapshots table.
type GormSnapshotStore struct {
	db *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) (*GormSnapshotStore, error) {
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate equity_snapshots")
	}
	return &GormSnapshotStore{db: db}, nil
}

func (s *GormSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	positions, err := sonic.MarshalString(snap.Ledger.Positions)
	if err != nil {
		return err
	}
	row := snapshotRow{
		TakenAt:   snap.Time,
		Cash:      snap.Ledger.Cash,
		Equity:    snap.Equity,
		Positions: positions,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Latest returns the most recent snapshot.
func (s *GormSnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
	var row snapshotRow
	if err := s.db.WithContext(ctx).Order("taken_at DESC").First(&row).Error; err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Time:   row.TakenAt,
		Equity: row.Equity,
		Ledger: ledger.Snapshot{Timestamp: row.TakenAt.UnixNano(), Cash: row.Cash},
	}
	if err := sonic.UnmarshalString(row.Positions, &snap.Ledger.Positions); err != nil {
		return Snapshot{}, errors.Wrap(exception.ErrDataIntegrity, "equity snapshot positions: "+err.Error())
	}
	return snap, nil
}

// SnapshotSaver persists one snapshot.
type SnapshotSaver interface {
	Save(ctx context.Context, snap Snapshot) error
}

// FileSnapshotSaver keeps the latest snapshot in one file.
type FileSnapshotSaver string

func (p FileSnapshotSaver) Save(_ context.Context, snap Snapshot) error {
	return WriteSnapshot(string(p), snap)
}

// SnapshotWriter takes a snapshot every interval and hands it to each saver.
type SnapshotWriter struct {
	interval time.Duration
	take     func() Snapshot
	savers   []SnapshotSaver
}

func NewSnapshotWriter(interval time.Duration, take func() Snapshot, savers ...SnapshotSaver) *SnapshotWriter {
	return &SnapshotWriter{interval: interval, take: take, savers: savers}
}

// Run blocks until ctx is done and writes a final snapshot on the way out.
func (w *SnapshotWriter) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.WriteOnce(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			w.WriteOnce(ctx)
		}
	}
}

// WriteOnce saves one snapshot to every saver.
func (w *SnapshotWriter) WriteOnce(ctx context.Context) {
	snap := w.take()
	for _, s := range w.savers {
		if err := s.Save(ctx, snap); err != nil {
			logs.Errorf("save equity snapshot, err: %+v", err)
		}
	}
}

package storage

import (
	"context"
	stderrors "errors"
	"time"

	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pendingRow model.PendingOrder

func (pendingRow) TableName() string {
	return "pending_orders"
}

type resolvedRow model.ResolvedOrder

func (resolvedRow) TableName() string {
	return "resolved_orders"
}

// GormPendingStore keeps pending orders in the pending_orders table and the
// tombstones of reconciled ones in resolved_orders. Update locks the row with
// SELECT ... FOR UPDATE inside a transaction.
type GormPendingStore struct {
	db *gorm.DB
}

// NewGormPendingStore creates the store and migrates its table.
func NewGormPendingStore(db *gorm.DB) (*GormPendingStore, error) {
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	if err := db.AutoMigrate(&pendingRow{}, &resolvedRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate pending_orders")
	}
	return &GormPendingStore{db: db}, nil
}

func (s *GormPendingStore) Add(ctx context.Context, p model.PendingOrder) error {
	if p.OrderID == "" {
		return exception.ErrPendingEmptyOrderID
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&resolvedRow{}).Where("order_id = ?", p.OrderID)
		if p.IdempotencyKey != "" {
			q = q.Or("idempotency_key = ?", p.IdempotencyKey)
		}
		var tombs int64
		if err := q.Count(&tombs).Error; err != nil {
			return err
		}
		if tombs > 0 {
			return errors.Wrap(exception.ErrPendingResolved, p.OrderID)
		}

		row := pendingRow(p)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrap(exception.ErrPendingDuplicate, p.OrderID)
		}
		return nil
	})
}

func (s *GormPendingStore) List(ctx context.Context) ([]model.PendingOrder, []error) {
	var rows []pendingRow
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, []error{err}
	}

	result := make([]model.PendingOrder, 0, len(rows))
	var errs []error
	for _, row := range rows {
		p := model.PendingOrder(row)
		if err := p.Validate(); err != nil {
			errs = append(errs, errors.Wrap(err, "pending order "+p.OrderID))
			continue
		}
		result = append(result, p)
	}
	return result, errs
}

func (s *GormPendingStore) Update(ctx context.Context, orderID string, fn func(*model.PendingOrder) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row pendingRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&row).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(exception.ErrPendingNotFound, orderID)
		}
		if err != nil {
			return err
		}

		p := model.PendingOrder(row)
		if err := fn(&p); err != nil {
			return err
		}
		p.OrderID = orderID
		row = pendingRow(p)
		return tx.Save(&row).Error
	})
}

// Resolve moves the entry from pending_orders to resolved_orders in one transaction.
func (s *GormPendingStore) Resolve(ctx context.Context, orderID string, status enum.OrderStatus, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row pendingRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&row).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(exception.ErrPendingNotFound, orderID)
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		tomb := resolvedRow{OrderID: orderID, IdempotencyKey: row.IdempotencyKey, Status: status, ResolvedAt: at}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&tomb).Error
	})
}

func (s *GormPendingStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("resolved_at < ?", cutoff).Delete(&resolvedRow{})
	return int(res.RowsAffected), res.Error
}

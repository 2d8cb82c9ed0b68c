package storage

import (
	"context"

	"trader/internal/model"
	"trader/pkg/exception"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yanun0323/errors"
)

const _createTradeOutcomes = `
CREATE TABLE IF NOT EXISTS trade_outcomes (
	id           BIGSERIAL PRIMARY KEY,
	decision_id  TEXT NOT NULL,
	order_id     TEXT NOT NULL,
	asset_pair   TEXT NOT NULL,
	side         TEXT NOT NULL,
	entry_price  NUMERIC NOT NULL,
	entry_time   TIMESTAMPTZ NOT NULL,
	exit_price   NUMERIC NOT NULL,
	exit_time    TIMESTAMPTZ NOT NULL,
	size         NUMERIC NOT NULL,
	fees         NUMERIC NOT NULL,
	realized_pnl NUMERIC NOT NULL,
	reason       TEXT NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const _insertTradeOutcome = `
INSERT INTO trade_outcomes
	(decision_id, order_id, asset_pair, side, entry_price, entry_time, exit_price, exit_time, size, fees, realized_pnl, reason)
VALUES
	($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9::numeric, $10::numeric, $11::numeric, $12)`

// PgOutcomeSink inserts trade outcomes into Postgres. It only ever inserts.
type PgOutcomeSink struct {
	pool *pgxpool.Pool
}

// NewPgOutcomeSink creates the trade_outcomes table if needed.
func NewPgOutcomeSink(ctx context.Context, pool *pgxpool.Pool) (*PgOutcomeSink, error) {
	if pool == nil {
		return nil, exception.ErrNilInstance
	}
	if _, err := pool.Exec(ctx, _createTradeOutcomes); err != nil {
		return nil, errors.Wrap(err, "create trade_outcomes")
	}
	return &PgOutcomeSink{pool: pool}, nil
}

func (s *PgOutcomeSink) Record(ctx context.Context, o model.TradeOutcome) error {
	_, err := s.pool.Exec(ctx, _insertTradeOutcome,
		o.DecisionID,
		o.OrderID,
		o.AssetPair,
		o.Side.String(),
		o.EntryPrice.String(),
		o.EntryTime,
		o.ExitPrice.String(),
		o.ExitTime,
		o.Size.String(),
		o.Fees.String(),
		o.RealizedPnL.String(),
		o.Reason,
	)
	if err != nil {
		return errors.Wrap(err, "insert trade outcome "+o.OrderID)
	}
	return nil
}

// Count returns the number of stored outcomes.
func (s *PgOutcomeSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM trade_outcomes`).Scan(&n)
	return n, err
}

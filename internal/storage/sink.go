package storage

import (
	"context"
	stderrors "errors"

	"trader/internal/model"
)

// OutcomeRecorder is anything that durably records a trade outcome.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome model.TradeOutcome) error
}

// MultiSink records every outcome to all of its sinks. A failing sink does
// not stop the others; the joined error is returned.
type MultiSink []OutcomeRecorder

func (m MultiSink) Record(ctx context.Context, outcome model.TradeOutcome) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

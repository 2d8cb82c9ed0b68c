package ledger

import (
	"fmt"
	"time"

	"trader/internal/model"

	"github.com/shopspring/decimal"
)

// Snapshot captures ledger state at a point in time.
type Snapshot struct {
	Timestamp int64            `json:"timestamp"`
	Cash      decimal.Decimal  `json:"cash"`
	Positions []model.Position `json:"positions"`
}

// Snapshot builds a snapshot of the current state.
func (l *Ledger) Snapshot() Snapshot {
	positions := l.Positions()
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Cash:      l.Cash(),
		Positions: positions,
	}
}

// Restore replaces the ledger state with a snapshot.
func (l *Ledger) Restore(snapshot Snapshot) error {
	positions := make(map[string]model.Position, len(snapshot.Positions))
	for _, pos := range snapshot.Positions {
		if !pos.IsOpen() {
			return fmt.Errorf("snapshot position %s is not open", pos.AssetPair)
		}
		if _, ok := positions[pos.AssetPair]; ok {
			return fmt.Errorf("snapshot has duplicate position for %s", pos.AssetPair)
		}
		positions[pos.AssetPair] = pos
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = snapshot.Cash
	l.positions = positions
	return nil
}

// CompareSnapshots checks if two snapshots hold the same positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]model.Position, len(expected.Positions))
	for _, pos := range expected.Positions {
		expectedMap[pos.AssetPair] = pos
	}
	for _, pos := range actual.Positions {
		want, ok := expectedMap[pos.AssetPair]
		if !ok {
			return fmt.Errorf("snapshot missing pair: %s", pos.AssetPair)
		}
		if want.Side != pos.Side || !want.Size.Equal(pos.Size) {
			return fmt.Errorf("snapshot mismatch: pair=%s expected=%s %s actual=%s %s",
				pos.AssetPair, want.Side, want.Size, pos.Side, pos.Size)
		}
	}
	return nil
}

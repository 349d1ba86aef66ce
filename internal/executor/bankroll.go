package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// Bankroll tracks paper balances per side plus the per-date NO exposure
// tally. The trades table is the source of truth; the in-memory state is
// reconciled from open trades at startup and mutated only by the executor
// and the close paths.
type Bankroll struct {
	mu         sync.Mutex
	yesInitial float64
	noInitial  float64
	yes        float64
	no         float64
	noByDate   map[string]float64
}

// NewBankroll creates an unreconciled bankroll at the configured sizes.
func NewBankroll(yesInitial, noInitial float64) *Bankroll {
	return &Bankroll{
		yesInitial: yesInitial,
		noInitial:  noInitial,
		yes:        yesInitial,
		no:         noInitial,
		noByDate:   make(map[string]float64),
	}
}

// Seed reconciles balances from open trades.
func (b *Bankroll) Seed(ctx context.Context, store OpenTradeLister, logger *zap.Logger) error {
	trades, err := store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("seed bankroll: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.yes = b.yesInitial
	b.no = b.noInitial
	b.noByDate = make(map[string]float64)
	for _, t := range trades {
		if t.Side == types.SideYes {
			b.yes -= t.Cost
		} else {
			b.no -= t.Cost
			b.noByDate[t.TargetDate] += t.Cost
		}
	}

	logger.Info("bankroll-seeded",
		zap.Int("open_trades", len(trades)),
		zap.Float64("yes_available", b.yes),
		zap.Float64("no_available", b.no))
	return nil
}

// Available returns the balance for a side.
func (b *Bankroll) Available(side types.Side) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if side == types.SideYes {
		return b.yes
	}
	return b.no
}

// Snapshot returns both balances.
func (b *Bankroll) Snapshot() (yes, no float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.yes, b.no
}

// NoCostForDate returns the in-memory NO exposure for a target date.
func (b *Bankroll) NoCostForDate(date string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.noByDate[date]
}

// Charge debits an entry after it has been durably persisted.
func (b *Bankroll) Charge(side types.Side, targetDate string, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if side == types.SideYes {
		b.yes -= cost
		return
	}
	b.no -= cost
	b.noByDate[targetDate] += cost
}

// Release credits a closed position's cost back. Called after a trade
// leaves open status; realized profit and loss never flow through the
// bankroll counters.
func (b *Bankroll) Release(side types.Side, targetDate string, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if side == types.SideYes {
		b.yes += cost
		return
	}
	b.no += cost
	b.noByDate[targetDate] -= cost
	if b.noByDate[targetDate] <= 0 {
		delete(b.noByDate, targetDate)
	}
}

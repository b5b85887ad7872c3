package broker

import (
	"context"
	"sort"
	"sync"

	"tradelab/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper sessions and
// tests. It keeps the account and positions in memory without making
// external API calls.
type SimulatorBroker struct {
	mu        sync.RWMutex
	account   domain.AccountInfo
	positions map[string]domain.Position
}

// NewSimulatorBroker creates a SimulatorBroker holding cash only.
func NewSimulatorBroker(cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		account:   domain.AccountInfo{Equity: cash, Cash: cash, BuyingPower: cash},
		positions: make(map[string]domain.Position),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Open adds or replaces the position for p.Symbol and moves its value out
// of cash.
func (b *SimulatorBroker) Open(p domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.positions[p.Symbol]; ok {
		b.account.Cash += old.Value()
	}
	b.positions[p.Symbol] = p
	b.account.Cash -= p.Value()
	b.account.BuyingPower = b.account.Cash
}

// Close removes the position for symbol, crediting its entry value plus pnl.
func (b *SimulatorBroker) Close(symbol string, pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		return
	}
	delete(b.positions, symbol)
	b.account.Cash += p.Value() + pnl
	b.account.Equity += pnl
	b.account.BuyingPower = b.account.Cash
}

// GetPositions returns the simulated positions ordered by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns simulated account information.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct := b.account
	return &acct, nil
}

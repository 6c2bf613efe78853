package storage

import (
	"context"
	"sync"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// MockStore is an in-memory TradeStore for tests.
type MockStore struct {
	mu        sync.Mutex
	Trades    []models.TradeRecord
	PosMap    map[string]models.Position
	StatsMap  map[string]models.TraderStats
	RecordErr error
	PosErr    error
}

var _ TradeStore = (*MockStore)(nil)

// NewMockStore builds an empty mock.
func NewMockStore() *MockStore {
	return &MockStore{
		PosMap:   make(map[string]models.Position),
		StatsMap: make(map[string]models.TraderStats),
	}
}

func (m *MockStore) RecordTrade(ctx context.Context, rec models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.Trades = append(m.Trades, rec)
	return nil
}

func (m *MockStore) Flush(ctx context.Context) error { return nil }

func (m *MockStore) RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Trades)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.TradeRecord, 0, n)
	for i := len(m.Trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.Trades[i])
	}
	return out, nil
}

func (m *MockStore) Position(ctx context.Context, tokenID string) (models.Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PosErr != nil {
		return models.Position{}, false, m.PosErr
	}
	p, ok := m.PosMap[tokenID]
	return p, ok && p.NetShares > 0, nil
}

func (m *MockStore) Positions(ctx context.Context) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Position
	for _, p := range m.PosMap {
		if p.NetShares > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockStore) ApplyFill(ctx context.Context, tokenID string, side models.Side, price, shares float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.PosMap[tokenID]
	p.TokenID = tokenID
	p.NetShares, p.AvgEntryPrice = foldFill(p.NetShares, p.AvgEntryPrice, side, price, shares)
	p.TradeCount++
	m.PosMap[tokenID] = p
	return nil
}

func (m *MockStore) UpsertTraderStats(ctx context.Context, stats []models.TraderStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range stats {
		m.StatsMap[st.Address] = st
	}
	return nil
}

func (m *MockStore) TraderStats(ctx context.Context) ([]models.TraderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TraderStats
	for _, st := range m.StatsMap {
		out = append(out, st)
	}
	return out, nil
}

// RecordedTrades returns a copy of everything recorded.
func (m *MockStore) RecordedTrades() []models.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeRecord, len(m.Trades))
	copy(out, m.Trades)
	return out
}

func (m *MockStore) Close() error { return nil }

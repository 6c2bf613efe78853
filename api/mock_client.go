package api

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// MockClient is an in-memory stand-in for the CLOB and gamma clients.
// It records submitted orders and serves scripted books and metadata.
type MockClient struct {
	mu sync.Mutex

	// FillRatio is the fraction of each order that fills (default 1).
	FillRatio float64
	// SubmitErr, when set, fails every submission.
	SubmitErr error
	// Books maps token id to a scripted book.
	Books map[string]*OrderBook
	// Metas maps token id to scripted metadata.
	Metas map[string]models.MarketMeta

	Submitted []models.IntendedOrder
}

// NewMockClient builds a mock that fully fills everything.
func NewMockClient() *MockClient {
	return &MockClient{
		FillRatio: 1.0,
		Books:     make(map[string]*OrderBook),
		Metas:     make(map[string]models.MarketMeta),
	}
}

// Submit records the order and reports the scripted fill.
func (m *MockClient) Submit(ctx context.Context, order models.IntendedOrder) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return 0, m.SubmitErr
	}
	m.Submitted = append(m.Submitted, order)
	return order.Size * m.FillRatio, nil
}

// SubmittedOrders returns a copy of everything submitted so far.
func (m *MockClient) SubmittedOrders() []models.IntendedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.IntendedOrder, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}

// BestAsk serves the scripted book's lowest ask.
func (m *MockClient) BestAsk(ctx context.Context, tokenID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.Books[tokenID]
	if !ok || len(book.Asks) == 0 {
		return 0, &models.QueryError{Resource: "order book", Err: fmt.Errorf("no scripted book for %s", tokenID)}
	}
	return parsePrice(book.Asks[0].Price), nil
}

// DepthBeyondUSD computes depth over the scripted book.
func (m *MockClient) DepthBeyondUSD(ctx context.Context, tokenID string, side models.Side, price float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.Books[tokenID]
	if !ok {
		return 0, &models.QueryError{Resource: "order book", Err: fmt.Errorf("no scripted book for %s", tokenID)}
	}
	levels := book.Asks
	if side == models.SideSell {
		levels = book.Bids
	}
	return DepthBeyond(levels, side, price), nil
}

// Meta serves scripted metadata, defaulting to a non-live market.
func (m *MockClient) Meta(ctx context.Context, tokenID string) (models.MarketMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Metas[tokenID], nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

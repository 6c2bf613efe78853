// Package storage persists trade records, positions, and per-trader
// stats behind a backend-agnostic interface.
package storage

import (
	"context"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// TradeStore is the persistence surface the pipeline writes through.
// Implementations buffer trade records internally; Flush forces them
// out.
type TradeStore interface {
	// RecordTrade queues one terminal record for writing.
	RecordTrade(ctx context.Context, rec models.TradeRecord) error
	// Flush writes any buffered records immediately.
	Flush(ctx context.Context) error
	// RecentTrades returns the newest records, most recent first.
	RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error)

	// Position returns our holding in a token; held is false when we
	// have no net shares.
	Position(ctx context.Context, tokenID string) (pos models.Position, held bool, err error)
	// Positions lists all non-flat holdings.
	Positions(ctx context.Context) ([]models.Position, error)
	// ApplyFill folds an executed fill into the position book.
	ApplyFill(ctx context.Context, tokenID string, side models.Side, price, shares float64) error

	// UpsertTraderStats replaces the stored per-trader counters.
	UpsertTraderStats(ctx context.Context, stats []models.TraderStats) error
	// TraderStats lists the stored counters.
	TraderStats(ctx context.Context) ([]models.TraderStats, error)

	Close() error
}

// Both backends must satisfy the full surface.
var (
	_ TradeStore = (*SQLiteStore)(nil)
	_ TradeStore = (*PostgresStore)(nil)
)

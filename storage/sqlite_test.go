package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(tx string, status models.TradeStatus) models.TradeRecord {
	return models.TradeRecord{
		TimestampMS:   time.Now().UnixMilli(),
		TxHash:        tx,
		TraderAddress: "deadbeef",
		TraderLabel:   "Whale",
		TokenID:       "tok1",
		Side:          models.SideBuy,
		WhalePrice:    0.50,
		WhaleShares:   1000,
		WhaleUSD:      500,
		OurPrice:      0.51,
		OurShares:     20,
		OurUSD:        10.2,
		FillPct:       100,
		Status:        status,
		LatencyMS:     42,
		AggCount:      1,
		Attempts:      1,
	}
}

func TestTradeRecordRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := record("0x1", models.StatusSuccess)
	newer := record("0x2", models.StatusPartial)
	newer.TimestampMS = older.TimestampMS + 1000
	require.NoError(t, s.RecordTrade(ctx, older))
	require.NoError(t, s.RecordTrade(ctx, newer))

	// RecentTrades flushes the buffer before reading and returns
	// newest first
	trades, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "0x2", trades[0].TxHash)
	assert.Equal(t, models.StatusPartial, trades[0].Status)
	assert.Equal(t, models.StatusSuccess, trades[1].Status)
	assert.Equal(t, "deadbeef", trades[0].TraderAddress)
	assert.Equal(t, models.SideBuy, trades[0].Side)
	assert.InDelta(t, 0.51, trades[0].OurPrice, 0.0001)
}

func TestBufferFlushesWhenFull(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < writeBufferSize; i++ {
		require.NoError(t, s.RecordTrade(ctx, record("0x1", models.StatusSuccess)))
	}
	// Buffer hit the threshold and wrote through; a direct query
	// (without Flush) must see every row.
	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&count))
	assert.Equal(t, writeBufferSize, count)
}

func TestApplyFillPositionMath(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// 100 @ 0.40 then 100 @ 0.60 averages to 0.50
	require.NoError(t, s.ApplyFill(ctx, "tok1", models.SideBuy, 0.40, 100))
	require.NoError(t, s.ApplyFill(ctx, "tok1", models.SideBuy, 0.60, 100))

	pos, held, err := s.Position(ctx, "tok1")
	require.NoError(t, err)
	require.True(t, held)
	assert.InDelta(t, 200, pos.NetShares, 0.001)
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 0.0001)
	assert.Equal(t, 2, pos.TradeCount)

	// Selling reduces net without touching the average
	require.NoError(t, s.ApplyFill(ctx, "tok1", models.SideSell, 0.70, 150))
	pos, held, err = s.Position(ctx, "tok1")
	require.NoError(t, err)
	require.True(t, held)
	assert.InDelta(t, 50, pos.NetShares, 0.001)
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 0.0001)

	// Overselling clamps to flat
	require.NoError(t, s.ApplyFill(ctx, "tok1", models.SideSell, 0.70, 500))
	_, held, err = s.Position(ctx, "tok1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestPositionMissing(t *testing.T) {
	s := testStore(t)
	_, held, err := s.Position(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestTraderStatsUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stats := []models.TraderStats{{
		Address:      "aaa",
		Label:        "Alpha",
		TradesToday:  3,
		Successful:   2,
		Partial:      1,
		TotalCopied:  123.45,
		LastTradeAt:  time.Now(),
		LastResetDay: "2025-06-01",
	}}
	require.NoError(t, s.UpsertTraderStats(ctx, stats))

	// Second upsert replaces, not duplicates
	stats[0].TradesToday = 5
	require.NoError(t, s.UpsertTraderStats(ctx, stats))

	got, err := s.TraderStats(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].TradesToday)
	assert.InDelta(t, 123.45, got[0].TotalCopied, 0.001)
	assert.Equal(t, "2025-06-01", got[0].LastResetDay)
}

func TestFoldFill(t *testing.T) {
	tests := []struct {
		name                   string
		net, avg               float64
		side                   models.Side
		price, shares          float64
		wantNet, wantAvg       float64
	}{
		{"first buy sets avg", 0, 0, models.SideBuy, 0.50, 100, 100, 0.50},
		{"second buy moves avg", 100, 0.50, models.SideBuy, 0.70, 100, 200, 0.60},
		{"sell keeps avg", 200, 0.60, models.SideSell, 0.90, 50, 150, 0.60},
		{"oversell clamps", 50, 0.60, models.SideSell, 0.90, 80, 0, 0.60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, avg := foldFill(tt.net, tt.avg, tt.side, tt.price, tt.shares)
			assert.InDelta(t, tt.wantNet, net, 0.0001)
			assert.InDelta(t, tt.wantAvg, avg, 0.0001)
		})
	}
}

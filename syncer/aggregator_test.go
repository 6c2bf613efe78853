package syncer

import (
	"math"
	"testing"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func aggConfig() config.AggregationConfig {
	return config.AggregationConfig{
		Window:        800 * time.Millisecond,
		BypassShares:  4000,
		MaxPendingUSD: 500,
		MinTrades:     2,
	}
}

func whaleTrade(tokenID string, side models.Side, price, shares float64) models.WhaleTrade {
	return models.WhaleTrade{
		TxHash:        "0xabc",
		TraderAddress: "deadbeef",
		TraderLabel:   "Whale",
		ScalingRatio:  0.02,
		TokenID:       tokenID,
		Side:          side,
		Price:         price,
		Shares:        shares,
		Timestamp:     time.Now(),
	}
}

func TestBypassLargeTradeEmitsImmediately(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	out, emit := agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 5000), now)
	if !emit {
		t.Fatal("5000-share trade should bypass aggregation")
	}
	if out.TradeCount != 1 || !floatEquals(out.TotalShares, 5000, 0.001) {
		t.Errorf("bypass emit: count=%d shares=%.1f", out.TradeCount, out.TotalShares)
	}
	if agg.PendingCount() != 0 {
		t.Errorf("bypass should leave nothing pending, got %d", agg.PendingCount())
	}
}

func TestBypassDoesNotFlushPendingBatch(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 100), now)
	_, emit := agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.52, 5000), now.Add(10*time.Millisecond))
	if !emit {
		t.Fatal("bypass trade should emit")
	}
	if agg.PendingCount() != 1 {
		t.Errorf("pending batch should survive a bypass on the same key, got %d pending", agg.PendingCount())
	}
}

func TestWeightedAveragePrice(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.40, 100), now)
	agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.60, 300), now.Add(50*time.Millisecond))

	out := agg.FlushExpired(now.Add(time.Second))
	if len(out) != 1 {
		t.Fatalf("want 1 flushed batch, got %d", len(out))
	}
	// (0.40*100 + 0.60*300) / 400 = 0.55
	if !floatEquals(out[0].AvgPrice, 0.55, 0.0001) {
		t.Errorf("weighted avg: got %.4f, want 0.55", out[0].AvgPrice)
	}
	if !floatEquals(out[0].TotalShares, 400, 0.001) {
		t.Errorf("total shares: got %.1f, want 400", out[0].TotalShares)
	}
	if out[0].TradeCount != 2 {
		t.Errorf("trade count: got %d, want 2", out[0].TradeCount)
	}
}

func TestUSDCapFlushesImmediately(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	if _, emit := agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 600), now); emit {
		t.Fatal("$300 pending should not emit")
	}
	out, emit := agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 600), now.Add(10*time.Millisecond))
	if !emit {
		t.Fatal("crossing $500 pending should emit immediately")
	}
	if !floatEquals(out.TotalUSD, 600, 0.01) {
		t.Errorf("total USD: got %.2f, want 600", out.TotalUSD)
	}
	if agg.PendingCount() != 0 {
		t.Error("USD flush should clear the pending entry")
	}
}

func TestSeparateKeysPerTokenAndSide(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 100), now)
	agg.AddTrade(whaleTrade("tok1", models.SideSell, 0.50, 100), now)
	agg.AddTrade(whaleTrade("tok2", models.SideBuy, 0.50, 100), now)

	if agg.PendingCount() != 3 {
		t.Errorf("want 3 separate pending keys, got %d", agg.PendingCount())
	}
}

func TestFlushExpiredEmitsSingleTradeBatches(t *testing.T) {
	// A lone fill below min_trades still executes when its window
	// closes; nothing is stranded.
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 100), now)

	if out := agg.FlushExpired(now.Add(500 * time.Millisecond)); len(out) != 0 {
		t.Fatalf("window still open, got %d flushed", len(out))
	}
	out := agg.FlushExpired(now.Add(time.Second))
	if len(out) != 1 {
		t.Fatalf("want the single-trade batch emitted at expiry, got %d", len(out))
	}
	if out[0].TradeCount != 1 {
		t.Errorf("trade count: got %d, want 1", out[0].TradeCount)
	}
	if agg.PendingCount() != 0 {
		t.Error("flushed entry should be removed")
	}
}

func TestFlushAllDrainsEverything(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	agg.AddTrade(whaleTrade("tok1", models.SideBuy, 0.50, 100), now)
	agg.AddTrade(whaleTrade("tok2", models.SideSell, 0.30, 50), now)

	// Windows are nowhere near expiry; FlushAll drains regardless
	out := agg.FlushAll(now.Add(10 * time.Millisecond))
	if len(out) != 2 {
		t.Fatalf("want both pending batches, got %d", len(out))
	}
	if agg.PendingCount() != 0 {
		t.Error("FlushAll should leave nothing pending")
	}
}

func TestAggregatedTradeCarriesAdmissionContext(t *testing.T) {
	agg := NewTradeAggregator(aggConfig())
	now := time.Now()

	tr := whaleTrade("tok1", models.SideBuy, 0.50, 100)
	tr.ScalingRatio = 0.05
	agg.AddTrade(tr, now)

	out := agg.FlushExpired(now.Add(time.Second))
	if len(out) != 1 {
		t.Fatalf("want 1 batch, got %d", len(out))
	}
	if !floatEquals(out[0].ScalingRatio, 0.05, 0.0001) {
		t.Errorf("scaling ratio: got %.4f, want the admission-time 0.05", out[0].ScalingRatio)
	}
	if out[0].TraderAddress != "deadbeef" {
		t.Errorf("trader address: got %s", out[0].TraderAddress)
	}
}

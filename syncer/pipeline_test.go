package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/api"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/storage"
)

const testWhale = "00000000000000000000000000000000deadbeef"

func writeTraders(t *testing.T) *config.ReloadableTraders {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traders.json")
	data := `[{"address": "0x00000000000000000000000000000000DeadBeef", "label": "Whale", "min_shares": 10}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	traders, err := config.NewReloadableTraders(path)
	if err != nil {
		t.Fatal(err)
	}
	return traders
}

func testConfig() *config.Config {
	return &config.Config{
		GTDExpiryLive:    61 * time.Second,
		GTDExpiryDefault: 1800 * time.Second,
		FlushInterval:    10 * time.Millisecond,
		HeartbeatEvery:   time.Hour,
		ShutdownGrace:    2 * time.Second,
		RiskGuard: config.RiskGuardConfig{
			LargeTradeShares:   1500,
			ConsecutiveTrigger: 2,
			SequenceWindow:     30 * time.Second,
			MinDepthBeyondUSD:  200,
			TripDuration:       120 * time.Second,
		},
		Aggregation: config.AggregationConfig{
			Window:        50 * time.Millisecond,
			BypassShares:  4000,
			MaxPendingUSD: 500,
			MinTrades:     2,
		},
	}
}

func newTestPipeline(t *testing.T, mock *api.MockClient, sink *storage.MockStore) *Pipeline {
	t.Helper()
	return NewPipeline(testConfig(), PipelineDeps{
		Traders:   writeTraders(t),
		Submitter: mock,
		Book:      mock,
		Meta:      mock,
		Sink:      sink,
		Events:    make(chan models.WhaleTrade),
		Rand:      func() float64 { return 0.0 }, // dust draws always hit
	})
}

func deepBook(price string) *api.OrderBook {
	return &api.OrderBook{
		Asks: []api.OrderBookLevel{{Price: "0.60", Size: "5000"}, {Price: price, Size: "100"}},
		Bids: []api.OrderBookLevel{{Price: "0.40", Size: "5000"}},
	}
}

func pipelineTrade(side models.Side, price, shares float64) models.WhaleTrade {
	return models.WhaleTrade{
		TxHash:        "0x123",
		BlockNumber:   77,
		TraderAddress: testWhale,
		Side:          side,
		TokenID:       "tok1",
		Price:         price,
		Shares:        shares,
		Timestamp:     time.Now(),
	}
}

func TestAdmitBypassBuyExecutes(t *testing.T) {
	mock := api.NewMockClient()
	mock.Books["tok1"] = deepBook("0.51")
	sink := storage.NewMockStore()
	p := newTestPipeline(t, mock, sink)

	p.admit(context.Background(), pipelineTrade(models.SideBuy, 0.50, 5000))
	p.execWG.Wait()

	orders := mock.SubmittedOrders()
	if len(orders) != 1 {
		t.Fatalf("submitted orders = %d, want 1", len(orders))
	}
	// 5000 * 0.02 * 1.25 = 125 shares at 0.50 + 0.01 buffer
	if !floatEquals(orders[0].Size, 125, 0.001) {
		t.Errorf("order size = %.2f, want 125", orders[0].Size)
	}
	if !floatEquals(orders[0].Price, 0.51, 0.0001) {
		t.Errorf("order price = %.3f, want 0.51", orders[0].Price)
	}

	recs := sink.RecordedTrades()
	if len(recs) != 1 {
		t.Fatalf("trade records = %d, want 1", len(recs))
	}
	if recs[0].Status != models.StatusSuccess {
		t.Errorf("record status = %s, want SUCCESS", recs[0].Status)
	}
	if recs[0].TraderAddress != testWhale {
		t.Errorf("record trader = %s", recs[0].TraderAddress)
	}

	// Fill landed in the position book
	pos, held, _ := sink.Position(context.Background(), "tok1")
	if !held || !floatEquals(pos.NetShares, 125, 0.001) {
		t.Errorf("position = %.2f held=%v, want 125 shares", pos.NetShares, held)
	}
}

func TestSellWithoutPositionSkipped(t *testing.T) {
	mock := api.NewMockClient()
	sink := storage.NewMockStore()
	p := newTestPipeline(t, mock, sink)

	p.admit(context.Background(), pipelineTrade(models.SideSell, 0.50, 5000))
	p.execWG.Wait()

	if len(mock.SubmittedOrders()) != 0 {
		t.Error("no order should be submitted without a position")
	}
	recs := sink.RecordedTrades()
	if len(recs) != 1 || recs[0].Status != models.StatusSkipped {
		t.Fatalf("want one SKIPPED record, got %+v", recs)
	}
	if recs[0].SkipReason != models.ErrNoPosition.Error() {
		t.Errorf("skip reason = %q", recs[0].SkipReason)
	}
}

func TestSellWithPositionExecutes(t *testing.T) {
	mock := api.NewMockClient()
	mock.Books["tok1"] = deepBook("0.51")
	sink := storage.NewMockStore()
	sink.PosMap["tok1"] = models.Position{TokenID: "tok1", NetShares: 500, AvgEntryPrice: 0.45}
	p := newTestPipeline(t, mock, sink)

	p.admit(context.Background(), pipelineTrade(models.SideSell, 0.50, 5000))
	p.execWG.Wait()

	orders := mock.SubmittedOrders()
	if len(orders) != 1 {
		t.Fatalf("submitted orders = %d, want 1", len(orders))
	}
	if orders[0].OrderType != models.OrderGTD {
		t.Errorf("sell order type = %s, want GTD", orders[0].OrderType)
	}
}

func TestConsecutiveLargeTradesBlocked(t *testing.T) {
	mock := api.NewMockClient()
	mock.Books["tok1"] = deepBook("0.51")
	sink := storage.NewMockStore()
	p := newTestPipeline(t, mock, sink)

	ctx := context.Background()
	// Both bypass aggregation (>=4000) and are large (>=1500); the
	// second one inside the sequence window trips the guard.
	p.admit(ctx, pipelineTrade(models.SideBuy, 0.50, 5000))
	p.admit(ctx, pipelineTrade(models.SideBuy, 0.50, 5000))
	p.execWG.Wait()

	if got := len(mock.SubmittedOrders()); got != 1 {
		t.Errorf("submitted orders = %d, want only the first", got)
	}
	var blocked int
	for _, r := range sink.RecordedTrades() {
		if r.Status == models.StatusSkipped {
			blocked++
		}
	}
	if blocked != 1 {
		t.Errorf("skipped records = %d, want 1 risk block", blocked)
	}
}

func TestDepthQueryFailureBlocksAndTrips(t *testing.T) {
	mock := api.NewMockClient() // no scripted book: depth queries fail
	sink := storage.NewMockStore()
	p := newTestPipeline(t, mock, sink)

	ctx := context.Background()
	p.admit(ctx, pipelineTrade(models.SideBuy, 0.50, 5000))
	p.execWG.Wait()

	if len(mock.SubmittedOrders()) != 0 {
		t.Error("unreadable book must not execute")
	}
	if !p.guard.Tripped(time.Now()) {
		t.Error("depth query failure should trip the guard")
	}
}

func TestUnknownTraderIgnored(t *testing.T) {
	mock := api.NewMockClient()
	sink := storage.NewMockStore()
	p := newTestPipeline(t, mock, sink)

	tr := pipelineTrade(models.SideBuy, 0.50, 5000)
	tr.TraderAddress = "0000000000000000000000000000000000000bad"
	p.admit(context.Background(), tr)
	p.execWG.Wait()

	if len(sink.RecordedTrades()) != 0 || len(mock.SubmittedOrders()) != 0 {
		t.Error("unconfigured trader should produce nothing")
	}
	if p.Metrics().EventsUnknown != 1 {
		t.Errorf("unknown counter = %d, want 1", p.Metrics().EventsUnknown)
	}
}

func TestBelowMinSharesSkipped(t *testing.T) {
	mock := api.NewMockClient()
	sink := storage.NewMockStore()
	p := newTestPipeline(t, mock, sink)

	p.admit(context.Background(), pipelineTrade(models.SideBuy, 0.50, 5))
	p.execWG.Wait()

	recs := sink.RecordedTrades()
	if len(recs) != 1 || recs[0].Status != models.StatusSkipped {
		t.Fatalf("want one SKIPPED record for whale dust, got %d records", len(recs))
	}
}

func TestStopDrainsPendingAggregations(t *testing.T) {
	mock := api.NewMockClient()
	mock.Books["tok1"] = deepBook("0.51")
	sink := storage.NewMockStore()

	events := make(chan models.WhaleTrade, 4)
	cfg := testConfig()
	// Window far beyond the test horizon: only Stop may emit the batch
	cfg.Aggregation.Window = time.Hour
	p := NewPipeline(cfg, PipelineDeps{
		Traders:   writeTraders(t),
		Submitter: mock,
		Book:      mock,
		Meta:      mock,
		Sink:      sink,
		Events:    events,
		Rand:      func() float64 { return 0.0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// Two small fills on the same key stay pending in their window
	events <- pipelineTrade(models.SideBuy, 0.40, 100)
	events <- pipelineTrade(models.SideBuy, 0.60, 300)

	// Give the intake loop time to admit both, then stop before any
	// long window business; Stop must still emit the batch.
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	recs := sink.RecordedTrades()
	if len(recs) != 1 {
		t.Fatalf("drained records = %d, want the flushed batch", len(recs))
	}
	if recs[0].AggCount != 2 {
		t.Errorf("aggregation count = %d, want 2", recs[0].AggCount)
	}
	if !floatEquals(recs[0].WhalePrice, 0.55, 0.001) {
		t.Errorf("whale avg price = %.3f, want 0.55", recs[0].WhalePrice)
	}
}

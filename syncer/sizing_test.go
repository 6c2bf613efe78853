package syncer

import (
	"testing"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		shares      float64
		wantBuffer  float64
		wantMult    float64
		wantRetries int
		wantChase   bool
	}{
		{999, 0.00, 1.0, 4, false},
		{1000, 0.00, 1.0, 4, false},
		{1999, 0.00, 1.0, 4, false},
		{2000, 0.01, 1.0, 4, false},
		{3999, 0.01, 1.0, 4, false},
		{4000, 0.01, 1.25, 5, true},
		{10000, 0.01, 1.25, 5, true},
	}

	for _, tt := range tests {
		tier := TierFor(tt.shares)
		if !floatEquals(tier.PriceBuffer, tt.wantBuffer, 0.0001) {
			t.Errorf("TierFor(%.0f).PriceBuffer = %.2f, want %.2f", tt.shares, tier.PriceBuffer, tt.wantBuffer)
		}
		if !floatEquals(tier.SizeMultiplier, tt.wantMult, 0.0001) {
			t.Errorf("TierFor(%.0f).SizeMultiplier = %.2f, want %.2f", tt.shares, tier.SizeMultiplier, tt.wantMult)
		}
		if tier.MaxAttempts != tt.wantRetries {
			t.Errorf("TierFor(%.0f).MaxAttempts = %d, want %d", tt.shares, tier.MaxAttempts, tt.wantRetries)
		}
		if tier.ChaseFirst != tt.wantChase {
			t.Errorf("TierFor(%.0f).ChaseFirst = %v, want %v", tt.shares, tier.ChaseFirst, tt.wantChase)
		}
	}
}

func TestClampPrice(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.005, 0.01},
		{0.01, 0.01},
		{0.50, 0.50},
		{0.99, 0.99},
		{0.995, 0.99},
		{1.20, 0.99},
		{-0.1, 0.01},
	}
	for _, tt := range tests {
		if got := ClampPrice(tt.in); !floatEquals(got, tt.want, 0.0001) {
			t.Errorf("ClampPrice(%.3f) = %.3f, want %.3f", tt.in, got, tt.want)
		}
	}
}

func TestLimitPriceDirection(t *testing.T) {
	// Buy buffers push up, sell buffers push down
	if got := LimitPrice(0.50, 0.01, models.SideBuy); !floatEquals(got, 0.51, 0.0001) {
		t.Errorf("buy limit: got %.3f, want 0.51", got)
	}
	if got := LimitPrice(0.50, 0.01, models.SideSell); !floatEquals(got, 0.49, 0.0001) {
		t.Errorf("sell limit: got %.3f, want 0.49", got)
	}
	// Clamped near the boundary
	if got := LimitPrice(0.985, 0.01, models.SideBuy); !floatEquals(got, 0.99, 0.0001) {
		t.Errorf("buy limit near cap: got %.3f, want 0.99", got)
	}
}

func alwaysHit() float64  { return 0.0 }
func alwaysMiss() float64 { return 0.999999 }

func TestSafeSizeScaled(t *testing.T) {
	// 10000 shares * 0.02 = 200, well above the floor
	res := SafeSize(10000, 0.50, 0.02, 1.0, alwaysMiss)
	if res.Kind != models.SizeScaled {
		t.Fatalf("kind = %s, want SCALED", res.Kind)
	}
	if !floatEquals(res.Shares, 200, 0.0001) {
		t.Errorf("shares = %.4f, want exactly 200", res.Shares)
	}
}

func TestSafeSizeMultiplierApplies(t *testing.T) {
	res := SafeSize(10000, 0.50, 0.02, 1.25, alwaysMiss)
	if !floatEquals(res.Shares, 250, 0.0001) {
		t.Errorf("shares with 1.25x = %.4f, want 250", res.Shares)
	}
}

func TestSafeSizeDustZone(t *testing.T) {
	// 100 * 0.02 = 2 shares target, floor is max(1.01/0.50, 5) = 5
	hit := SafeSize(100, 0.50, 0.02, 1.0, alwaysHit)
	if hit.Kind != models.SizeProbHit {
		t.Fatalf("hit draw kind = %s, want PROB_HIT", hit.Kind)
	}
	if !floatEquals(hit.Shares, 5, 0.0001) {
		t.Errorf("hit draw shares = %.4f, want the floor 5", hit.Shares)
	}

	miss := SafeSize(100, 0.50, 0.02, 1.0, alwaysMiss)
	if miss.Kind != models.SizeProbSkip {
		t.Fatalf("miss draw kind = %s, want PROB_SKIP", miss.Kind)
	}
	if miss.Shares != 0 {
		t.Errorf("miss draw shares = %.4f, want 0", miss.Shares)
	}
}

func TestSafeSizeFloorByCashAtLowPrice(t *testing.T) {
	// At $0.10 the cash floor 1.01/0.10 = 10.1 beats the 5-share floor
	res := SafeSize(100, 0.10, 0.02, 1.0, alwaysHit)
	if !floatEquals(res.Shares, 10.1, 0.0001) {
		t.Errorf("low-price floor = %.4f, want 10.1", res.Shares)
	}
}

func TestSafeSizeDeterministicWithInjectedRand(t *testing.T) {
	// p = target/floor = 2/5 = 0.4: draws below execute, at or above skip
	if res := SafeSize(100, 0.50, 0.02, 1.0, func() float64 { return 0.39 }); res.Kind != models.SizeProbHit {
		t.Errorf("draw 0.39 against p=0.4: got %s, want PROB_HIT", res.Kind)
	}
	if res := SafeSize(100, 0.50, 0.02, 1.0, func() float64 { return 0.41 }); res.Kind != models.SizeProbSkip {
		t.Errorf("draw 0.41 against p=0.4: got %s, want PROB_SKIP", res.Kind)
	}
}

func aggTrade(side models.Side, price, shares float64) models.AggregatedTrade {
	return models.AggregatedTrade{
		TraderAddress: "deadbeef",
		ScalingRatio:  0.02,
		TokenID:       "tok1",
		Side:          side,
		AvgPrice:      price,
		TotalShares:   shares,
		TotalUSD:      price * shares,
		TradeCount:    1,
	}
}

func TestBuildOrderBuy(t *testing.T) {
	expiry := time.Now().Add(30 * time.Minute)
	order, size := BuildOrder(aggTrade(models.SideBuy, 0.50, 5000), false, false, expiry, alwaysMiss)

	if size.Kind != models.SizeScaled {
		t.Fatalf("size kind = %s", size.Kind)
	}
	if order.OrderType != models.OrderFAK {
		t.Errorf("buy starts as %s, want FAK", order.OrderType)
	}
	if !floatEquals(order.Price, 0.51, 0.0001) {
		t.Errorf("limit = %.3f, want 0.51 (0.50 + tier buffer)", order.Price)
	}
	if !floatEquals(order.MaxPrice, 0.52, 0.0001) {
		t.Errorf("chase ceiling = %.3f, want 0.52", order.MaxPrice)
	}
	if !floatEquals(order.Size, 125, 0.0001) {
		t.Errorf("size = %.2f, want 5000*0.02*1.25 = 125", order.Size)
	}
	if order.MaxAttempts != 5 || !order.ChaseFirst {
		t.Errorf("attempts=%d chase=%v, want 5/true", order.MaxAttempts, order.ChaseFirst)
	}
}

func TestBuildOrderSellAlwaysGTD(t *testing.T) {
	expiry := time.Now().Add(61 * time.Second)
	order, _ := BuildOrder(aggTrade(models.SideSell, 0.50, 5000), true, true, expiry, alwaysMiss)

	if order.OrderType != models.OrderGTD {
		t.Errorf("sell order type = %s, want GTD", order.OrderType)
	}
	// Sells take no buffer, sports or not
	if !floatEquals(order.Price, 0.50, 0.0001) {
		t.Errorf("sell limit = %.3f, want the whale's 0.50", order.Price)
	}
	if order.MaxAttempts != 1 {
		t.Errorf("sell attempts = %d, want 1", order.MaxAttempts)
	}
	if !order.ExpiresAt.Equal(expiry) {
		t.Errorf("sell expiry = %v, want %v", order.ExpiresAt, expiry)
	}
}

func TestBuildOrderSportsBuffer(t *testing.T) {
	expiry := time.Now().Add(61 * time.Second)
	order, _ := BuildOrder(aggTrade(models.SideBuy, 0.50, 5000), true, true, expiry, alwaysMiss)

	// 0.50 + 0.01 tier + 0.01 sports
	if !floatEquals(order.Price, 0.52, 0.0001) {
		t.Errorf("sports buy limit = %.3f, want 0.52", order.Price)
	}
}

func TestBuildOrderSmallTradeFlag(t *testing.T) {
	expiry := time.Now().Add(30 * time.Minute)
	small, _ := BuildOrder(aggTrade(models.SideBuy, 0.50, 30000), false, false, expiry, alwaysMiss)
	if small.SmallTrade {
		t.Error("30000-share whale should not be small")
	}
	// 900 whale shares scale to 18, above floor, still small-trade
	tiny, size := BuildOrder(aggTrade(models.SideBuy, 0.50, 900), false, false, expiry, alwaysMiss)
	if size.Kind != models.SizeScaled {
		t.Fatalf("900*0.02=18 shares should clear the floor, got %s", size.Kind)
	}
	if !tiny.SmallTrade {
		t.Error("900-share whale should flag small-trade backoff")
	}
}

func TestBuildOrderProbSkipReturnsNoOrder(t *testing.T) {
	expiry := time.Now().Add(30 * time.Minute)
	_, size := BuildOrder(aggTrade(models.SideBuy, 0.50, 100), false, false, expiry, alwaysMiss)
	if size.Kind != models.SizeProbSkip {
		t.Fatalf("dust miss: got %s, want PROB_SKIP", size.Kind)
	}
}

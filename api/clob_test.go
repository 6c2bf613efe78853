package api

import (
	"math"
	"testing"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestDepthBeyond(t *testing.T) {
	asks := []OrderBookLevel{
		{Price: "0.50", Size: "100"},
		{Price: "0.55", Size: "200"},
		{Price: "0.60", Size: "300"},
		{Price: "bad", Size: "10"}, // unparseable levels are skipped
	}
	bids := []OrderBookLevel{
		{Price: "0.45", Size: "100"},
		{Price: "0.40", Size: "200"},
	}

	// Buy side: asks strictly above 0.50
	got := DepthBeyond(asks, models.SideBuy, 0.50)
	want := 0.55*200 + 0.60*300
	if !floatEquals(got, want, 0.001) {
		t.Errorf("buy depth beyond 0.50 = %.2f, want %.2f", got, want)
	}

	// Sell side: bids strictly below 0.45
	got = DepthBeyond(bids, models.SideSell, 0.45)
	if !floatEquals(got, 0.40*200, 0.001) {
		t.Errorf("sell depth beyond 0.45 = %.2f, want %.2f", got, 0.40*200)
	}

	// Nothing beyond the worst level
	if got := DepthBeyond(asks, models.SideBuy, 0.99); got != 0 {
		t.Errorf("depth beyond 0.99 = %.2f, want 0", got)
	}
}

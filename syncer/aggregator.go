package syncer

import (
	"sync"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// aggKey identifies one pending batch.
type aggKey struct {
	tokenID string
	side    models.Side
}

// pendingAgg accumulates whale fills for one (token, side) window.
// Only running sums are kept, never the contributing trades.
type pendingAgg struct {
	firstTxHash   string
	blockNumber   uint64
	traderAddress string
	traderLabel   string
	scalingRatio  float64
	totalShares   float64
	totalUSD      float64
	priceNum      float64 // sum of price*shares, numerator of weighted avg
	count         int
	windowStart   time.Time
}

func (p *pendingAgg) emit(key aggKey, now time.Time) models.AggregatedTrade {
	avg := 0.0
	if p.totalShares > 0 {
		avg = p.priceNum / p.totalShares
	}
	return models.AggregatedTrade{
		TxHash:        p.firstTxHash,
		BlockNumber:   p.blockNumber,
		TraderAddress: p.traderAddress,
		TraderLabel:   p.traderLabel,
		ScalingRatio:  p.scalingRatio,
		TokenID:       key.tokenID,
		Side:          key.side,
		AvgPrice:      avg,
		TotalShares:   p.totalShares,
		TotalUSD:      p.totalUSD,
		TradeCount:    p.count,
		WindowMS:      now.Sub(p.windowStart).Milliseconds(),
		FirstSeen:     p.windowStart,
	}
}

// TradeAggregator batches rapid-fire whale fills on the same token and
// side into a single intent with a share-weighted average price.
type TradeAggregator struct {
	mu      sync.Mutex
	cfg     config.AggregationConfig
	pending map[aggKey]*pendingAgg
}

// NewTradeAggregator builds an aggregator with the given tuning.
func NewTradeAggregator(cfg config.AggregationConfig) *TradeAggregator {
	return &TradeAggregator{
		cfg:     cfg,
		pending: make(map[aggKey]*pendingAgg),
	}
}

// AddTrade feeds one whale fill in. It returns an AggregatedTrade when
// the fill should execute now: either it is large enough to bypass
// batching entirely, or it pushed the pending notional over the USD
// cap. Otherwise the fill is held for the window.
func (a *TradeAggregator) AddTrade(t models.WhaleTrade, now time.Time) (models.AggregatedTrade, bool) {
	// Bypass trades go straight through without disturbing any batch
	// already pending on the same key.
	if t.Shares >= a.cfg.BypassShares {
		return models.AggregatedTrade{
			TxHash:        t.TxHash,
			BlockNumber:   t.BlockNumber,
			TraderAddress: t.TraderAddress,
			TraderLabel:   t.TraderLabel,
			ScalingRatio:  t.ScalingRatio,
			TokenID:       t.TokenID,
			Side:          t.Side,
			AvgPrice:      t.Price,
			TotalShares:   t.Shares,
			TotalUSD:      t.USDValue(),
			TradeCount:    1,
			WindowMS:      0,
			FirstSeen:     now,
		}, true
	}

	key := aggKey{tokenID: t.TokenID, side: t.Side}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[key]
	if !ok {
		p = &pendingAgg{
			firstTxHash:   t.TxHash,
			blockNumber:   t.BlockNumber,
			traderAddress: t.TraderAddress,
			traderLabel:   t.TraderLabel,
			scalingRatio:  t.ScalingRatio,
			windowStart:   now,
		}
		a.pending[key] = p
	}
	p.totalShares += t.Shares
	p.totalUSD += t.USDValue()
	p.priceNum += t.Price * t.Shares
	p.count++

	if p.totalUSD >= a.cfg.MaxPendingUSD {
		delete(a.pending, key)
		return p.emit(key, now), true
	}
	return models.AggregatedTrade{}, false
}

// FlushExpired emits every batch whose window has elapsed, regardless
// of how many fills it collected. A lone fill still executes once its
// window closes.
func (a *TradeAggregator) FlushExpired(now time.Time) []models.AggregatedTrade {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.AggregatedTrade
	for key, p := range a.pending {
		if now.Sub(p.windowStart) >= a.cfg.Window {
			out = append(out, p.emit(key, now))
			delete(a.pending, key)
		}
	}
	return out
}

// FlushAll drains every pending batch unconditionally. Called on
// shutdown so admitted trades are never dropped.
func (a *TradeAggregator) FlushAll(now time.Time) []models.AggregatedTrade {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.AggregatedTrade, 0, len(a.pending))
	for key, p := range a.pending {
		out = append(out, p.emit(key, now))
		delete(a.pending, key)
	}
	return out
}

// PendingCount reports how many batches are currently open.
func (a *TradeAggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

package syncer

import (
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// Price bounds enforced on every order we place.
const (
	minPrice = 0.01
	maxPrice = 0.99
)

// sportsPriceBuffer widens the limit on fast-moving live game markets.
const sportsPriceBuffer = 0.01

// smallTradeShares marks whale trades that get backoff between
// resubmit attempts instead of immediate retries.
const smallTradeShares = 1000

// ExecutionTier groups the aggression parameters chosen from the
// whale's share count.
type ExecutionTier struct {
	PriceBuffer    float64
	SizeMultiplier float64
	MaxAttempts    int
	ChaseFirst     bool
}

// TierFor selects execution parameters from whale size. Bigger whale
// trades get wider limits, a size boost, and more aggressive chasing.
func TierFor(whaleShares float64) ExecutionTier {
	switch {
	case whaleShares >= 4000:
		return ExecutionTier{PriceBuffer: 0.01, SizeMultiplier: 1.25, MaxAttempts: 5, ChaseFirst: true}
	case whaleShares >= 2000:
		return ExecutionTier{PriceBuffer: 0.01, SizeMultiplier: 1.0, MaxAttempts: 4}
	case whaleShares >= 1000:
		return ExecutionTier{PriceBuffer: 0.0, SizeMultiplier: 1.0, MaxAttempts: 4}
	default:
		return ExecutionTier{PriceBuffer: 0.0, SizeMultiplier: 1.0, MaxAttempts: 4}
	}
}

// ClampPrice bounds a price to the exchange's valid range.
func ClampPrice(p float64) float64 {
	if p < minPrice {
		return minPrice
	}
	if p > maxPrice {
		return maxPrice
	}
	return p
}

// LimitPrice applies the buffer in the aggressive direction for the
// side and clamps.
func LimitPrice(whalePrice, buffer float64, side models.Side) float64 {
	if side == models.SideBuy {
		return ClampPrice(whalePrice + buffer)
	}
	return ClampPrice(whalePrice - buffer)
}

// SizeResult is the outcome of safe-size computation.
type SizeResult struct {
	Shares float64
	Kind   models.SizeKind
}

// minViableShares is the exchange floor for a given price: enough
// shares to clear both the minimum notional and the minimum count.
func minViableShares(price float64) float64 {
	byCash := config.MinCashValue / price
	if byCash > config.MinShareCount {
		return byCash
	}
	return config.MinShareCount
}

// SafeSize scales the whale's size down and handles the dust zone
// below the exchange minimums. Sub-floor targets execute at the floor
// with probability target/floor so that expected exposure matches the
// scaled intent; rnd supplies the uniform draw in [0, 1).
func SafeSize(whaleShares, price, scalingRatio, multiplier float64, rnd func() float64) SizeResult {
	target := whaleShares * scalingRatio * multiplier
	floor := minViableShares(price)

	if target >= floor {
		return SizeResult{Shares: target, Kind: models.SizeScaled}
	}

	p := target / floor
	if rnd() < p {
		return SizeResult{Shares: floor, Kind: models.SizeProbHit}
	}
	return SizeResult{Shares: 0, Kind: models.SizeProbSkip}
}

// BuildOrder turns an aggregated whale trade into a fully priced and
// sized order, or reports a skip (dust draw declined). Sells always
// rest as GTD at the whale's price; buys start as FAK with the tier's
// buffer and chase budget.
func BuildOrder(t models.AggregatedTrade, isLive, isSports bool, gtdExpiry time.Time, rnd func() float64) (models.IntendedOrder, SizeResult) {
	tier := TierFor(t.TotalShares)

	buffer := tier.PriceBuffer
	if isSports {
		buffer += sportsPriceBuffer
	}
	if t.Side == models.SideSell {
		buffer = 0
	}

	limit := LimitPrice(t.AvgPrice, buffer, t.Side)
	chaseMax := limit
	if t.Side == models.SideBuy {
		chaseMax = ClampPrice(limit + config.MaxResubmitPriceBuffer)
	}

	scaling := t.ScalingRatio
	if scaling <= 0 {
		scaling = config.DefaultScalingRatio
	}
	size := SafeSize(t.TotalShares, limit, scaling, tier.SizeMultiplier, rnd)
	if size.Shares == 0 {
		return models.IntendedOrder{}, size
	}

	order := models.IntendedOrder{
		TokenID:     t.TokenID,
		Side:        t.Side,
		Price:       limit,
		MaxPrice:    chaseMax,
		Size:        size.Shares,
		OrderType:   models.OrderFAK,
		ExpiresAt:   gtdExpiry, // used if the final attempt rests as GTD
		MaxAttempts: tier.MaxAttempts,
		ChaseFirst:  tier.ChaseFirst,
		SmallTrade:  t.TotalShares < smallTradeShares,
		IsLive:      isLive,
		SizeKind:    size.Kind,
	}
	if t.Side == models.SideSell {
		order.OrderType = models.OrderGTD
		order.MaxAttempts = 1
		order.ChaseFirst = false
	}
	return order, size
}

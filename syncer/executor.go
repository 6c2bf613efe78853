package syncer

import (
	"context"
	"log"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// OrderSubmitter places one order and reports the filled share count.
// FAK orders report the immediate fill; GTD orders report whatever
// matched on placement (the final attempt crosses the spread, so a
// resting remainder is unusual).
type OrderSubmitter interface {
	Submit(ctx context.Context, order models.IntendedOrder) (float64, error)
}

// BookQuerier reads the live order book.
type BookQuerier interface {
	// BestAsk returns the lowest resting ask price.
	BestAsk(ctx context.Context, tokenID string) (float64, error)
	// DepthBeyondUSD sums resting notional at prices beyond the given
	// level on the side we would take from.
	DepthBeyondUSD(ctx context.Context, tokenID string, side models.Side, price float64) (float64, error)
}

// successFillPct is the cumulative fill fraction that counts as a
// full success.
const successFillPct = 0.90

// smallTradeBackoffBase is the first inter-attempt delay for small
// trades. It doubles each attempt.
const smallTradeBackoffBase = 50 * time.Millisecond

// ExecResult is the terminal outcome of one order's execution chain.
type ExecResult struct {
	Requested  float64
	Filled     float64
	FinalPrice float64
	Attempts   int
	Status     models.TradeStatus
	LastErr    error
}

// FillPct is the cumulative fill as a fraction of the request.
func (r ExecResult) FillPct() float64 {
	if r.Requested <= 0 {
		return 0
	}
	return r.Filled / r.Requested
}

// Executor drives an IntendedOrder through its retry chain to a
// terminal state. It is stateless; each Run call is independent.
type Executor struct {
	submitter OrderSubmitter
	book      BookQuerier
	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor over the given collaborators.
func NewExecutor(submitter OrderSubmitter, book BookQuerier) *Executor {
	return &Executor{
		submitter: submitter,
		book:      book,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the order chain. Buys submit FAK attempts at the
// working price, bump it once for chase tiers, and finish with a GTD
// priced at min(max price, best ask). Sells are a single GTD
// placement. The returned result is always terminal.
func (e *Executor) Run(ctx context.Context, order models.IntendedOrder) ExecResult {
	res := ExecResult{Requested: order.Size, FinalPrice: order.Price}

	if order.OrderType == models.OrderGTD {
		// Single resting placement (sells).
		filled, err := e.submitter.Submit(ctx, order)
		res.Attempts = 1
		if err != nil {
			res.Status = models.StatusFailed
			res.LastErr = &models.SubmissionError{Attempt: 1, Err: err}
			return res
		}
		res.Filled = filled
		res.Status = classify(res)
		return res
	}

	price := order.Price
	remaining := order.Size

	for attempt := 1; attempt <= order.MaxAttempts; attempt++ {
		res.Attempts = attempt
		cur := order
		cur.Size = remaining
		cur.Price = price

		final := attempt == order.MaxAttempts
		if final {
			cur.OrderType = models.OrderGTD
			cur.Price = e.finalPrice(ctx, order, price)
		}
		res.FinalPrice = cur.Price

		filled, err := e.submitter.Submit(ctx, cur)
		if err != nil {
			res.LastErr = &models.SubmissionError{Attempt: attempt, Err: err}
			log.Printf("[Executor] %s %s attempt %d/%d failed: %v",
				order.Side, shortToken(order.TokenID), attempt, order.MaxAttempts, err)
		} else {
			res.Filled += filled
			remaining -= filled
			if remaining <= 0 {
				break
			}
		}

		if final {
			break
		}

		// Chase tiers pay up once after the first miss.
		if order.ChaseFirst && attempt == 1 {
			bumped := price + config.ResubmitPriceIncrement
			if bumped > order.MaxPrice {
				bumped = order.MaxPrice
			}
			price = bumped
		}

		if order.SmallTrade {
			delay := smallTradeBackoffBase << (attempt - 1)
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		} else if ctx.Err() != nil {
			break
		}
	}

	res.Status = classify(res)
	return res
}

// finalPrice crosses the spread on the last attempt: the better of
// our chase ceiling and the current best ask. A failed book read
// skips the spread-crossing and keeps the working price.
func (e *Executor) finalPrice(ctx context.Context, order models.IntendedOrder, working float64) float64 {
	ask, err := e.book.BestAsk(ctx, order.TokenID)
	if err != nil || ask <= 0 {
		return working
	}
	if ask < order.MaxPrice {
		return ClampPrice(ask)
	}
	return order.MaxPrice
}

func classify(r ExecResult) models.TradeStatus {
	switch {
	case r.FillPct() >= successFillPct:
		return models.StatusSuccess
	case r.Filled > 0:
		return models.StatusPartial
	default:
		return models.StatusFailed
	}
}

func shortToken(tokenID string) string {
	if len(tokenID) <= 10 {
		return tokenID
	}
	return tokenID[:10] + "..."
}

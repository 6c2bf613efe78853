package syncer

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
)

// Decision is the risk guard's verdict on a whale trade.
type Decision int

const (
	// DecisionAllow admits the trade.
	DecisionAllow Decision = iota
	// DecisionBlock refuses the trade.
	DecisionBlock
	// DecisionFetchBook asks the caller to fetch order book depth and
	// call CheckWithBook. The guard never does I/O itself.
	DecisionFetchBook
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "ALLOW"
	case DecisionBlock:
		return "BLOCK"
	case DecisionFetchBook:
		return "FETCH_BOOK"
	}
	return "UNKNOWN"
}

// Evaluation is one guard verdict with its reason.
type Evaluation struct {
	Decision         Decision
	Reason           string
	ConsecutiveLarge int
}

// RiskGuard is a circuit breaker over bursts of large whale trades and
// thin order books. A trip blocks all trading until it expires.
type RiskGuard struct {
	mu          sync.Mutex
	cfg         config.RiskGuardConfig
	largeTrades []time.Time // recent large-trade timestamps, oldest first
	trippedAt   time.Time
	tripReason  string
	tripped     bool
}

// NewRiskGuard builds a guard with the given tuning.
func NewRiskGuard(cfg config.RiskGuardConfig) *RiskGuard {
	return &RiskGuard{cfg: cfg}
}

// CheckFast runs the trip-status and large-trade-sequence layers. It
// never blocks on I/O; when the book matters it returns
// DecisionFetchBook and the caller follows up with CheckWithBook.
func (g *RiskGuard) CheckFast(shares float64, now time.Time) Evaluation {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ev, blocked := g.checkTripLocked(now); blocked {
		return ev
	}

	if shares < g.cfg.LargeTradeShares {
		return Evaluation{Decision: DecisionAllow}
	}

	g.evictLocked(now)
	g.largeTrades = append(g.largeTrades, now)
	count := len(g.largeTrades)

	if count >= g.cfg.ConsecutiveTrigger {
		reason := fmt.Sprintf("%d large trades within %s", count, g.cfg.SequenceWindow)
		g.tripLocked(now, reason)
		return Evaluation{Decision: DecisionBlock, Reason: reason, ConsecutiveLarge: count}
	}

	return Evaluation{Decision: DecisionFetchBook, ConsecutiveLarge: count}
}

// CheckWithBook runs the depth layer with the depth the caller
// fetched. Thin books trip the guard.
func (g *RiskGuard) CheckWithBook(depthUSD float64, now time.Time) Evaluation {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ev, blocked := g.checkTripLocked(now); blocked {
		return ev
	}

	if depthUSD < g.cfg.MinDepthBeyondUSD {
		reason := fmt.Sprintf("book depth $%.2f below $%.2f minimum", depthUSD, g.cfg.MinDepthBeyondUSD)
		g.tripLocked(now, reason)
		return Evaluation{Decision: DecisionBlock, Reason: reason}
	}
	return Evaluation{Decision: DecisionAllow}
}

// Trip forces the breaker open. Used when a depth query fails: an
// unreadable book is treated like a thin one.
func (g *RiskGuard) Trip(now time.Time, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripLocked(now, reason)
}

// Tripped reports whether the breaker is currently open.
func (g *RiskGuard) Tripped(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, blocked := g.checkTripLocked(now)
	return blocked
}

func (g *RiskGuard) tripLocked(now time.Time, reason string) {
	g.tripped = true
	g.trippedAt = now
	g.tripReason = reason
	g.largeTrades = g.largeTrades[:0]
	log.Printf("[RiskGuard] TRIPPED for %s: %s", g.cfg.TripDuration, reason)
}

// checkTripLocked returns a Block evaluation while a trip is active,
// clearing the trip once it has expired.
func (g *RiskGuard) checkTripLocked(now time.Time) (Evaluation, bool) {
	if !g.tripped {
		return Evaluation{}, false
	}
	remaining := g.cfg.TripDuration - now.Sub(g.trippedAt)
	if remaining > 0 {
		return Evaluation{
			Decision: DecisionBlock,
			Reason:   fmt.Sprintf("guard tripped (%s), %.0fs remaining", g.tripReason, remaining.Seconds()),
		}, true
	}
	g.tripped = false
	g.tripReason = ""
	log.Printf("[RiskGuard] trip expired, resuming")
	return Evaluation{}, false
}

func (g *RiskGuard) evictLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.SequenceWindow)
	i := 0
	for i < len(g.largeTrades) && !g.largeTrades[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.largeTrades = append(g.largeTrades[:0], g.largeTrades[i:]...)
	}
}

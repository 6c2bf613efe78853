package models

import (
	"fmt"
	"time"
)

// Side is the direction of a trade as seen from the whale.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes immediate-or-cancel from resting orders.
type OrderType string

const (
	// OrderFAK fills whatever is available and cancels the rest.
	OrderFAK OrderType = "FAK"
	// OrderGTD rests on the book until its expiry timestamp.
	OrderGTD OrderType = "GTD"
)

// WhaleTrade is a single parsed fill by a followed trader.
type WhaleTrade struct {
	TxHash        string    `json:"tx_hash"`
	BlockNumber   uint64    `json:"block_number"`
	TraderAddress string    `json:"trader_address"` // lowercase, no 0x prefix
	TraderLabel   string    `json:"trader_label"`
	ScalingRatio  float64   `json:"scaling_ratio"` // resolved at admission time
	TokenID       string    `json:"token_id"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Shares        float64   `json:"shares"`
	Timestamp     time.Time `json:"timestamp"`
}

// USDValue is the notional of the whale's fill.
func (t WhaleTrade) USDValue() float64 {
	return t.Price * t.Shares
}

// AggregatedTrade is one or more whale fills collapsed into a single
// intent with a share-weighted average price.
type AggregatedTrade struct {
	TxHash        string
	BlockNumber   uint64
	TraderAddress string
	TraderLabel   string
	ScalingRatio  float64
	TokenID       string
	Side          Side
	AvgPrice      float64
	TotalShares   float64
	TotalUSD      float64
	TradeCount    int
	WindowMS      int64
	FirstSeen     time.Time
}

// TradeStatus is the terminal classification of a copy attempt.
type TradeStatus string

const (
	StatusSuccess TradeStatus = "SUCCESS"
	StatusPartial TradeStatus = "PARTIAL"
	StatusFailed  TradeStatus = "FAILED"
	StatusSkipped TradeStatus = "SKIPPED"
)

// SizeKind records how the copy size was derived.
type SizeKind string

const (
	// SizeScaled means the straight scaled size cleared the exchange floor.
	SizeScaled SizeKind = "SCALED"
	// SizeProbHit means the scaled size was below the floor and the
	// probabilistic draw promoted it to the floor size.
	SizeProbHit SizeKind = "PROB_HIT"
	// SizeProbSkip means the probabilistic draw declined the trade.
	SizeProbSkip SizeKind = "PROB_SKIP"
)

// IntendedOrder is the fully priced and sized order handed to the
// execution state machine.
type IntendedOrder struct {
	TokenID     string
	Side        Side
	Price       float64 // working limit price, clamped to [0.01, 0.99]
	MaxPrice    float64 // chase ceiling, clamped
	Size        float64
	OrderType   OrderType
	ExpiresAt   time.Time // GTD only
	MaxAttempts int
	ChaseFirst  bool // bump price after attempt 1
	SmallTrade  bool // backoff between attempts
	IsLive      bool
	SizeKind    SizeKind
}

// TradeRecord is the persisted outcome of one whale trade through the
// pipeline, terminal or skipped.
type TradeRecord struct {
	ID            int64       `json:"id"`
	TimestampMS   int64       `json:"timestamp_ms"`
	BlockNumber   uint64      `json:"block_number"`
	TxHash        string      `json:"tx_hash"`
	TraderAddress string      `json:"trader_address"`
	TraderLabel   string      `json:"trader_label"`
	TokenID       string      `json:"token_id"`
	Side          Side        `json:"side"`
	WhalePrice    float64     `json:"whale_price"`
	WhaleShares   float64     `json:"whale_shares"`
	WhaleUSD      float64     `json:"whale_usd"`
	OurPrice      float64     `json:"our_price"`
	OurShares     float64     `json:"our_shares"`
	OurUSD        float64     `json:"our_usd"`
	FillPct       float64     `json:"fill_pct"`
	Status        TradeStatus `json:"status"`
	SkipReason    string      `json:"skip_reason,omitempty"`
	LatencyMS     int64       `json:"latency_ms"`
	IsLive        bool        `json:"is_live"`
	AggCount      int         `json:"aggregation_count"`
	AggWindowMS   int64       `json:"aggregation_window_ms"`
	Attempts      int         `json:"attempts"`
}

// Position is our net holding in a single token.
type Position struct {
	TokenID       string  `json:"token_id"`
	NetShares     float64 `json:"net_shares"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	TradeCount    int     `json:"trade_count"`
}

// TraderStats is the persisted per-trader accounting snapshot.
type TraderStats struct {
	Address      string    `json:"address"`
	Label        string    `json:"label"`
	TradesToday  int       `json:"trades_today"`
	Successful   int       `json:"successful"`
	Failed       int       `json:"failed"`
	Partial      int       `json:"partial"`
	TotalCopied  float64   `json:"total_copied_usd"`
	LastTradeAt  time.Time `json:"last_trade_at"`
	LastResetDay string    `json:"last_reset_day"` // YYYY-MM-DD UTC
}

func (s Side) String() string { return string(s) }

// ParseSide converts a wire string to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy":
		return SideBuy, nil
	case "SELL", "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("models: unknown side %q", s)
	}
}

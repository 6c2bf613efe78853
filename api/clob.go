// Package api holds the clients for Polymarket's CLOB and gamma APIs
// and the Polygon websocket event source.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// CLOB tick precision: prices quote to 3 decimals, sizes to 2.
const (
	pricePrecision = 3
	sizePrecision  = 2
)

// ClobClient talks to the CLOB REST API for order placement and book
// reads. Signing is delegated to the configured signer service; this
// client handles payload shaping and fill accounting.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	dryRun     bool
}

// NewClobClient builds a client against the given base URL. Dry-run
// clients log orders instead of submitting and report full fills.
func NewClobClient(baseURL string, dryRun bool) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dryRun:     dryRun,
	}
}

// OrderBook is the CLOB book for one token.
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel is a single price level, stringly typed on the wire.
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderPayload struct {
	TokenID    string `json:"token_id"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	OrderType  string `json:"order_type"`
	Expiration int64  `json:"expiration,omitempty"`
}

type orderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
}

// Submit places one order and returns the filled share count.
// Implements the execution engine's OrderSubmitter.
func (c *ClobClient) Submit(ctx context.Context, order models.IntendedOrder) (float64, error) {
	price := decimal.NewFromFloat(order.Price).Round(pricePrecision)
	size := decimal.NewFromFloat(order.Size).RoundDown(sizePrecision)

	if c.dryRun {
		log.Printf("[ClobClient] DRY RUN %s %s %s @ %s (%s)",
			order.Side, order.TokenID, size, price, order.OrderType)
		f, _ := size.Float64()
		return f, nil
	}

	payload := orderPayload{
		TokenID:   order.TokenID,
		Side:      string(order.Side),
		Price:     price.String(),
		Size:      size.String(),
		OrderType: string(order.OrderType),
	}
	if order.OrderType == models.OrderGTD {
		payload.Expiration = order.ExpiresAt.Unix()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("submit order: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("submit order: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var or orderResponse
	if err := json.Unmarshal(raw, &or); err != nil {
		return 0, fmt.Errorf("submit order: decode response: %w", err)
	}
	if !or.Success {
		return 0, fmt.Errorf("submit order: rejected: %s", or.ErrorMsg)
	}
	return c.filledShares(order, or), nil
}

// filledShares derives the share fill from the matched amounts. For a
// BUY, takingAmount is the token quantity we received; for a SELL,
// makingAmount is the quantity we gave up.
func (c *ClobClient) filledShares(order models.IntendedOrder, or orderResponse) float64 {
	raw := or.TakingAmount
	if order.Side == models.SideSell {
		raw = or.MakingAmount
	}
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("[ClobClient] unparseable matched amount %q: %v", raw, err)
		return 0
	}
	f, _ := d.Float64()
	return f
}

// GetOrderBook fetches the current book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?token_id="+tokenID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.QueryError{Resource: "order book", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &models.QueryError{Resource: "order book", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, &models.QueryError{Resource: "order book", Err: err}
	}
	return &book, nil
}

// BestAsk returns the lowest resting ask.
func (c *ClobClient) BestAsk(ctx context.Context, tokenID string) (float64, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	best := 0.0
	for _, lvl := range book.Asks {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	if best == 0 {
		return 0, &models.QueryError{Resource: "order book", Err: fmt.Errorf("no asks for %s", tokenID)}
	}
	return best, nil
}

// DepthBeyondUSD sums resting notional strictly beyond the given
// price on the side a taker of `side` would consume: asks above the
// level for buys, bids below it for sells. This is the liquidity that
// would survive the whale's own fill.
func (c *ClobClient) DepthBeyondUSD(ctx context.Context, tokenID string, side models.Side, price float64) (float64, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	levels := book.Asks
	if side == models.SideSell {
		levels = book.Bids
	}
	return DepthBeyond(levels, side, price), nil
}

// DepthBeyond computes the surviving-depth sum over parsed levels.
func DepthBeyond(levels []OrderBookLevel, side models.Side, price float64) float64 {
	total := 0.0
	for _, lvl := range levels {
		p, err1 := strconv.ParseFloat(lvl.Price, 64)
		s, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		beyond := p > price
		if side == models.SideSell {
			beyond = p < price
		}
		if beyond {
			total += p * s
		}
	}
	return total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

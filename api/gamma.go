package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// metaCacheTTL bounds staleness of the live flag, which drives GTD
// expiry selection.
const metaCacheTTL = 5 * time.Minute

// sportsCategories are the gamma categories that get the extra price
// buffer: live games move too fast for a tight limit.
var sportsCategories = map[string]bool{
	"sports": true,
	"tennis": true,
	"soccer": true,
	"nba":    true,
	"nfl":    true,
	"mlb":    true,
	"nhl":    true,
}

// GammaClient fetches market metadata from the gamma API with an
// in-process TTL cache keyed by token.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedMeta
}

type cachedMeta struct {
	meta      models.MarketMeta
	fetchedAt time.Time
}

// NewGammaClient builds a metadata client against the given base URL.
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cache:      make(map[string]cachedMeta),
	}
}

type gammaMarket struct {
	Question      string   `json:"question"`
	Category      string   `json:"category"`
	Outcomes      []string `json:"outcomes"`
	GameStartTime string   `json:"gameStartTime"`
	Closed        bool     `json:"closed"`
	Active        bool     `json:"active"`
}

// Meta resolves metadata for a token, serving from cache inside the
// TTL. Implements the pipeline's MarketMetaSource.
func (g *GammaClient) Meta(ctx context.Context, tokenID string) (models.MarketMeta, error) {
	g.mu.Lock()
	if c, ok := g.cache[tokenID]; ok && time.Since(c.fetchedAt) < metaCacheTTL {
		g.mu.Unlock()
		return c.meta, nil
	}
	g.mu.Unlock()

	meta, err := g.fetch(ctx, tokenID)
	if err != nil {
		return models.MarketMeta{}, err
	}

	g.mu.Lock()
	g.cache[tokenID] = cachedMeta{meta: meta, fetchedAt: time.Now()}
	g.mu.Unlock()
	return meta, nil
}

func (g *GammaClient) fetch(ctx context.Context, tokenID string) (models.MarketMeta, error) {
	url := g.baseURL + "/markets?clob_token_ids=" + tokenID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.MarketMeta{}, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return models.MarketMeta{}, &models.QueryError{Resource: "gamma market", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.MarketMeta{}, &models.QueryError{Resource: "gamma market", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return models.MarketMeta{}, &models.QueryError{Resource: "gamma market", Err: err}
	}
	if len(markets) == 0 {
		return models.MarketMeta{}, &models.QueryError{Resource: "gamma market", Err: fmt.Errorf("token %s not found", tokenID)}
	}

	m := markets[0]
	meta := models.MarketMeta{
		Title:    m.Question,
		Category: strings.ToLower(m.Category),
	}
	if len(m.Outcomes) > 0 {
		meta.Outcome = m.Outcomes[0]
	}
	meta.IsSports = sportsCategories[meta.Category]
	// Live means the game has started and the market is still trading.
	if meta.IsSports && m.GameStartTime != "" && m.Active && !m.Closed {
		if start, err := time.Parse(time.RFC3339, m.GameStartTime); err == nil {
			meta.IsLive = time.Now().After(start)
		}
	}
	return meta, nil
}

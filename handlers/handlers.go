// Package handlers exposes the engine's reporting and reload API.
package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/storage"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/syncer"
)

// Engine is the slice of the pipeline the API needs.
type Engine interface {
	Metrics() syncer.MetricsSnapshot
	TraderStats() []models.TraderStats
	Reload() (config.ReloadResult, error)
}

// Handler handles HTTP requests.
type Handler struct {
	engine    Engine
	store     storage.TradeStore
	startedAt time.Time
	// onReload runs after a successful reload (websocket resubscribe).
	onReload func()
}

// NewHandler creates a new handler.
func NewHandler(engine Engine, store storage.TradeStore, onReload func()) *Handler {
	return &Handler{
		engine:    engine,
		store:     store,
		startedAt: time.Now(),
		onReload:  onReload,
	}
}

// GetHealth reports liveness and uptime.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// GetStats returns pipeline counters plus per-trader accounting.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipeline": h.engine.Metrics(),
		"traders":  h.engine.TraderStats(),
	})
}

// GetPositions lists our current holdings.
func (h *Handler) GetPositions(c *gin.Context) {
	positions, err := h.store.Positions(c.Request.Context())
	if err != nil {
		log.Printf("[Handlers] positions query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// GetTrades lists recent trade records, newest first.
func (h *Handler) GetTrades(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	trades, err := h.store.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		log.Printf("[Handlers] trades query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// PostReload re-reads the follow list from disk.
func (h *Handler) PostReload(c *gin.Context) {
	res, err := h.engine.Reload()
	if err != nil {
		log.Printf("[Handlers] reload failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if res.Changed && h.onReload != nil {
		h.onReload()
	}
	c.JSON(http.StatusOK, gin.H{
		"changed":    res.Changed,
		"traders":    res.TraderCount,
		"generation": res.Generation,
	})
}

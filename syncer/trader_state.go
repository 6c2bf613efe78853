package syncer

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// traderState is the mutable per-trader accounting. Daily counters
// reset lazily at UTC midnight.
type traderState struct {
	label        string
	tradesToday  int
	successful   int
	failed       int
	partial      int
	totalCopied  float64
	lastTradeAt  time.Time
	lastResetDay string // YYYY-MM-DD UTC
}

// TraderManager owns per-trader state for every followed address.
type TraderManager struct {
	mu     sync.Mutex
	states map[string]*traderState
}

// NewTraderManager seeds state for the initial follow list.
func NewTraderManager(traders []config.TraderContext) *TraderManager {
	m := &TraderManager{states: make(map[string]*traderState, len(traders))}
	for _, t := range traders {
		m.states[t.Address] = &traderState{label: t.Label}
	}
	return m
}

func utcDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// checkResetLocked zeroes the daily counters if the UTC day rolled
// over since this trader's last activity. Lifetime counters survive.
func (s *traderState) checkResetLocked(now time.Time) {
	day := utcDay(now)
	if s.lastResetDay != day {
		if s.lastResetDay != "" && s.tradesToday > 0 {
			log.Printf("[TraderManager] daily reset for %s (%d trades yesterday)", s.label, s.tradesToday)
		}
		s.tradesToday = 0
		s.lastResetDay = day
	}
}

// RecordTrade books one terminal outcome against a trader. Success
// and Partial add the copied notional; Skipped counts the event but
// moves no money. Unknown addresses are ignored (the event admitted
// under an older follow list).
func (m *TraderManager) RecordTrade(address string, usd float64, status models.TradeStatus, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[address]
	if !ok {
		return
	}
	s.checkResetLocked(now)

	s.tradesToday++
	s.lastTradeAt = now
	switch status {
	case models.StatusSuccess:
		s.successful++
		s.totalCopied += usd
	case models.StatusPartial:
		s.partial++
		s.totalCopied += usd
	case models.StatusFailed:
		s.failed++
	case models.StatusSkipped:
		// counted in tradesToday only
	}
}

// SweepDailyResets applies the lazy reset to every trader. The
// heartbeat calls this so idle traders roll over too.
func (m *TraderManager) SweepDailyResets(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		s.checkResetLocked(now)
	}
}

// Reload swaps the follow set. Surviving addresses keep their state,
// removed ones drop, new ones start zeroed.
func (m *TraderManager) Reload(traders []config.TraderContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*traderState, len(traders))
	for _, t := range traders {
		if prev, ok := m.states[t.Address]; ok {
			prev.label = t.Label
			next[t.Address] = prev
		} else {
			next[t.Address] = &traderState{label: t.Label}
		}
	}
	m.states = next
}

// Stats snapshots every trader's counters, sorted by address for
// stable output.
func (m *TraderManager) Stats() []models.TraderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.TraderStats, 0, len(m.states))
	for addr, s := range m.states {
		out = append(out, models.TraderStats{
			Address:      addr,
			Label:        s.label,
			TradesToday:  s.tradesToday,
			Successful:   s.successful,
			Failed:       s.failed,
			Partial:      s.partial,
			TotalCopied:  s.totalCopied,
			LastTradeAt:  s.lastTradeAt,
			LastResetDay: s.lastResetDay,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Summary aggregates across all traders for the heartbeat log line.
func (m *TraderManager) Summary() (traders int, tradesToday int, copied float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		tradesToday += s.tradesToday
		copied += s.totalCopied
	}
	return len(m.states), tradesToday, copied
}

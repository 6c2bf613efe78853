package syncer

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// TradeSink receives terminal records and accounting updates. The
// storage package implements it; tests use a mock.
type TradeSink interface {
	RecordTrade(ctx context.Context, rec models.TradeRecord) error
	UpsertTraderStats(ctx context.Context, stats []models.TraderStats) error
	Position(ctx context.Context, tokenID string) (models.Position, bool, error)
	ApplyFill(ctx context.Context, tokenID string, side models.Side, price, shares float64) error
}

// MarketMetaSource resolves token metadata (live flag, sport
// category) used for expiry and buffer selection.
type MarketMetaSource interface {
	Meta(ctx context.Context, tokenID string) (models.MarketMeta, error)
}

// Pipeline wires the whole copy path together: intake, dispatch,
// admission, aggregation, sizing, execution, accounting.
type Pipeline struct {
	cfg      *config.Config
	traders  *config.ReloadableTraders
	guard    *RiskGuard
	agg      *TradeAggregator
	executor *Executor
	manager  *TraderManager
	sink     TradeSink
	meta     MarketMetaSource
	book     BookQuerier

	metrics      PipelineMetrics
	metricsStore *MetricsStore

	rnd func() float64

	events <-chan models.WhaleTrade

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup // run loop
	execWG  sync.WaitGroup // in-flight executions
}

// PipelineDeps collects the pipeline's collaborators.
type PipelineDeps struct {
	Traders      *config.ReloadableTraders
	Submitter    OrderSubmitter
	Book         BookQuerier
	Meta         MarketMetaSource
	Sink         TradeSink
	MetricsStore *MetricsStore
	Events       <-chan models.WhaleTrade
	// Rand overrides the dust-fill random source. Nil uses math/rand.
	Rand func() float64
}

// NewPipeline assembles the engine from config and collaborators.
func NewPipeline(cfg *config.Config, deps PipelineDeps) *Pipeline {
	rnd := deps.Rand
	if rnd == nil {
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		rnd = src.Float64
	}
	return &Pipeline{
		cfg:          cfg,
		traders:      deps.Traders,
		guard:        NewRiskGuard(cfg.RiskGuard),
		agg:          NewTradeAggregator(cfg.Aggregation),
		executor:     NewExecutor(deps.Submitter, deps.Book),
		manager:      NewTraderManager(deps.Traders.Snapshot()),
		sink:         deps.Sink,
		meta:         deps.Meta,
		book:         deps.Book,
		metricsStore: deps.MetricsStore,
		rnd:          rnd,
		events:       deps.Events,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the intake loop and background tickers.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	log.Printf("[Pipeline] starting: %d traders, window=%s, bypass=%.0f shares, usd cap=%.0f, min trades=%d",
		len(p.traders.Snapshot()), p.cfg.Aggregation.Window, p.cfg.Aggregation.BypassShares,
		p.cfg.Aggregation.MaxPendingUSD, p.cfg.Aggregation.MinTrades)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop drains the pipeline: intake halts, pending aggregations flush
// through the normal emission path, and in-flight executions get the
// shutdown grace period to reach a terminal state.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	done := make(chan struct{})
	go func() {
		p.execWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		log.Printf("[Pipeline] shutdown grace expired with executions still in flight")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.persistStats(ctx)
	log.Printf("[Pipeline] stopped")
}

// Reload re-reads the follow list and applies it to dispatch state.
func (p *Pipeline) Reload() (config.ReloadResult, error) {
	res, err := p.traders.Reload()
	if err != nil {
		return res, err
	}
	if res.Changed {
		p.manager.Reload(p.traders.Snapshot())
	}
	return res, nil
}

// Metrics exposes a snapshot for the stats endpoint.
func (p *Pipeline) Metrics() MetricsSnapshot { return p.metrics.Snapshot() }

// TraderStats exposes per-trader counters for the stats endpoint.
func (p *Pipeline) TraderStats() []models.TraderStats { return p.manager.Stats() }

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	flushTicker := time.NewTicker(p.cfg.FlushInterval)
	defer flushTicker.Stop()
	heartbeat := time.NewTicker(p.cfg.HeartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			p.drain(ctx)
			return
		case t, ok := <-p.events:
			if !ok {
				p.drain(ctx)
				return
			}
			p.admit(ctx, t)
		case now := <-flushTicker.C:
			for _, agg := range p.agg.FlushExpired(now) {
				p.launch(ctx, agg)
			}
		case now := <-heartbeat.C:
			p.heartbeat(ctx, now)
		}
	}
}

// admit runs one event through dispatch, filters, the risk guard, and
// aggregation. Events for the same trader pass through here serially,
// preserving their arrival order up to emission.
func (p *Pipeline) admit(ctx context.Context, t models.WhaleTrade) {
	p.metrics.add(func(s *MetricsSnapshot) { s.EventsSeen++ })
	now := time.Now()

	trader, ok := p.traders.Lookup(t.TraderAddress)
	if !ok || !trader.Enabled {
		p.metrics.add(func(s *MetricsSnapshot) { s.EventsUnknown++ })
		return
	}
	t.TraderLabel = trader.Label
	t.ScalingRatio = trader.ScalingRatio

	if t.Shares < trader.MinShares {
		p.metrics.add(func(s *MetricsSnapshot) { s.EventsDust++ })
		p.recordSkip(ctx, t, now, fmt.Sprintf("whale size %.1f below min %.1f", t.Shares, trader.MinShares))
		return
	}

	if t.Side == models.SideSell {
		pos, held, err := p.sink.Position(ctx, t.TokenID)
		if err != nil {
			p.recordSkip(ctx, t, now, fmt.Sprintf("position lookup failed: %v", err))
			return
		}
		if !held || pos.NetShares <= 0 {
			p.metrics.add(func(s *MetricsSnapshot) { s.NoPosition++ })
			p.recordSkip(ctx, t, now, models.ErrNoPosition.Error())
			return
		}
	}

	if blocked, reason := p.checkRisk(ctx, t, now); blocked {
		p.metrics.add(func(s *MetricsSnapshot) { s.RiskBlocked++ })
		p.recordSkip(ctx, t, now, fmt.Sprintf("%v: %s", models.ErrAdmissionBlocked, reason))
		return
	}

	if agg, emit := p.agg.AddTrade(t, now); emit {
		p.launch(ctx, agg)
	} else {
		p.metrics.add(func(s *MetricsSnapshot) { s.Aggregated++ })
	}
}

// checkRisk runs the guard's fast layers and, when asked, fetches
// depth between them. No guard lock is held during the book call.
func (p *Pipeline) checkRisk(ctx context.Context, t models.WhaleTrade, now time.Time) (bool, string) {
	ev := p.guard.CheckFast(t.Shares, now)
	switch ev.Decision {
	case DecisionAllow:
		return false, ""
	case DecisionBlock:
		return true, ev.Reason
	}

	// Large single trade: verify the book can absorb the whale's move.
	depth, err := p.book.DepthBeyondUSD(ctx, t.TokenID, t.Side, t.Price)
	if err != nil {
		reason := fmt.Sprintf("depth query failed: %v", err)
		p.guard.Trip(now, reason)
		return true, reason
	}
	ev = p.guard.CheckWithBook(depth, now)
	if ev.Decision == DecisionBlock {
		return true, ev.Reason
	}
	return false, ""
}

// launch spawns the execution state machine for one emitted trade.
func (p *Pipeline) launch(ctx context.Context, agg models.AggregatedTrade) {
	p.metrics.add(func(s *MetricsSnapshot) { s.Emitted++ })
	p.execWG.Add(1)
	go func() {
		defer p.execWG.Done()
		p.execute(ctx, agg)
	}()
}

func (p *Pipeline) execute(ctx context.Context, agg models.AggregatedTrade) {
	started := time.Now()

	meta := p.lookupMeta(ctx, agg.TokenID)
	expiry := started.Add(p.cfg.GTDExpiryDefault)
	if meta.IsLive {
		expiry = started.Add(p.cfg.GTDExpiryLive)
	}

	order, size := p.buildOrder(agg, meta, expiry)
	if size.Kind == models.SizeProbSkip {
		p.metrics.add(func(s *MetricsSnapshot) { s.ProbSkipped++ })
		p.finishSkipped(ctx, agg, meta, started, "probabilistic dust skip")
		return
	}

	res := p.executor.Run(ctx, order)
	p.metrics.add(func(s *MetricsSnapshot) {
		s.OrdersExecuted++
		switch res.Status {
		case models.StatusSuccess:
			s.Successes++
		case models.StatusPartial:
			s.Partials++
		default:
			s.Failures++
		}
	})

	ourUSD := res.Filled * res.FinalPrice
	p.manager.RecordTrade(agg.TraderAddress, ourUSD, res.Status, time.Now())

	if res.Filled > 0 {
		if err := p.sink.ApplyFill(ctx, agg.TokenID, agg.Side, res.FinalPrice, res.Filled); err != nil {
			log.Printf("[Pipeline] position update failed for %s: %v", shortToken(agg.TokenID), err)
		}
	}

	rec := p.baseRecord(agg, meta, started)
	rec.OurPrice = res.FinalPrice
	rec.OurShares = res.Filled
	rec.OurUSD = ourUSD
	rec.FillPct = res.FillPct() * 100
	rec.Status = res.Status
	rec.Attempts = res.Attempts
	rec.LatencyMS = time.Since(started).Milliseconds()
	if res.LastErr != nil {
		rec.SkipReason = res.LastErr.Error()
	}
	if err := p.sink.RecordTrade(ctx, rec); err != nil {
		log.Printf("[Pipeline] trade record failed: %v", err)
	}

	log.Printf("[Pipeline] %s %s %.1f@%.3f -> %s (%.0f%% in %d attempts, %dms)",
		agg.Side, shortToken(agg.TokenID), order.Size, order.Price,
		res.Status, rec.FillPct, res.Attempts, rec.LatencyMS)
}

func (p *Pipeline) buildOrder(agg models.AggregatedTrade, meta models.MarketMeta, expiry time.Time) (models.IntendedOrder, SizeResult) {
	return BuildOrder(agg, meta.IsLive, meta.IsSports, expiry, p.rnd)
}

func (p *Pipeline) lookupMeta(ctx context.Context, tokenID string) models.MarketMeta {
	if p.meta == nil {
		return models.MarketMeta{}
	}
	meta, err := p.meta.Meta(ctx, tokenID)
	if err != nil {
		// Unknown markets execute with conservative defaults.
		log.Printf("[Pipeline] metadata lookup failed for %s: %v", shortToken(tokenID), err)
		return models.MarketMeta{}
	}
	return meta
}

func (p *Pipeline) baseRecord(agg models.AggregatedTrade, meta models.MarketMeta, started time.Time) models.TradeRecord {
	return models.TradeRecord{
		TimestampMS:   started.UnixMilli(),
		BlockNumber:   agg.BlockNumber,
		TxHash:        agg.TxHash,
		TraderAddress: agg.TraderAddress,
		TraderLabel:   agg.TraderLabel,
		TokenID:       agg.TokenID,
		Side:          agg.Side,
		WhalePrice:    agg.AvgPrice,
		WhaleShares:   agg.TotalShares,
		WhaleUSD:      agg.TotalUSD,
		IsLive:        meta.IsLive,
		AggCount:      agg.TradeCount,
		AggWindowMS:   agg.WindowMS,
	}
}

func (p *Pipeline) finishSkipped(ctx context.Context, agg models.AggregatedTrade, meta models.MarketMeta, started time.Time, reason string) {
	p.manager.RecordTrade(agg.TraderAddress, 0, models.StatusSkipped, time.Now())
	rec := p.baseRecord(agg, meta, started)
	rec.Status = models.StatusSkipped
	rec.SkipReason = reason
	rec.LatencyMS = time.Since(started).Milliseconds()
	if err := p.sink.RecordTrade(ctx, rec); err != nil {
		log.Printf("[Pipeline] skip record failed: %v", err)
	}
}

// recordSkip books a pre-aggregation skip (filters, risk guard).
func (p *Pipeline) recordSkip(ctx context.Context, t models.WhaleTrade, now time.Time, reason string) {
	p.manager.RecordTrade(t.TraderAddress, 0, models.StatusSkipped, now)
	rec := models.TradeRecord{
		TimestampMS:   now.UnixMilli(),
		BlockNumber:   t.BlockNumber,
		TxHash:        t.TxHash,
		TraderAddress: t.TraderAddress,
		TraderLabel:   t.TraderLabel,
		TokenID:       t.TokenID,
		Side:          t.Side,
		WhalePrice:    t.Price,
		WhaleShares:   t.Shares,
		WhaleUSD:      t.USDValue(),
		Status:        models.StatusSkipped,
		SkipReason:    reason,
		AggCount:      1,
	}
	if err := p.sink.RecordTrade(ctx, rec); err != nil {
		log.Printf("[Pipeline] skip record failed: %v", err)
	}
}

// drain flushes every pending aggregation through the normal
// emission path before the run loop exits. Executions launched here
// detach from the run context so cancellation does not strand an
// admitted trade without a terminal record.
func (p *Pipeline) drain(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	pending := p.agg.FlushAll(time.Now())
	if len(pending) > 0 {
		log.Printf("[Pipeline] draining %d pending aggregations", len(pending))
	}
	for _, agg := range pending {
		p.launch(ctx, agg)
	}
}

func (p *Pipeline) heartbeat(ctx context.Context, now time.Time) {
	p.manager.SweepDailyResets(now)
	p.persistStats(ctx)

	traders, tradesToday, copied := p.manager.Summary()
	snap := p.metrics.Snapshot()
	log.Printf("[Pipeline] heartbeat: %d traders (gen %d), %d trades today, $%.2f copied, %d events seen, %d orders (%d ok / %d partial / %d failed), %d pending agg",
		traders, p.traders.Generation(), tradesToday, copied, snap.EventsSeen,
		snap.OrdersExecuted, snap.Successes, snap.Partials, snap.Failures,
		p.agg.PendingCount())

	if err := p.metricsStore.Save(ctx, snap); err != nil {
		log.Printf("[Pipeline] metrics save failed: %v", err)
	}
}

func (p *Pipeline) persistStats(ctx context.Context) {
	if err := p.sink.UpsertTraderStats(ctx, p.manager.Stats()); err != nil {
		log.Printf("[Pipeline] trader stats upsert failed: %v", err)
	}
}

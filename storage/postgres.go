package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// PostgresStore backs deployments that share one database across
// instances. Same surface as SQLiteStore.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	buffer []models.TradeRecord
}

// NewPostgres connects and migrates.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			timestamp_ms BIGINT NOT NULL,
			block_number BIGINT NOT NULL DEFAULT 0,
			tx_hash TEXT NOT NULL,
			trader_address TEXT NOT NULL,
			trader_label TEXT NOT NULL DEFAULT '',
			token_id TEXT NOT NULL,
			side TEXT NOT NULL,
			whale_price DOUBLE PRECISION NOT NULL,
			whale_shares DOUBLE PRECISION NOT NULL,
			whale_usd DOUBLE PRECISION NOT NULL,
			our_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			our_shares DOUBLE PRECISION NOT NULL DEFAULT 0,
			our_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			fill_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			skip_reason TEXT NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			is_live BOOLEAN NOT NULL DEFAULT FALSE,
			aggregation_count INTEGER NOT NULL DEFAULT 1,
			aggregation_window_ms BIGINT NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader_address)`,
		`CREATE TABLE IF NOT EXISTS positions (
			token_id TEXT PRIMARY KEY,
			net_shares DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			trade_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS trader_stats (
			address TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			trades_today INTEGER NOT NULL DEFAULT 0,
			successful INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			partial INTEGER NOT NULL DEFAULT 0,
			total_copied_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_trade_at BIGINT NOT NULL DEFAULT 0,
			last_reset_day TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migration: %w", err)
		}
	}
	return nil
}

// Close flushes and releases the pool.
func (s *PostgresStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Flush(ctx)
	s.pool.Close()
	return nil
}

// RecordTrade buffers one record, flushing when the buffer is full.
func (s *PostgresStore) RecordTrade(ctx context.Context, rec models.TradeRecord) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, rec)
	full := len(s.buffer) >= writeBufferSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush batch-inserts buffered records.
func (s *PostgresStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, r := range batch {
		b.Queue(`INSERT INTO trades (
			timestamp_ms, block_number, tx_hash, trader_address, trader_label,
			token_id, side, whale_price, whale_shares, whale_usd,
			our_price, our_shares, our_usd, fill_pct, status, skip_reason,
			latency_ms, is_live, aggregation_count, aggregation_window_ms, attempts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
			r.TimestampMS, r.BlockNumber, r.TxHash, r.TraderAddress, r.TraderLabel,
			r.TokenID, string(r.Side), r.WhalePrice, r.WhaleShares, r.WhaleUSD,
			r.OurPrice, r.OurShares, r.OurUSD, r.FillPct, string(r.Status), r.SkipReason,
			r.LatencyMS, r.IsLive, r.AggCount, r.AggWindowMS, r.Attempts)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("storage: flush batch: %w", err)
	}
	return nil
}

// RecentTrades returns the newest records, most recent first.
func (s *PostgresStore) RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT
		id, timestamp_ms, block_number, tx_hash, trader_address, trader_label,
		token_id, side, whale_price, whale_shares, whale_usd,
		our_price, our_shares, our_usd, fill_pct, status, skip_reason,
		latency_ms, is_live, aggregation_count, aggregation_window_ms, attempts
		FROM trades ORDER BY timestamp_ms DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var r models.TradeRecord
		var side, status string
		if err := rows.Scan(
			&r.ID, &r.TimestampMS, &r.BlockNumber, &r.TxHash, &r.TraderAddress, &r.TraderLabel,
			&r.TokenID, &side, &r.WhalePrice, &r.WhaleShares, &r.WhaleUSD,
			&r.OurPrice, &r.OurShares, &r.OurUSD, &r.FillPct, &status, &r.SkipReason,
			&r.LatencyMS, &r.IsLive, &r.AggCount, &r.AggWindowMS, &r.Attempts,
		); err != nil {
			return nil, fmt.Errorf("storage: scan trade: %w", err)
		}
		r.Side = models.Side(side)
		r.Status = models.TradeStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Position reads one holding.
func (s *PostgresStore) Position(ctx context.Context, tokenID string) (models.Position, bool, error) {
	var p models.Position
	err := s.pool.QueryRow(ctx,
		`SELECT token_id, net_shares, avg_entry_price, trade_count FROM positions WHERE token_id = $1`,
		tokenID).Scan(&p.TokenID, &p.NetShares, &p.AvgEntryPrice, &p.TradeCount)
	if err == pgx.ErrNoRows {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, fmt.Errorf("storage: query position: %w", err)
	}
	return p, p.NetShares > 0, nil
}

// Positions lists all non-flat holdings.
func (s *PostgresStore) Positions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_id, net_shares, avg_entry_price, trade_count FROM positions WHERE net_shares > 0 ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.TokenID, &p.NetShares, &p.AvgEntryPrice, &p.TradeCount); err != nil {
			return nil, fmt.Errorf("storage: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyFill folds an executed fill into the position book.
func (s *PostgresStore) ApplyFill(ctx context.Context, tokenID string, side models.Side, price, shares float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin fill: %w", err)
	}
	defer tx.Rollback(ctx)

	var net, avg float64
	var count int
	err = tx.QueryRow(ctx,
		`SELECT net_shares, avg_entry_price, trade_count FROM positions WHERE token_id = $1 FOR UPDATE`,
		tokenID).Scan(&net, &avg, &count)
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("storage: read position: %w", err)
	}

	net, avg = foldFill(net, avg, side, price, shares)
	count++

	if _, err := tx.Exec(ctx, `INSERT INTO positions (token_id, net_shares, avg_entry_price, trade_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_id) DO UPDATE SET net_shares = EXCLUDED.net_shares,
			avg_entry_price = EXCLUDED.avg_entry_price, trade_count = EXCLUDED.trade_count`,
		tokenID, net, avg, count); err != nil {
		return fmt.Errorf("storage: upsert position: %w", err)
	}
	return tx.Commit(ctx)
}

// UpsertTraderStats replaces stored counters for each trader.
func (s *PostgresStore) UpsertTraderStats(ctx context.Context, stats []models.TraderStats) error {
	if len(stats) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, st := range stats {
		b.Queue(`INSERT INTO trader_stats
			(address, label, trades_today, successful, failed, partial, total_copied_usd, last_trade_at, last_reset_day)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (address) DO UPDATE SET label = EXCLUDED.label,
				trades_today = EXCLUDED.trades_today, successful = EXCLUDED.successful,
				failed = EXCLUDED.failed, partial = EXCLUDED.partial,
				total_copied_usd = EXCLUDED.total_copied_usd,
				last_trade_at = EXCLUDED.last_trade_at, last_reset_day = EXCLUDED.last_reset_day`,
			st.Address, st.Label, st.TradesToday, st.Successful, st.Failed, st.Partial,
			st.TotalCopied, st.LastTradeAt.UnixMilli(), st.LastResetDay)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("storage: upsert stats: %w", err)
	}
	return nil
}

// TraderStats lists the stored counters.
func (s *PostgresStore) TraderStats(ctx context.Context) ([]models.TraderStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, label, trades_today, successful, failed,
		partial, total_copied_usd, last_trade_at, last_reset_day FROM trader_stats ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("storage: query stats: %w", err)
	}
	defer rows.Close()

	var out []models.TraderStats
	for rows.Next() {
		var st models.TraderStats
		var lastMS int64
		if err := rows.Scan(&st.Address, &st.Label, &st.TradesToday, &st.Successful, &st.Failed,
			&st.Partial, &st.TotalCopied, &lastMS, &st.LastResetDay); err != nil {
			return nil, fmt.Errorf("storage: scan stats: %w", err)
		}
		if lastMS > 0 {
			st.LastTradeAt = time.UnixMilli(lastMS)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

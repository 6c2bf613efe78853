package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// writeBufferSize is how many trade records accumulate before an
// automatic flush.
const writeBufferSize = 50

// SQLiteStore is the default single-file backend.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	buffer []models.TradeRecord
}

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			block_number INTEGER NOT NULL DEFAULT 0,
			tx_hash TEXT NOT NULL,
			trader_address TEXT NOT NULL,
			trader_label TEXT NOT NULL DEFAULT '',
			token_id TEXT NOT NULL,
			side TEXT NOT NULL,
			whale_price REAL NOT NULL,
			whale_shares REAL NOT NULL,
			whale_usd REAL NOT NULL,
			our_price REAL NOT NULL DEFAULT 0,
			our_shares REAL NOT NULL DEFAULT 0,
			our_usd REAL NOT NULL DEFAULT 0,
			fill_pct REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			skip_reason TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			is_live INTEGER NOT NULL DEFAULT 0,
			aggregation_count INTEGER NOT NULL DEFAULT 1,
			aggregation_window_ms INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader_address)`,
		`CREATE TABLE IF NOT EXISTS positions (
			token_id TEXT PRIMARY KEY,
			net_shares REAL NOT NULL DEFAULT 0,
			avg_entry_price REAL NOT NULL DEFAULT 0,
			trade_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS trader_stats (
			address TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			trades_today INTEGER NOT NULL DEFAULT 0,
			successful INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			partial INTEGER NOT NULL DEFAULT 0,
			total_copied_usd REAL NOT NULL DEFAULT 0,
			last_trade_at INTEGER NOT NULL DEFAULT 0,
			last_reset_day TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migration: %w", err)
		}
	}
	return nil
}

// Close flushes buffered records and releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Flush(ctx)
	return s.db.Close()
}

// RecordTrade buffers one record, flushing when the buffer is full.
func (s *SQLiteStore) RecordTrade(ctx context.Context, rec models.TradeRecord) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, rec)
	full := len(s.buffer) >= writeBufferSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered records in one transaction.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades (
		timestamp_ms, block_number, tx_hash, trader_address, trader_label,
		token_id, side, whale_price, whale_shares, whale_usd,
		our_price, our_shares, our_usd, fill_pct, status, skip_reason,
		latency_ms, is_live, aggregation_count, aggregation_window_ms, attempts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx,
			r.TimestampMS, r.BlockNumber, r.TxHash, r.TraderAddress, r.TraderLabel,
			r.TokenID, string(r.Side), r.WhalePrice, r.WhaleShares, r.WhaleUSD,
			r.OurPrice, r.OurShares, r.OurUSD, r.FillPct, string(r.Status), r.SkipReason,
			r.LatencyMS, boolToInt(r.IsLive), r.AggCount, r.AggWindowMS, r.Attempts,
		); err != nil {
			return fmt.Errorf("storage: insert trade: %w", err)
		}
	}
	return tx.Commit()
}

// RecentTrades returns the newest records, flushing the buffer first
// so callers see everything.
func (s *SQLiteStore) RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, timestamp_ms, block_number, tx_hash, trader_address, trader_label,
		token_id, side, whale_price, whale_shares, whale_usd,
		our_price, our_shares, our_usd, fill_pct, status, skip_reason,
		latency_ms, is_live, aggregation_count, aggregation_window_ms, attempts
		FROM trades ORDER BY timestamp_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var r models.TradeRecord
		var side, status string
		var isLive int
		if err := rows.Scan(
			&r.ID, &r.TimestampMS, &r.BlockNumber, &r.TxHash, &r.TraderAddress, &r.TraderLabel,
			&r.TokenID, &side, &r.WhalePrice, &r.WhaleShares, &r.WhaleUSD,
			&r.OurPrice, &r.OurShares, &r.OurUSD, &r.FillPct, &status, &r.SkipReason,
			&r.LatencyMS, &isLive, &r.AggCount, &r.AggWindowMS, &r.Attempts,
		); err != nil {
			return nil, fmt.Errorf("storage: scan trade: %w", err)
		}
		r.Side = models.Side(side)
		r.Status = models.TradeStatus(status)
		r.IsLive = isLive != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Position reads one holding.
func (s *SQLiteStore) Position(ctx context.Context, tokenID string) (models.Position, bool, error) {
	var p models.Position
	err := s.db.QueryRowContext(ctx,
		`SELECT token_id, net_shares, avg_entry_price, trade_count FROM positions WHERE token_id = ?`,
		tokenID).Scan(&p.TokenID, &p.NetShares, &p.AvgEntryPrice, &p.TradeCount)
	if err == sql.ErrNoRows {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, fmt.Errorf("storage: query position: %w", err)
	}
	return p, p.NetShares > 0, nil
}

// Positions lists all non-flat holdings.
func (s *SQLiteStore) Positions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx,
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

// ApplyFill folds an executed fill into the position book. Buys move
// the average entry; sells only reduce the net.
func (s *SQLiteStore) ApplyFill(ctx context.Context, tokenID string, side models.Side, price, shares float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin fill: %w", err)
	}
	defer tx.Rollback()

	var net, avg float64
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT net_shares, avg_entry_price, trade_count FROM positions WHERE token_id = ?`,
		tokenID).Scan(&net, &avg, &count)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("storage: read position: %w", err)
	}

	net, avg = foldFill(net, avg, side, price, shares)
	count++

	if _, err := tx.ExecContext(ctx, `INSERT INTO positions (token_id, net_shares, avg_entry_price, trade_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET net_shares = excluded.net_shares,
			avg_entry_price = excluded.avg_entry_price, trade_count = excluded.trade_count`,
		tokenID, net, avg, count); err != nil {
		return fmt.Errorf("storage: upsert position: %w", err)
	}
	return tx.Commit()
}

// foldFill applies one fill to a (net, avg) pair.
func foldFill(net, avg float64, side models.Side, price, shares float64) (float64, float64) {
	if side == models.SideBuy {
		newNet := net + shares
		if newNet > 0 {
			avg = (avg*net + price*shares) / newNet
		}
		return newNet, avg
	}
	net -= shares
	if net < 0 {
		net = 0
	}
	return net, avg
}

// UpsertTraderStats replaces stored counters for each trader.
func (s *SQLiteStore) UpsertTraderStats(ctx context.Context, stats []models.TraderStats) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin stats: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stats {
		if _, err := tx.ExecContext(ctx, `INSERT INTO trader_stats
			(address, label, trades_today, successful, failed, partial, total_copied_usd, last_trade_at, last_reset_day)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET label = excluded.label,
				trades_today = excluded.trades_today, successful = excluded.successful,
				failed = excluded.failed, partial = excluded.partial,
				total_copied_usd = excluded.total_copied_usd,
				last_trade_at = excluded.last_trade_at, last_reset_day = excluded.last_reset_day`,
			st.Address, st.Label, st.TradesToday, st.Successful, st.Failed, st.Partial,
			st.TotalCopied, st.LastTradeAt.UnixMilli(), st.LastResetDay); err != nil {
			return fmt.Errorf("storage: upsert stats: %w", err)
		}
	}
	return tx.Commit()
}

// TraderStats lists the stored counters.
func (s *SQLiteStore) TraderStats(ctx context.Context) ([]models.TraderStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, label, trades_today, successful, failed,
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Command inspect_db prints a quick health report of the trade
// database: recent fills, open positions, and per-trader totals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/storage"
)

func main() {
	limit := flag.Int("limit", 20, "number of recent trades to show")
	flag.Parse()

	_ = godotenv.Load()

	store, err := openStore()
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println("--- Recent trades ---")
	trades, err := store.RecentTrades(ctx, *limit)
	if err != nil {
		log.Fatalf("Failed to query trades: %v", err)
	}
	for _, tr := range trades {
		ts := time.UnixMilli(tr.TimestampMS).Format("2006-01-02 15:04:05")
		fmt.Printf("%s  %-7s %-4s %s  whale %.1f@%.3f  ours %.1f@%.3f  fill %.0f%%  %dms  agg=%d\n",
			ts, tr.Status, tr.Side, short(tr.TokenID),
			tr.WhaleShares, tr.WhalePrice, tr.OurShares, tr.OurPrice,
			tr.FillPct, tr.LatencyMS, tr.AggCount)
		if tr.Status == models.StatusSkipped && tr.SkipReason != "" {
			fmt.Printf("           reason: %s\n", tr.SkipReason)
		}
	}

	fmt.Println("\n--- Open positions ---")
	positions, err := store.Positions(ctx)
	if err != nil {
		log.Fatalf("Failed to query positions: %v", err)
	}
	var exposure float64
	for _, p := range positions {
		notional := p.NetShares * p.AvgEntryPrice
		exposure += notional
		fmt.Printf("%s  %.2f shares @ %.3f avg  ($%.2f, %d trades)\n",
			short(p.TokenID), p.NetShares, p.AvgEntryPrice, notional, p.TradeCount)
	}
	fmt.Printf("Total exposure: $%.2f across %d positions\n", exposure, len(positions))

	fmt.Println("\n--- Trader stats ---")
	stats, err := store.TraderStats(ctx)
	if err != nil {
		log.Fatalf("Failed to query trader stats: %v", err)
	}
	for _, st := range stats {
		fmt.Printf("%-20s %s  today=%d  ok=%d partial=%d failed=%d  copied=$%.2f\n",
			st.Label, short(st.Address), st.TradesToday,
			st.Successful, st.Partial, st.Failed, st.TotalCopied)
	}
}

func openStore() (storage.TradeStore, error) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" && os.Getenv("DB_DRIVER") == "postgres" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewPostgres(ctx, dsn)
	}
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "data/trades.db"
	}
	return storage.NewSQLite(path)
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "..."
}

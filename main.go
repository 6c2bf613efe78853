package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/api"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/config"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/handlers"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/middleware"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/storage"
	"github.com/Ceesaxp/polymarket-copy-trading-bot/syncer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	traders, err := config.NewReloadableTraders(cfg.TradersPath)
	if err != nil {
		log.Fatalf("failed to load traders: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	var metricsStore *syncer.MetricsStore
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		metricsStore = syncer.NewMetricsStore(redis.NewClient(opts))
	}

	clob := api.NewClobClient(cfg.ClobBaseURL, cfg.DryRun)
	gamma := api.NewGammaClient(cfg.GammaBaseURL)
	ws := api.NewPolygonWS(cfg.PolygonWSURL, traders)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline := syncer.NewPipeline(cfg, syncer.PipelineDeps{
		Traders:      traders,
		Submitter:    clob,
		Book:         clob,
		Meta:         gamma,
		Sink:         store,
		MetricsStore: metricsStore,
		Events:       ws.Trades(),
	})

	ws.Start(ctx)
	pipeline.Start(ctx)

	reload := func() {
		if _, err := pipeline.Reload(); err != nil {
			log.Printf("[Main] reload failed, keeping previous follow list: %v", err)
			return
		}
		ws.Kick()
	}

	// SIGHUP re-reads traders.json without a restart
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Println("[Main] SIGHUP received, reloading follow list")
			reload()
		}
	}()

	router := setupRouter(pipeline, store, ws.Kick)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		log.Printf("[Main] HTTP API listening on :%d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	if cfg.DryRun {
		log.Println("[Main] DRY RUN mode: orders are logged, not submitted")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("[Main] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	ws.Stop()
	pipeline.Stop()
	if err := store.Flush(shutdownCtx); err != nil {
		log.Printf("[Main] final flush failed: %v", err)
	}
	log.Println("[Main] goodbye")
}

func openStore(cfg *config.Config) (storage.TradeStore, error) {
	if cfg.DBDriver == "postgres" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewPostgres(ctx, cfg.PostgresDSN)
	}
	return storage.NewSQLite(cfg.DBPath)
}

func setupRouter(pipeline *syncer.Pipeline, store storage.TradeStore, onReload func()) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := handlers.NewHandler(pipeline, store, onReload)

	router.GET("/health", h.GetHealth)
	apiGroup := router.Group("/api", middleware.ValidateQueryParams())
	{
		apiGroup.GET("/stats", h.GetStats)
		apiGroup.GET("/positions", h.GetPositions)
		apiGroup.GET("/trades", h.GetTrades)
		apiGroup.POST("/reload", middleware.BasicAuth(), h.PostReload)
	}
	return router
}

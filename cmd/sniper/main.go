// Command sniper wires the five core components (sniffer, analytics,
// noncepool, txbuilder, engine) into the running tasks T1-T6 spec.md §5
// describes, reading its frozen configuration from the environment and
// tearing everything down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"solsniper/internal/analytics"
	"solsniper/internal/config"
	"solsniper/internal/engine"
	"solsniper/internal/logger"
	"solsniper/internal/noncepool"
	"solsniper/internal/observability"
	"solsniper/internal/oracle"
	"solsniper/internal/rpc"
	"solsniper/internal/sniffer"
	"solsniper/internal/txbuilder"
	"solsniper/internal/wallet"
)

func main() {
	cfg := loadConfig()

	log0 := logger.NewLogger("sniper", nil)

	otelShutdown, err := observability.SetupOTelSDK(context.Background())
	if err != nil {
		log.Fatalf("observability setup failed: %v", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	w, err := wallet.NewLocalWallet()
	if err != nil {
		log.Fatalf("wallet init failed: %v", err)
	}

	rpcEndpoint := getEnv("RPC_ENDPOINT", "https://api.mainnet-beta.solana.com")
	timeouts := rpc.DefaultTimeouts()
	client := rpc.NewHTTPClient(rpcEndpoint, timeouts.Broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := noncepool.New(ctx, cfg.Pool, client, w, log0)
	if err != nil {
		log.Fatalf("nonce pool init failed: %v", err)
	}

	stats := analytics.New(cfg.Analytics)

	// The sniffer's volume-estimation stage always reads the in-process
	// cache. When REDIS_ADDR is set an oracle.RedisCache is opened only to
	// check that Redis is reachable (a failure is logged); the handle is not
	// kept, so this process neither reads nor writes it.
	if redisURL := getEnv("REDIS_ADDR", ""); redisURL != "" {
		if _, err := oracle.NewRedisCache(ctx, redisURL, 5*time.Minute, log0); err != nil {
			log0.Warn("redis oracle cache unavailable", "error", err.Error())
		}
	}
	cache := oracle.NewCache(5*time.Minute, log0)

	if len(cfg.InterestPrograms) < 2 {
		log.Fatal("INTEREST_PROGRAMS must list at least a DEX program and the SPL token program")
	}
	dexPrograms := config.DEXPrograms{DEX: cfg.InterestPrograms[0], SPLToken: cfg.InterestPrograms[1]}

	slots := rpc.ClientSlotSource{Client: client, Timeout: timeouts.Refresh}
	pipeline := sniffer.NewPipeline(cfg.PipelineConfig(dexPrograms), stats, cache, slots, log0)

	sub := sniffer.NewWebSocketSubscriber(getEnv("STREAM_WS_URL", "wss://stream.example/solsniper"))
	ingress := sniffer.NewIngress(sub, log0)

	builder := txbuilder.NewJupiterReferenceBuilder(getEnv("JUPITER_API_KEY", ""))

	buyEngine := engine.NewBuyEngine(cfg.Engine, pool, builder, client, stats, engine.AllowAll{}, log0)

	var wg sync.WaitGroup
	wg.Add(6)

	go func() { defer wg.Done(); pool.RunReleaseWorker(ctx) }()
	go func() { defer wg.Done(); pool.RunRefresh(ctx) }()
	go func() { defer wg.Done(); pool.RunWatchdog(ctx) }()
	go func() { defer wg.Done(); ingress.Run(ctx, pipeline.Handle) }()
	go func() { defer wg.Done(); buyEngine.Run(ctx, pipeline.High(), pipeline.Low()) }()
	go func() { defer wg.Done(); runAnalyticsTicker(ctx, stats, cfg.Analytics.TickInterval) }()

	log0.Info("solsniper started", "rpc_endpoint", rpcEndpoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log0.Info("shutdown signal received, draining tasks")
	cancel()
	wg.Wait()
}

// runAnalyticsTicker is task T2: drives the dual-EMA state's decay/rollover
// on a fixed tick (spec §4.A / §6 analytics.tick_interval_ms) independent of
// candidate arrival, so IsHighPriority/SurgeConfidence stay live even during
// a lull in sniffer volume.
func runAnalyticsTicker(ctx context.Context, stats *analytics.State, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats.Tick(now)
		}
	}
}

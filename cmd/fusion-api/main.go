package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/VulnFusion/go-api/fusion/api"
	"github.com/VulnFusion/go-api/fusion/feeds"
	"github.com/VulnFusion/go-api/fusion/flags"
	"github.com/VulnFusion/go-api/fusion/indicator"
	"github.com/VulnFusion/go-api/fusion/pipeline"
	"github.com/VulnFusion/go-api/fusion/postgres"
	"github.com/VulnFusion/go-api/fusion/queue"
	"github.com/VulnFusion/go-api/fusion/slogger"
	"github.com/VulnFusion/go-api/fusion/snapshot"
	"github.com/VulnFusion/go-api/fusion/store"
	"github.com/VulnFusion/go-api/fusion/threatfeed"
	"github.com/VulnFusion/go-api/fusion/vulnerability"
)

// indicatorBatch is the message shape consumed from the indicator queue.
type indicatorBatch struct {
	IPs        []string `json:"ips"`
	CVEs       []string `json:"cves"`
	SourceText string   `json:"source_text"`
}

func main() {
	slogger.Init()

	db, err := postgres.Connect()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(db); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	kv, err := store.NewValkeyStore()
	if err != nil {
		// Sync progress and trend caching degrade to process-local state;
		// the single-flight guard then only holds within this instance.
		slog.Warn("valkey unavailable, using in-process store", "error", err)
		kv = store.NewMemoryKVStore()
	}
	defer kv.Close()

	vulns := vulnerability.NewRepository(db)
	feedCache := threatfeed.NewRepository(db)
	indicators := indicator.NewRepository(db)
	flagEngine := flags.NewEngine(db)
	snapshots := snapshot.NewManager(db, kv)

	registry := pipeline.DefaultRegistry(pipeline.RegistryDeps{
		DeviceClient:     feeds.NewDeviceClientFromEnv(),
		EPSSClient:       feeds.NewEPSSClient(),
		MetasploitClient: feeds.NewMetasploitClient(),
		NucleiClient:     feeds.NewNucleiClient(),
		KEVClient:        feeds.NewKEVClient(),
		Vulnerabilities:  vulns,
		ThreatFeeds:      feedCache,
		Indicators:       indicators,
		Flags:            flagEngine,
		Snapshots:        snapshots,
	})

	orchestrator := pipeline.NewOrchestrator(registry, store.NewProgressStore(kv), queue.Publisher{})
	defer orchestrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go queue.ListenWithRetry(ctx, queue.IndicatorIngestQueue, func(msg string) {
		var batch indicatorBatch
		if err := json.Unmarshal([]byte(msg), &batch); err != nil {
			slog.Warn("discarding malformed indicator batch", "error", err)
			return
		}
		saved, err := indicators.SaveBatch(ctx, batch.IPs, batch.CVEs, batch.SourceText)
		if err != nil {
			slog.Error("failed to save indicator batch", "error", err)
			return
		}
		hitSet, err := indicators.CVEValues(ctx)
		if err != nil {
			slog.Error("failed to list indicator CVEs", "error", err)
			return
		}
		if err := flagEngine.Rebuild(ctx, flags.ColumnIndicator, hitSet); err != nil {
			slog.Error("failed to rebuild indicator flags", "error", err)
			return
		}
		slog.Info("indicator batch ingested", "saved", saved, "cve_indicators", len(hitSet))
	})

	addr := os.Getenv("FUSION_LISTEN_ADDR")
	if addr == "" {
		addr = ":9001"
	}
	server := api.NewServer(addr, api.NewHandlers(orchestrator, vulns, snapshots))

	go func() {
		<-ctx.Done()
		if err := server.Stop(); err != nil {
			slog.Error("failed to stop server", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "reason", err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/graph"
	"github.com/BaSui01/medflow/internal/cache"
	"github.com/BaSui01/medflow/internal/metrics"
	"github.com/BaSui01/medflow/llm"
	"github.com/BaSui01/medflow/llm/embedding"
	"github.com/BaSui01/medflow/pipeline"
	"github.com/BaSui01/medflow/rag"
	"github.com/BaSui01/medflow/tools"
	"github.com/BaSui01/medflow/types"
)

// app holds the wired component graph behind the CLI commands.
type app struct {
	Indexer      *rag.Indexer
	Fuser        *rag.Fuser
	Graph        *graph.Graph
	Router       *tools.Router
	Orchestrator *pipeline.Orchestrator

	rdb        *redis.Client
	metricsSrv *http.Server
	logger     *zap.Logger
}

// buildApp wires config into the full component graph: embedding provider
// and cache, vector store, knowledge graph, hybrid fuser, tool router, and
// pipeline orchestrator.
func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("medflow", reg, logger)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
	}
	embCache := cache.NewEmbeddingCache(rdb, cfg.Redis.CacheTTL, logger)

	embedder := embedding.NewOpenAIProvider(cfg.Embedding)
	tokenizer := rag.NewTiktokenTokenizer(cfg.Ingest.Encoding, logger)
	chunker := rag.NewChunker(cfg.Ingest, tokenizer, logger)

	var store rag.VectorStore
	switch cfg.Vector.Backend {
	case "pinecone":
		store = rag.NewPineconeStore(cfg.Vector, logger)
	default:
		store = rag.NewInMemoryVectorStore(logger)
	}

	indexer := rag.NewIndexer(cfg.Embedding, chunker, embedder, store, embCache, collector, logger)

	g := graph.New(cfg.Graph, logger)
	if cfg.Graph.SnapshotPath != "" {
		if _, err := os.Stat(cfg.Graph.SnapshotPath); err == nil {
			gstore, err := graph.OpenStore(cfg.Graph.SnapshotPath, logger)
			if err != nil {
				return nil, fmt.Errorf("open graph snapshot: %w", err)
			}
			if err := gstore.Load(g); err != nil {
				return nil, fmt.Errorf("load graph snapshot: %w", err)
			}
		} else {
			logger.Warn("graph snapshot not found, starting with an empty graph",
				zap.String("path", cfg.Graph.SnapshotPath))
		}
	}

	fuser := rag.NewFuser(rag.FuserConfig{
		Retrieval:     cfg.Retrieval,
		VectorTimeout: cfg.Vector.Timeout,
		GraphTimeout:  cfg.Graph.Timeout,
		GraphMaxHops:  cfg.Graph.MaxHops,
	}, embedder, store, g, collector, logger)

	router := tools.NewRouter(tools.RouterConfig{
		DefaultTimeout: cfg.Pipeline.ToolTimeout,
		AllowLists:     pipeline.DefaultAllowLists,
	}, collector, logger)
	router.MustRegister(tools.NewVectorSearchTool(fuser, []string{types.NamespaceMedicalKB}))
	router.MustRegister(tools.NewGraphQueryTool(g, cfg.Graph.MaxHops))
	router.MustRegister(tools.NewDrugbankLookupTool(fuser))
	router.MustRegister(tools.NewPubMedSearchTool(
		tools.NewPubMedClient(cfg.Pipeline.PubMedBaseURL, cfg.Pipeline.ToolTimeout, logger)))

	provider := llm.NewOpenAIProvider(cfg.LLM, logger)
	orchestrator := pipeline.NewOrchestrator(
		cfg.Pipeline, cfg.LLM, provider, router, indexer, collector, logger)

	a := &app{
		Indexer:      indexer,
		Fuser:        fuser,
		Graph:        g,
		Router:       router,
		Orchestrator: orchestrator,
		rdb:          rdb,
		logger:       logger,
	}

	if cfg.Telemetry.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	return a, nil
}

// Close releases connections and stops the metrics endpoint.
func (a *app) Close(ctx context.Context) {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
}

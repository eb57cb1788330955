// medflow analyzes patient documents against a medical knowledge base.
//
// Usage:
//
//	medflow ingest --file report.txt --namespace medical_kb
//	medflow load-graph --nodes nodes.tsv --edges edges.tsv
//	medflow analyze --patient p1 --file record.txt
//	medflow version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/graph"
	"github.com/BaSui01/medflow/internal/telemetry"
	"github.com/BaSui01/medflow/pipeline"
	"github.com/BaSui01/medflow/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "load-graph":
		runLoadGraph(os.Args[2:])
	case "analyze":
		runAnalyze(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration, then builds the logger.
func loadConfig(configPath string) (*config.Config, *zap.Logger) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg, initLogger(cfg.Log)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "Document file to ingest")
	namespace := fs.String("namespace", types.NamespaceMedicalKB, "Index namespace")
	docID := fs.String("id", "", "Document ID (defaults to the file name)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "ingest requires --file")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()

	text, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal("Failed to read document", zap.Error(err))
	}
	if *docID == "" {
		*docID = *file
	}

	ctx, stop := signalContext()
	defer stop()

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to wire components", zap.Error(err))
	}
	defer app.Close(ctx)

	result, err := app.Indexer.IngestDocument(ctx, *docID, *namespace, string(text))
	if err != nil {
		logger.Fatal("Ingestion failed", zap.Error(err))
	}
	logger.Info("Document ingested",
		zap.String("document_id", result.DocumentID),
		zap.String("namespace", result.Namespace),
		zap.Int("chunks", result.Chunks),
		zap.Int("indexed", result.Indexed),
		zap.Int("failed", result.Failed))
}

func runLoadGraph(args []string) {
	fs := flag.NewFlagSet("load-graph", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	nodes := fs.String("nodes", "", "Nodes TSV file")
	edges := fs.String("edges", "", "Edges TSV file")
	fs.Parse(args)

	if *nodes == "" || *edges == "" {
		fmt.Fprintln(os.Stderr, "load-graph requires --nodes and --edges")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()

	g := graph.New(cfg.Graph, logger)
	if err := graph.LoadTSVFiles(g, *nodes, *edges); err != nil {
		logger.Fatal("Failed to load TSV files", zap.Error(err))
	}

	store, err := graph.OpenStore(cfg.Graph.SnapshotPath, logger)
	if err != nil {
		logger.Fatal("Failed to open graph snapshot", zap.Error(err))
	}
	if err := store.Save(g); err != nil {
		logger.Fatal("Failed to save graph snapshot", zap.Error(err))
	}
	logger.Info("Graph snapshot written",
		zap.String("path", cfg.Graph.SnapshotPath),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()))
}

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	patientID := fs.String("patient", "", "Patient ID")
	file := fs.String("file", "", "Patient document file")
	fs.Parse(args)

	if *patientID == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "analyze requires --patient and --file")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()

	logger.Info("Starting medflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if otelProviders != nil {
			_ = otelProviders.Shutdown(shutdownCtx)
		}
	}()

	text, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal("Failed to read document", zap.Error(err))
	}

	ctx, stop := signalContext()
	defer stop()

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to wire components", zap.Error(err))
	}
	defer app.Close(ctx)

	app.Orchestrator.OnStage = func(r types.StageResult) {
		fmt.Fprintf(os.Stderr, "stage %s: %s\n", r.Stage, r.Status)
	}

	run, err := app.Orchestrator.RunPipeline(ctx, *patientID, string(text))
	if err != nil {
		logger.Fatal("Pipeline run failed", zap.Error(err))
	}

	report := pipeline.Aggregate(run)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal("Failed to render report", zap.Error(err))
	}
	fmt.Println(string(out))

	if run.Cancelled {
		os.Exit(2)
	}
}

func printVersion() {
	fmt.Printf("medflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`medflow - medical document analysis pipeline

Usage:
  medflow <command> [options]

Commands:
  ingest      Index a document into a namespace
  load-graph  Load knowledge graph TSV files into the snapshot store
  analyze     Run the full reasoning pipeline for a patient document
  version     Show version information
  help        Show this help message

Options for 'ingest':
  --file <path>        Document file to ingest
  --namespace <name>   Target namespace (default medical_kb)
  --id <id>            Document ID (defaults to the file name)

Options for 'load-graph':
  --nodes <path>       Nodes TSV (id, name, kind[, synonyms])
  --edges <path>       Edges TSV (source, relation, target[, weight, dataset, pmid])

Options for 'analyze':
  --patient <id>       Patient ID
  --file <path>        Patient document file

All commands accept --config <path> for a YAML configuration file.

Examples:
  medflow ingest --file guidelines.txt --namespace medical_kb
  medflow load-graph --nodes hetionet_nodes.tsv --edges hetionet_edges.tsv
  medflow analyze --patient p1 --file visit_2026_08.txt`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

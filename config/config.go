package config

import "time"

// Config is the complete medflow configuration.
type Config struct {
	// Log controls structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry controls OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Redis backs the embedding cache.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Embedding configures the text embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// LLM configures the reasoning provider shared by all stages.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Vector configures the namespaced vector index.
	Vector VectorConfig `yaml:"vector" env:"VECTOR"`

	// Graph configures the medical knowledge graph.
	Graph GraphConfig `yaml:"graph" env:"GRAPH"`

	// Retrieval configures hybrid evidence retrieval and fusion.
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Pipeline configures the sequential reasoning pipeline.
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Ingest configures document chunking and indexing.
	Ingest IngestConfig `yaml:"ingest" env:"INGEST"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with the calling site
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Attach stacktraces at error level
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig controls tracing and metrics export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// Prometheus scrape port; 0 disables the endpoint
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
}

// RedisConfig configures the cache connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// Embedding cache entry lifetime
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider: openai (any OpenAI-compatible endpoint)
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	Model    string `yaml:"model" env:"MODEL"`
	// Vector dimensionality produced by the model
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// Texts per embed request
	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Concurrent embed requests during ingestion
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// Requests per second against the embedding endpoint; 0 disables limiting
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	Model    string `yaml:"model" env:"MODEL"`
	// Per-completion deadline
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// VectorConfig configures the vector index backend.
type VectorConfig struct {
	// Backend: memory, pinecone
	Backend string `yaml:"backend" env:"BACKEND"`
	// Pinecone index host URL
	Host   string `yaml:"host" env:"HOST"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Per-query deadline against the index
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// GraphConfig configures the knowledge graph.
type GraphConfig struct {
	// SQLite snapshot path; empty keeps the graph in memory only
	SnapshotPath string `yaml:"snapshot_path" env:"SNAPSHOT_PATH"`
	// Maximum relation hops per traversal
	MaxHops int `yaml:"max_hops" env:"MAX_HOPS"`
	// Ceiling on paths returned by a single traversal
	MaxPaths int `yaml:"max_paths" env:"MAX_PATHS"`
	// Per-query deadline
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Per-hop confidence decay applied to path weights
	HopDecay float64 `yaml:"hop_decay" env:"HOP_DECAY"`
}

// RetrievalConfig configures hybrid retrieval and evidence fusion.
type RetrievalConfig struct {
	// Vector hits requested per namespace
	TopK int `yaml:"top_k" env:"TOP_K"`
	// Ceiling on fused evidence items per bundle
	BundleCap int `yaml:"bundle_cap" env:"BUNDLE_CAP"`
	// Calibration multiplier applied to graph-path confidences
	GraphCalibration float64 `yaml:"graph_calibration" env:"GRAPH_CALIBRATION"`
	// Evidence below this calibrated score is dropped
	MinScore float64 `yaml:"min_score" env:"MIN_SCORE"`
}

// PipelineConfig configures the sequential reasoning pipeline.
type PipelineConfig struct {
	// Per-stage completion deadline
	StageTimeout time.Duration `yaml:"stage_timeout" env:"STAGE_TIMEOUT"`
	// Per-tool-call deadline
	ToolTimeout time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	// Validation retries per stage before defaults are substituted
	ValidationRetries int `yaml:"validation_retries" env:"VALIDATION_RETRIES"`
	// PubMed E-utilities base URL
	PubMedBaseURL string `yaml:"pubmed_base_url" env:"PUBMED_BASE_URL"`
}

// IngestConfig configures document chunking.
type IngestConfig struct {
	// Tokenizer encoding name, e.g. cl100k_base
	Encoding string `yaml:"encoding" env:"ENCODING"`
	// Tokens per chunk window
	ChunkTokens int `yaml:"chunk_tokens" env:"CHUNK_TOKENS"`
	// Token overlap between adjacent chunks
	OverlapTokens int `yaml:"overlap_tokens" env:"OVERLAP_TOKENS"`
}

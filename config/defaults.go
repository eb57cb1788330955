package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Redis:     DefaultRedisConfig(),
		Embedding: DefaultEmbeddingConfig(),
		LLM:       DefaultLLMConfig(),
		Vector:    DefaultVectorConfig(),
		Graph:     DefaultGraphConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Ingest:    DefaultIngestConfig(),
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "medflow",
		SampleRate:   0.1,
		MetricsPort:  9091,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		CacheTTL:     24 * time.Hour,
	}
}

// DefaultEmbeddingConfig returns the default embedding configuration.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:     "openai",
		Model:        "text-embedding-3-small",
		Dimensions:   1536,
		BatchSize:    64,
		Timeout:      15 * time.Second,
		Concurrency:  4,
		RateLimitRPS: 10,
	}
}

// DefaultLLMConfig returns the default reasoning provider configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		Model:       "gpt-4o",
		Timeout:     2 * time.Minute,
		Temperature: 0.2,
		MaxTokens:   4096,
		MaxRetries:  3,
	}
}

// DefaultVectorConfig returns the default vector index configuration.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Backend: "memory",
		Timeout: 15 * time.Second,
	}
}

// DefaultGraphConfig returns the default knowledge graph configuration.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		SnapshotPath: "",
		MaxHops:      2,
		MaxPaths:     64,
		Timeout:      10 * time.Second,
		HopDecay:     0.8,
	}
}

// DefaultRetrievalConfig returns the default retrieval configuration.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:             5,
		BundleCap:        20,
		GraphCalibration: 0.9,
		MinScore:         0.05,
	}
}

// DefaultPipelineConfig returns the default pipeline configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		StageTimeout:      2 * time.Minute,
		ToolTimeout:       30 * time.Second,
		ValidationRetries: 1,
		PubMedBaseURL:     "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
	}
}

// DefaultIngestConfig returns the default ingestion configuration.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Encoding:      "cl100k_base",
		ChunkTokens:   512,
		OverlapTokens: 50,
	}
}

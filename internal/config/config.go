// Package config builds the process-wide configuration once at startup.
// Components receive the values they need explicitly; nothing reads ambient
// environment state after Load returns.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	ChatDBPath string
	DocDBPath  string
	UserDBPath string

	// BlobDir is the local directory served as the document collection.
	BlobDir string

	// ExtractorEndpoint is the document-understanding service; empty means
	// extraction fails per document and ingestion caches documents with
	// empty content and metadata.
	ExtractorEndpoint string
	ExtractorAPIKey   string
	ExtractorTimeout  time.Duration

	AnthropicAPIKey string
	AnthropicModel  string
	LLMTimeout      time.Duration

	IngestWorkers    int
	IngestBatchSize  int
	IngestLimit      int
	HistoryThreshold int
	MaxPassages      int

	OTLPEndpoint string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load reads all env vars and builds the config.
func Load() *Config {
	return &Config{
		Port: getEnv("LENSCHAT_PORT", "8000"),

		ChatDBPath: getEnv("LENSCHAT_CHAT_DB", "./data/chat_history.db"),
		DocDBPath:  getEnv("LENSCHAT_DOC_DB", "./data/pdf_cache.db"),
		UserDBPath: getEnv("LENSCHAT_USER_DB", "./data/user_data.db"),

		BlobDir: getEnv("LENSCHAT_BLOB_DIR", "./data/input"),

		ExtractorEndpoint: getEnv("LENSCHAT_EXTRACTOR_ENDPOINT", ""),
		ExtractorAPIKey:   getEnv("LENSCHAT_EXTRACTOR_KEY", ""),
		ExtractorTimeout:  getDurationEnv("LENSCHAT_EXTRACTOR_TIMEOUT", 60*time.Second),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", ""),
		LLMTimeout:      getDurationEnv("LENSCHAT_LLM_TIMEOUT", 60*time.Second),

		IngestWorkers:    getIntEnv("LENSCHAT_INGEST_WORKERS", 10),
		IngestBatchSize:  getIntEnv("LENSCHAT_INGEST_BATCH", 100),
		IngestLimit:      getIntEnv("LENSCHAT_INGEST_LIMIT", 100),
		HistoryThreshold: getIntEnv("LENSCHAT_HISTORY_THRESHOLD", 20),
		MaxPassages:      getIntEnv("LENSCHAT_MAX_PASSAGES", 5),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

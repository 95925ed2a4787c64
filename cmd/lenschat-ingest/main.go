package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/optichem/lenschat/internal/blob"
	"github.com/optichem/lenschat/internal/config"
	"github.com/optichem/lenschat/internal/docstore"
	"github.com/optichem/lenschat/internal/extract"
	"github.com/optichem/lenschat/internal/ingest"
	"github.com/optichem/lenschat/internal/telemetry"
)

func main() {
	var (
		inputDir = flag.String("input", "", "Document directory (overrides LENSCHAT_BLOB_DIR)")
		limit    = flag.Int("limit", 0, "Max documents to process this run (overrides LENSCHAT_INGEST_LIMIT)")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	if *inputDir != "" {
		cfg.BlobDir = *inputDir
	}
	if *limit > 0 {
		cfg.IngestLimit = *limit
	}
	if cfg.ExtractorEndpoint == "" {
		log.Print("no extractor endpoint configured; documents will be cached without extracted text")
	}

	shutdown, err := telemetry.Setup(context.Background(), "lenschat-ingest", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}

	docs, err := docstore.Open(cfg.DocDBPath)
	if err != nil {
		log.Fatalf("open document store (%s): %v", cfg.DocDBPath, err)
	}
	defer docs.Close()

	pipeline := ingest.NewPipeline(
		blob.NewDirStore(cfg.BlobDir),
		extract.NewHTTPAnalyzer(cfg.ExtractorEndpoint, cfg.ExtractorAPIKey, cfg.ExtractorTimeout),
		docs,
		ingest.Config{Workers: cfg.IngestWorkers, BatchSize: cfg.IngestBatchSize},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Run(ctx, cfg.IngestLimit); err != nil {
		log.Fatalf("ingestion failed: %v", err)
	}

	count, err := docs.Count(ctx)
	if err == nil {
		log.Printf("document cache now holds %d records", count)
	}
	_ = shutdown(context.Background())
}

// Package ingest turns a blob collection of raw documents into the cached
// text corpus the retriever searches. Downloads and extraction run on a
// bounded worker pool; all cache writes happen on the coordinating
// goroutine in batches.
package ingest

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/optichem/lenschat/internal/blob"
	"github.com/optichem/lenschat/internal/docstore"
	"github.com/optichem/lenschat/internal/extract"
)

var newlineRuns = regexp.MustCompile(`\n+`)

// DocumentInserter is the slice of the document cache the pipeline writes to.
type DocumentInserter interface {
	BulkInsert(ctx context.Context, docs []docstore.Document) error
}

type Config struct {
	// Workers bounds concurrent download+extract tasks. Defaults to 10.
	Workers int
	// BatchSize is how many processed documents accumulate before a bulk
	// insert. Defaults to 100.
	BatchSize int
}

type Pipeline struct {
	blobs    blob.Store
	analyzer extract.Analyzer
	cache    DocumentInserter
	cfg      Config
}

func NewPipeline(blobs blob.Store, analyzer extract.Analyzer, cache DocumentInserter, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Pipeline{blobs: blobs, analyzer: analyzer, cache: cache, cfg: cfg}
}

// Run processes up to limit documents from the blob collection. Per-document
// failures are logged and skipped; only an inaccessible blob collection ends
// the run early, with zero insertions.
func (p *Pipeline) Run(ctx context.Context, limit int) error {
	names, err := p.blobs.List(ctx)
	if err != nil {
		log.Printf("ingest: listing blobs failed: %v", err)
		return nil
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	log.Printf("ingest: processing %d documents", len(names))

	jobs := make(chan string)
	results := make(chan *docstore.Document, p.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				results <- p.processOne(ctx, name)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, name := range names {
			select {
			case <-ctx.Done():
				return
			case jobs <- name:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	inserted := 0
	batch := make([]docstore.Document, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.cache.BulkInsert(ctx, batch); err != nil {
			log.Printf("ingest: batch insert failed: %v", err)
		} else {
			inserted += len(batch)
			log.Printf("ingest: inserted %d documents", len(batch))
		}
		batch = batch[:0]
	}

	for doc := range results {
		if doc == nil {
			continue
		}
		batch = append(batch, *doc)
		if len(batch) >= p.cfg.BatchSize {
			flush()
		}
	}
	flush()

	log.Printf("ingest: run complete, %d documents cached", inserted)
	return ctx.Err()
}

// processOne downloads and extracts a single document. A nil return means
// the document was skipped; the failure never aborts the batch.
func (p *Pipeline) processOne(ctx context.Context, name string) *docstore.Document {
	data, err := p.blobs.Download(ctx, name)
	if err != nil {
		log.Printf("ingest: download %s failed: %v", name, err)
		return nil
	}

	text, metadata, err := p.analyzer.Analyze(ctx, data)
	if err != nil {
		// Extraction failure degrades to an empty document rather than
		// poisoning the run.
		log.Printf("ingest: extract %s failed: %v", name, err)
		text, metadata = "", map[string]string{}
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}
	return &docstore.Document{
		Name:         name,
		Content:      CleanText(text),
		MetadataJSON: string(metadataJSON),
	}
}

// CleanText collapses runs of newlines into single newlines and trims the
// result. Applying it twice yields the same output.
func CleanText(text string) string {
	return strings.TrimSpace(newlineRuns.ReplaceAllString(text, "\n"))
}

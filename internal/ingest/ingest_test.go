package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/optichem/lenschat/internal/docstore"
)

type fakeBlobStore struct {
	names   []string
	blobs   map[string][]byte
	listErr error
	failOn  map[string]bool
}

func (f *fakeBlobStore) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.names, nil
}

func (f *fakeBlobStore) Download(ctx context.Context, name string) ([]byte, error) {
	if f.failOn[name] {
		return nil, errors.New("download failed")
	}
	return f.blobs[name], nil
}

type fakeAnalyzer struct {
	texts    map[string]string
	metadata map[string]map[string]string
	failOn   map[string]bool
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, data []byte) (string, map[string]string, error) {
	key := string(data)
	if f.failOn[key] {
		return "", nil, errors.New("extractor unavailable")
	}
	return f.texts[key], f.metadata[key], nil
}

type captureCache struct {
	mu      sync.Mutex
	batches [][]docstore.Document
	err     error
}

func (c *captureCache) BulkInsert(ctx context.Context, docs []docstore.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	batch := make([]docstore.Document, len(docs))
	copy(batch, docs)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureCache) all() []docstore.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []docstore.Document
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func TestCleanText(t *testing.T) {
	in := "\n\nline one\n\n\nline two\n"
	want := "line one\nline two"
	got := CleanText(in)
	if got != want {
		t.Fatalf("CleanText = %q, want %q", got, want)
	}
	if CleanText(got) != got {
		t.Fatal("CleanText is not idempotent")
	}
}

func TestRunProcessesAndBatches(t *testing.T) {
	names := make([]string, 0, 7)
	blobs := map[string][]byte{}
	texts := map[string]string{}
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("doc%d.pdf", i)
		names = append(names, name)
		blobs[name] = []byte(name)
		texts[name] = fmt.Sprintf("content of %d\n\nwith blank lines", i)
	}

	cache := &captureCache{}
	p := NewPipeline(
		&fakeBlobStore{names: names, blobs: blobs},
		&fakeAnalyzer{texts: texts, metadata: map[string]map[string]string{}},
		cache,
		Config{Workers: 3, BatchSize: 3},
	)
	if err := p.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	docs := cache.all()
	if len(docs) != 7 {
		t.Fatalf("cached %d documents, want 7", len(docs))
	}
	if len(cache.batches) != 3 {
		t.Fatalf("flushed %d batches, want 3 (3+3+1)", len(cache.batches))
	}
	for _, d := range docs {
		if d.Content == "" || d.MetadataJSON != "{}" {
			t.Fatalf("unexpected document: %+v", d)
		}
		if d.Content != CleanText(d.Content) {
			t.Fatalf("content not cleaned: %q", d.Content)
		}
	}
}

func TestRunHonorsLimit(t *testing.T) {
	cache := &captureCache{}
	p := NewPipeline(
		&fakeBlobStore{
			names: []string{"a.pdf", "b.pdf", "c.pdf"},
			blobs: map[string][]byte{"a.pdf": []byte("a"), "b.pdf": []byte("b"), "c.pdf": []byte("c")},
		},
		&fakeAnalyzer{texts: map[string]string{"a": "ta", "b": "tb", "c": "tc"}},
		cache,
		Config{Workers: 2, BatchSize: 10},
	)
	if err := p.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(cache.all()); got != 2 {
		t.Fatalf("cached %d documents, want 2", got)
	}
}

func TestRunIsolatesDownloadFailures(t *testing.T) {
	cache := &captureCache{}
	p := NewPipeline(
		&fakeBlobStore{
			names:  []string{"good.pdf", "bad.pdf"},
			blobs:  map[string][]byte{"good.pdf": []byte("good")},
			failOn: map[string]bool{"bad.pdf": true},
		},
		&fakeAnalyzer{texts: map[string]string{"good": "good text"}},
		cache,
		Config{},
	)
	if err := p.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	docs := cache.all()
	if len(docs) != 1 || docs[0].Name != "good.pdf" {
		t.Fatalf("expected only the good document, got %+v", docs)
	}
}

func TestRunExtractorFailureDegradesToEmpty(t *testing.T) {
	cache := &captureCache{}
	p := NewPipeline(
		&fakeBlobStore{names: []string{"a.pdf"}, blobs: map[string][]byte{"a.pdf": []byte("a")}},
		&fakeAnalyzer{failOn: map[string]bool{"a": true}},
		cache,
		Config{},
	)
	if err := p.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	docs := cache.all()
	if len(docs) != 1 {
		t.Fatalf("cached %d documents, want 1", len(docs))
	}
	if docs[0].Content != "" || docs[0].MetadataJSON != "{}" {
		t.Fatalf("expected empty document, got %+v", docs[0])
	}
}

func TestRunListFailureEndsWithZeroInsertions(t *testing.T) {
	cache := &captureCache{}
	p := NewPipeline(
		&fakeBlobStore{listErr: errors.New("container unreachable")},
		&fakeAnalyzer{},
		cache,
		Config{},
	)
	if err := p.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run should not propagate list failure, got %v", err)
	}
	if len(cache.all()) != 0 {
		t.Fatal("expected zero insertions")
	}
}

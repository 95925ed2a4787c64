package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/optichem/lenschat/internal/docstore"
)

type fakeCache struct {
	docs []docstore.Document
	err  error
}

func (f *fakeCache) All(ctx context.Context) ([]docstore.Document, error) {
	return f.docs, f.err
}

func TestSplitPassages(t *testing.T) {
	got := SplitPassages("  first line \n\n second line\n\t\nthird")
	want := []string{"first line", "second line", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d passages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("passage %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitPassagesIdempotent(t *testing.T) {
	first := SplitPassages("a\n\nb\nc")
	second := SplitPassages(strings.Join(first, "\n"))
	if len(first) != len(second) {
		t.Fatalf("idempotence broken: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("idempotence broken at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSearchTokenSubstringMatch(t *testing.T) {
	cache := &fakeCache{docs: []docstore.Document{
		{Name: "a.pdf", Content: "Hydrogel coatings resist deposits\nUnrelated line about polymers", MetadataJSON: "{}"},
	}}
	r := NewRetriever(cache)

	got := r.Search(context.Background(), "COATING deposits", 10)
	if len(got) != 1 {
		t.Fatalf("got %d passages, want 1", len(got))
	}
	if got[0].Text != "Hydrogel coatings resist deposits" {
		t.Fatalf("passage = %q", got[0].Text)
	}
	// "coating" matches "coatings" as a substring; no boundary required.
	if len(r.Search(context.Background(), "coating", 10)) != 1 {
		t.Fatal("substring match should hit plural form")
	}
}

func TestSearchScanOrderAndEarlyExit(t *testing.T) {
	cache := &fakeCache{docs: []docstore.Document{
		{Name: "first.pdf", Content: "match one\nmatch two", MetadataJSON: "{}"},
		{Name: "second.pdf", Content: "match three", MetadataJSON: "{}"},
	}}
	r := NewRetriever(cache)

	got := r.Search(context.Background(), "match", 2)
	if len(got) != 2 {
		t.Fatalf("got %d passages, want max 2", len(got))
	}
	if got[0].Text != "match one" || got[1].Text != "match two" {
		t.Fatalf("scan order broken: %q, %q", got[0].Text, got[1].Text)
	}
	if got[0].DocumentName != "first.pdf" {
		t.Fatalf("document name = %q", got[0].DocumentName)
	}
}

func TestSearchAttachesCitations(t *testing.T) {
	cache := &fakeCache{docs: []docstore.Document{
		{Name: "Smith_2020_LensCoating_AcmeOptics.pdf", Content: "line one mentions coating\nline two is unrelated", MetadataJSON: "{}"},
	}}
	r := NewRetriever(cache)

	got := r.Search(context.Background(), "coating", 5)
	if len(got) != 1 {
		t.Fatalf("got %d passages, want 1", len(got))
	}
	if got[0].Text != "line one mentions coating" {
		t.Fatalf("passage = %q", got[0].Text)
	}
	if got[0].Citation != "Smith (2020). LensCoating. AcmeOptics." {
		t.Fatalf("citation = %q", got[0].Citation)
	}
}

func TestSearchEmptyOnCacheFailure(t *testing.T) {
	r := NewRetriever(&fakeCache{err: errors.New("db locked")})
	got := r.Search(context.Background(), "anything", 5)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	r := NewRetriever(&fakeCache{docs: []docstore.Document{{Name: "a.pdf", Content: "text", MetadataJSON: "{}"}}})
	if got := r.Search(context.Background(), "   ", 5); len(got) != 0 {
		t.Fatalf("expected no passages for blank query, got %d", len(got))
	}
	if got := r.Search(context.Background(), "text", 0); len(got) != 0 {
		t.Fatalf("expected no passages for zero maxResults, got %d", len(got))
	}
}

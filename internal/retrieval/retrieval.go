// Package retrieval selects relevant passages from the cached document
// corpus. Matching is a recall-biased substring filter over newline-delimited
// passages; results keep corpus scan order and are never ranked.
package retrieval

import (
	"context"
	"log"
	"strings"

	"github.com/optichem/lenschat/internal/citation"
	"github.com/optichem/lenschat/internal/docstore"
)

// Passage is one relevant segment of a cached document together with its
// source attribution. Passages are recomputed on every query.
type Passage struct {
	Text         string `json:"paragraph"`
	Citation     string `json:"source"`
	DocumentName string `json:"pdf_name"`
}

// DocumentLister is the slice of the document cache the retriever reads.
type DocumentLister interface {
	All(ctx context.Context) ([]docstore.Document, error)
}

type Retriever struct {
	cache DocumentLister
}

func NewRetriever(cache DocumentLister) *Retriever {
	return &Retriever{cache: cache}
}

// Search scans the whole corpus in insertion order and returns up to
// maxResults passages containing any query token. A failed or empty cache
// yields an empty result, never an error.
func (r *Retriever) Search(ctx context.Context, query string, maxResults int) []Passage {
	relevant := []Passage{}
	if maxResults <= 0 {
		return relevant
	}

	docs, err := r.cache.All(ctx)
	if err != nil {
		log.Printf("retrieval: loading corpus failed: %v", err)
		return relevant
	}

	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return relevant
	}

	for _, doc := range docs {
		cite := citation.FromJSON(doc.Name, doc.MetadataJSON)
		for _, passage := range SplitPassages(doc.Content) {
			if !isRelevant(passage, tokens) {
				continue
			}
			relevant = append(relevant, Passage{
				Text:         passage,
				Citation:     cite,
				DocumentName: doc.Name,
			})
			if len(relevant) >= maxResults {
				return relevant
			}
		}
	}
	return relevant
}

// SplitPassages splits document content on newlines, trims each segment, and
// drops empty ones.
func SplitPassages(content string) []string {
	passages := []string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		passages = append(passages, line)
	}
	return passages
}

func queryTokens(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// isRelevant reports whether any query token appears as a substring of the
// passage, case-insensitively. No token-boundary match is required.
func isRelevant(passage string, tokens []string) bool {
	lower := strings.ToLower(passage)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// Package blob defines the document collection the ingestion pipeline reads
// from, plus a local-directory implementation for development and tests. The
// production deployment points this port at an object storage container.
package blob

import "context"

// Store lists and downloads raw documents.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Download(ctx context.Context, name string) ([]byte, error)
}

// Package fetcher provides rate-limited HTTP retrieval for external data
// sources (currently the exchange-rate service).
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// GetJSON fetches the URL and decodes the JSON response body into v.
	GetJSON(ctx context.Context, url string, v any) error
}

// Package fetcher is the ingestion boundary: it downloads business record
// files from HTTP and FTP sources and parses XLSX/CSV files into record
// batches for resolution.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote record files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes
	// written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

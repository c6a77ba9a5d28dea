// Package storage abstracts the object store attachments upload into.
package storage

import (
	"context"
	"io"
)

// ProgressFunc observes upload progress in bytes. total is -1 when unknown.
type ProgressFunc func(uploaded, total int64)

// ObjectStore uploads attachment blobs and hands back shareable URLs.
type ObjectStore interface {
	// Upload streams r into the store under objectName. progress may be
	// nil. Returns the public URL of the stored object.
	Upload(ctx context.Context, objectName, contentType string, r io.Reader, size int64, progress ProgressFunc) (string, error)

	// PublicURL returns the shareable URL for an already stored object
	PublicURL(objectName string) string
}

// countingReader reports bytes as they pass through to the uploader
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func newCountingReader(r io.Reader, total int64, progress ProgressFunc) *countingReader {
	return &countingReader{r: r, total: total, progress: progress}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.progress != nil {
			c.progress(c.read, c.total)
		}
	}
	return n, err
}

package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ExportResult describes one Parquet export of raw events.
type ExportResult struct {
	Path    string `json:"path,omitempty"`
	AssetID string `json:"asset_id"`
	StartTS int64  `json:"start_ts"`
	EndTS   int64  `json:"end_ts"`
	Events  int64  `json:"events"`
	Bytes   int64  `json:"bytes"`
	NoData  bool   `json:"no_data"`
}

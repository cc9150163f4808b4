package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

const defaultExportPrefix = "exports"

// Exporter writes an asset's raw events for a time range to object storage
// as one Parquet file at <prefix>/<asset>/<start>-<end>.parquet.
type Exporter struct {
	events      domain.EventLog
	writer      domain.BlobWriter
	reader      domain.BlobReader
	prefix      string
	compression string
	now         func() time.Time
}

// NewExporter creates an Exporter. An empty prefix means "exports".
func NewExporter(events domain.EventLog, w domain.BlobWriter, r domain.BlobReader, prefix, compression string) *Exporter {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultExportPrefix
	}
	return &Exporter{
		events:      events,
		writer:      w,
		reader:      r,
		prefix:      prefix,
		compression: compression,
		now:         time.Now,
	}
}

// exportPath builds the object key, e.g. exports/123/0-60000.parquet.
func exportPath(prefix, assetID string, startTS, endTS int64) string {
	return fmt.Sprintf("%s/%s/%d-%d.parquet", prefix, assetID, startTS, endTS)
}

// Export encodes and uploads the range. An endTS of 0 means now. An empty
// range uploads nothing and reports NoData.
func (e *Exporter) Export(ctx context.Context, assetID string, startTS, endTS int64) (domain.ExportResult, error) {
	if endTS == 0 {
		endTS = e.now().UnixMilli()
	}
	res := domain.ExportResult{AssetID: assetID, StartTS: startTS, EndTS: endTS}

	data, n, err := encodeEvents(e.events.Read(ctx, assetID, startTS, endTS), e.compression)
	if err != nil {
		return res, fmt.Errorf("s3blob: export %s: %w", assetID, err)
	}
	if n == 0 {
		res.NoData = true
		return res, nil
	}

	res.Path = exportPath(e.prefix, assetID, startTS, endTS)
	res.Events = n
	res.Bytes = int64(len(data))

	if res.Bytes > minPartSize {
		err = e.writer.PutMultipart(ctx, res.Path, bytes.NewReader(data), minPartSize)
	} else {
		err = e.writer.Put(ctx, res.Path, bytes.NewReader(data), parquetContentType)
	}
	if err != nil {
		return res, fmt.Errorf("s3blob: export upload %s: %w", res.Path, err)
	}
	return res, nil
}

// List returns existing exports, optionally for one asset.
func (e *Exporter) List(ctx context.Context, assetID string) ([]domain.BlobInfo, error) {
	prefix := e.prefix + "/"
	if assetID != "" {
		prefix += assetID + "/"
	}
	infos, err := e.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list exports: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".parquet") {
			out = append(out, info)
		}
	}
	return out, nil
}

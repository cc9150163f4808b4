package s3blob

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

const parquetContentType = "application/vnd.apache.parquet"

// eventRecord is the Parquet row layout of a RawEvent.
type eventRecord struct {
	ID         int64  `parquet:"name=id, type=INT64"`
	Venue      string `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketID   string `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetID    string `parquet:"name=asset_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType  string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExchangeTS int64  `parquet:"name=exchange_ts, type=INT64"`
	IngestTS   int64  `parquet:"name=ingest_ts, type=INT64"`
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Payload    string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) {
	return m, nil
}

func (m *memoryFile) Open(string) (source.ParquetFile, error) {
	return m, nil
}

// Seek reports the write position; the writer never seeks backwards.
func (m *memoryFile) Seek(int64, int) (int64, error) {
	return int64(m.buf.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error) {
	return m.buf.Read(b)
}

func (m *memoryFile) Write(b []byte) (int, error) {
	return m.buf.Write(b)
}

func (m *memoryFile) Close() error {
	return nil
}

func (m *memoryFile) Bytes() []byte {
	return m.buf.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

// encodeEvents drains events into a Parquet file and returns its bytes and
// row count. A read error aborts the encode.
func encodeEvents(events iter.Seq2[domain.RawEvent, error], compression string) ([]byte, int64, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(eventRecord), 4)
	if err != nil {
		return nil, 0, fmt.Errorf("s3blob: create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	var n int64
	for ev, err := range events {
		if err != nil {
			_ = pw.WriteStop()
			return nil, 0, err
		}
		rec := eventRecord{
			ID:         ev.ID,
			Venue:      ev.Venue,
			MarketID:   ev.MarketID,
			AssetID:    ev.AssetID,
			EventType:  string(ev.EventType),
			ExchangeTS: ev.ExchangeTS,
			IngestTS:   ev.IngestTS,
			Sequence:   ev.Sequence,
			Payload:    string(ev.Payload),
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return nil, 0, fmt.Errorf("s3blob: write parquet row %d: %w", n, err)
		}
		n++
	}
	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("s3blob: finalize parquet: %w", err)
	}
	return fw.Bytes(), n, nil
}

package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// minPartSize is the S3 lower bound for multipart parts.
const minPartSize int64 = manager.MinUploadPartSize

// Writer implements domain.BlobWriter over one bucket. Small objects (run
// JSON, small exports) go through PutObject; large Parquet exports stream
// through the upload manager.
type Writer struct {
	api    *s3.Client
	bucket *string
}

// NewWriter returns a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.S3(), bucket: aws.String(c.Bucket())}
}

func (w *Writer) input(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      w.bucket,
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
}

// Put uploads data in a single request.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.input(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads a Parquet object in parts of at least partSize, raised
// to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := up.Upload(ctx, w.input(key, data, parquetContentType)); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)

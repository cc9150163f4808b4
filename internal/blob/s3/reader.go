package s3blob

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Reader implements domain.BlobReader over one bucket.
type Reader struct {
	api    *s3.Client
	bucket *string
}

// NewReader creates a Reader for the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.S3(), bucket: aws.String(c.Bucket())}
}

// Get opens the object at key. The caller closes the body. A missing object
// wraps domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{Bucket: r.bucket, Key: aws.String(key)})
	switch {
	case err == nil:
		return out.Body, nil
	case missing(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
}

// List returns the objects under prefix sorted by key. Export keys embed
// their time range, so key order is chronological per asset.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: r.bucket,
		Prefix: aws.String(prefix),
	})

	var out []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, domain.BlobInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	slices.SortFunc(out, func(a, b domain.BlobInfo) int { return cmp.Compare(a.Path, b.Path) })
	return out, nil
}

// Exists reports whether key is present.
func (r *Reader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: r.bucket, Key: aws.String(key)})
	switch {
	case err == nil:
		return true, nil
	case missing(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: exists %s: %w", key, err)
	}
}

// missing reports a 404 from GetObject (NoSuchKey), HeadObject (NotFound,
// no body) or an S3-compatible store that only sets the status.
func missing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)

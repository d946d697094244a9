package volumes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

// Bucket is an abstraction over a gocloud.dev blob bucket or a plain HTTP
// origin, grounded on pmtiles/bucket.go's Bucket interface, narrowed from a
// byte-range reader to a whole-object reader since Zarr chunk files (unlike
// pmtiles directories) are always fetched and cached in full.
type Bucket interface {
	Close() error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileBucket serves objects from a directory on disk.
type FileBucket struct {
	Root string
}

func (b FileBucket) Get(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.Root, key))
}

func (b FileBucket) Close() error { return nil }

// HTTPBucket serves objects from a base URL, optionally with HTTP Basic
// authorization, grounded on pmtiles/bucket.go's HTTPBucket.
type HTTPBucket struct {
	BaseURL string
	Auth    *BasicAuth
	Client  *http.Client
}

func (b HTTPBucket) Get(ctx context.Context, key string) ([]byte, error) {
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	reqURL := strings.TrimRight(b.BaseURL, "/") + "/" + strings.TrimLeft(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if b.Auth != nil {
		req.SetBasicAuth(b.Auth.Username, b.Auth.Password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", key, ErrChunkNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (b HTTPBucket) Close() error { return nil }

// blobBucket adapts a gocloud.dev/blob.Bucket (s3blob, gcsblob, azureblob,
// fileblob) to Bucket, grounded on pmtiles/bucket.go's BucketAdapter.
type blobBucket struct {
	bucket *blob.Bucket
}

func (b blobBucket) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b blobBucket) Close() error { return b.bucket.Close() }

// OpenBucket opens a Bucket for bucketURL: "http(s)://" origins become an
// HTTPBucket, everything else is handed to gocloud.dev/blob (which in turn
// supports "file://", "s3://", "gs://", "azblob://", ...).
func OpenBucket(ctx context.Context, bucketURL string, auth *BasicAuth) (Bucket, error) {
	if strings.HasPrefix(bucketURL, "http://") || strings.HasPrefix(bucketURL, "https://") {
		return HTTPBucket{BaseURL: bucketURL, Auth: auth}, nil
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %s: %w", bucketURL, err)
	}
	return blobBucket{bucket: b}, nil
}

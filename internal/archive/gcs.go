package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBackend writes archives as objects in a Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBackend creates a storage client for bucket. credentials may be a
// file path or inline JSON; when empty the GOOGLE_APPLICATION_CREDENTIALS
// environment is consulted, then application default credentials.
func NewGCSBackend(ctx context.Context, bucket, prefix, credentials string) (*GCSBackend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	opts := clientOptions(credentials)
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Name implements Backend.
func (b *GCSBackend) Name() string { return "gcs" }

// Upload implements Backend.
func (b *GCSBackend) Upload(ctx context.Context, name string, data []byte) error {
	key := name
	if b.prefix != "" {
		key = path.Join(b.prefix, name)
	}

	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing gs://%s/%s: %w", b.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing gs://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

// Close releases the storage client.
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

// clientOptions resolves Google credentials from an explicit value or the
// environment. Values starting with "{" are treated as inline JSON.
func clientOptions(credentials string) []option.ClientOption {
	creds := strings.TrimSpace(credentials)
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	}
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

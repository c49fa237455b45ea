package filestore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket          string
	CredentialsJSON string
	PublicBaseURL   string
	MaxBytes        int64
}

// objectWriter opens a writer for one object; storage.Writer commits on Close.
type objectWriter interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

type bucketWriter struct {
	bucket *storage.BucketHandle
}

func (b *bucketWriter) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := b.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// GCSStore writes uploads to a Cloud Storage bucket.
type GCSStore struct {
	writer        objectWriter
	bucket        string
	publicBaseURL string
	maxBytes      int64
	closer        io.Closer
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	store := newGCSStore(&bucketWriter{bucket: client.Bucket(cfg.Bucket)}, cfg)
	store.closer = client
	return store, nil
}

func newGCSStore(w objectWriter, cfg GCSConfig) *GCSStore {
	base := cfg.PublicBaseURL
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{
		writer:        w,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(base, "/"),
		maxBytes:      cfg.MaxBytes,
	}
}

func (s *GCSStore) Put(ctx context.Context, upload Upload, candidateID string, kind Kind) (string, error) {
	if err := CheckSize(upload, s.maxBytes); err != nil {
		return "", err
	}

	name := ObjectName(candidateID, kind, upload.Name)
	w := s.writer.NewWriter(ctx, name, mimeTypeOf(upload))
	if _, err := w.Write(upload.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit gs://%s/%s: %w", s.bucket, name, err)
	}

	return s.publicBaseURL + "/" + url.PathEscape(name), nil
}

func (s *GCSStore) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

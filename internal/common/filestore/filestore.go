// Package filestore externalizes candidate photos and resumes before the
// enquiry row is written, returning a URL that goes into the row.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"enquiry-workers/internal/common/config"
	"enquiry-workers/internal/models"
)

var ErrFileTooLarge = errors.New("FILE_TOO_LARGE")

// DefaultMaxBytes is the upload ceiling applied when none is configured.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

type Kind string

const (
	KindPhoto  Kind = "photo"
	KindResume Kind = "resume"
)

type Upload = models.Upload

// Store puts a blob somewhere addressable and returns its URL.
type Store interface {
	Put(ctx context.Context, upload Upload, candidateID string, kind Kind) (string, error)
}

// ObjectName composes <candidateId>_<kind>_<originalName>.
func ObjectName(candidateID string, kind Kind, originalName string) string {
	return fmt.Sprintf("%s_%s_%s", candidateID, kind, originalName)
}

// CheckSize rejects uploads over maxBytes before any remote call is made.
func CheckSize(upload Upload, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if upload.Size() > maxBytes {
		return &TooLargeError{Name: upload.Name, Size: upload.Size(), Limit: maxBytes}
	}
	return nil
}

// TooLargeError is returned by CheckSize and matches ErrFileTooLarge.
type TooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%s: %s is %d bytes, limit %d", ErrFileTooLarge, e.Name, e.Size, e.Limit)
}

func (e *TooLargeError) Unwrap() error {
	return ErrFileTooLarge
}

func mimeTypeOf(upload Upload) string {
	if strings.TrimSpace(upload.MimeType) == "" {
		return "application/octet-stream"
	}
	return upload.MimeType
}

// New builds the configured backend. uploader is only used by the script backend.
func New(ctx context.Context, cfg config.FileStoreConfig, uploader Uploader) (Store, error) {
	switch cfg.Backend {
	case "", "script":
		return NewScriptStore(uploader, cfg.FolderID, cfg.MaxBytes), nil
	case "gcs":
		store, err := NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			CredentialsJSON: cfg.GCS.CredentialsJSON,
			PublicBaseURL:   cfg.GCS.PublicBaseURL,
			MaxBytes:        cfg.MaxBytes,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported filestore backend %q", cfg.Backend)
	}
}

package filestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	UploadFileFunc func(ctx context.Context, base64Data, fileName, mimeType, folderID string) (string, error)
	calls          int
}

func (m *mockUploader) UploadFile(ctx context.Context, base64Data, fileName, mimeType, folderID string) (string, error) {
	m.calls++
	return m.UploadFileFunc(ctx, base64Data, fileName, mimeType, folderID)
}

type memoryObject struct {
	bytes.Buffer
	name        string
	contentType string
	closeErr    error
	closed      bool
}

func (o *memoryObject) Close() error {
	o.closed = true
	return o.closeErr
}

type memoryBucket struct {
	objects  []*memoryObject
	closeErr error
}

func (b *memoryBucket) NewWriter(_ context.Context, object, contentType string) io.WriteCloser {
	o := &memoryObject{name: object, contentType: contentType, closeErr: b.closeErr}
	b.objects = append(b.objects, o)
	return o
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "ENQ-04_photo_me.jpg", ObjectName("ENQ-04", KindPhoto, "me.jpg"))
	assert.Equal(t, "ENQ-04_resume_cv final.pdf", ObjectName("ENQ-04", KindResume, "cv final.pdf"))
}

func TestScriptStore_Put(t *testing.T) {
	uploader := &mockUploader{
		UploadFileFunc: func(_ context.Context, base64Data, fileName, mimeType, folderID string) (string, error) {
			assert.Equal(t, "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString([]byte("%PDF")), base64Data)
			assert.Equal(t, "ENQ-02_resume_cv.pdf", fileName)
			assert.Equal(t, "application/pdf", mimeType)
			assert.Equal(t, "folder-9", folderID)
			return "https://drive.example.com/file/1", nil
		},
	}

	store := NewScriptStore(uploader, "folder-9", 0)
	fileURL, err := store.Put(context.Background(), Upload{Name: "cv.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}, "ENQ-02", KindResume)
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com/file/1", fileURL)
	assert.Equal(t, 1, uploader.calls)
}

func TestScriptStore_DefaultsMimeType(t *testing.T) {
	uploader := &mockUploader{
		UploadFileFunc: func(_ context.Context, base64Data, _, mimeType, _ string) (string, error) {
			assert.Equal(t, "application/octet-stream", mimeType)
			assert.True(t, strings.HasPrefix(base64Data, "data:application/octet-stream;base64,"))
			return "u", nil
		},
	}
	_, err := NewScriptStore(uploader, "f", 0).Put(context.Background(), Upload{Name: "x", Data: []byte("1")}, "ENQ-01", KindPhoto)
	require.NoError(t, err)
}

func TestScriptStore_TooLargeMakesNoCall(t *testing.T) {
	uploader := &mockUploader{
		UploadFileFunc: func(context.Context, string, string, string, string) (string, error) {
			t.Fatal("upload must not be attempted")
			return "", nil
		},
	}

	store := NewScriptStore(uploader, "f", 8)
	_, err := store.Put(context.Background(), Upload{Name: "big.png", Data: make([]byte, 9)}, "ENQ-01", KindPhoto)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileTooLarge))
	assert.Equal(t, 0, uploader.calls)
}

func TestCheckSize_DefaultLimit(t *testing.T) {
	assert.NoError(t, CheckSize(Upload{Data: make([]byte, DefaultMaxBytes)}, 0))
	assert.ErrorIs(t, CheckSize(Upload{Data: make([]byte, DefaultMaxBytes+1)}, 0), ErrFileTooLarge)
}

func TestGCSStore_Put(t *testing.T) {
	bucket := &memoryBucket{}
	store := newGCSStore(bucket, GCSConfig{Bucket: "hr-enquiries"})

	fileURL, err := store.Put(context.Background(), Upload{Name: "me one.png", MimeType: "image/png", Data: []byte("png")}, "ENQ-07", KindPhoto)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/hr-enquiries/ENQ-07_photo_me%20one.png", fileURL)

	require.Len(t, bucket.objects, 1)
	obj := bucket.objects[0]
	assert.Equal(t, "ENQ-07_photo_me one.png", obj.name)
	assert.Equal(t, "image/png", obj.contentType)
	assert.Equal(t, "png", obj.String())
	assert.True(t, obj.closed)
}

func TestGCSStore_PublicBaseURLAndCommitFailure(t *testing.T) {
	bucket := &memoryBucket{closeErr: errors.New("403 forbidden")}
	store := newGCSStore(bucket, GCSConfig{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"})

	_, err := store.Put(context.Background(), Upload{Name: "cv.pdf", Data: []byte("x")}, "ENQ-01", KindResume)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit gs://b/ENQ-01_resume_cv.pdf")

	bucket.closeErr = nil
	ok := newGCSStore(bucket, GCSConfig{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"})
	fileURL, err := ok.Put(context.Background(), Upload{Name: "cv.pdf", Data: []byte("x")}, "ENQ-01", KindResume)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/ENQ-01_resume_cv.pdf", fileURL)
}

func TestGCSStore_TooLarge(t *testing.T) {
	bucket := &memoryBucket{}
	store := newGCSStore(bucket, GCSConfig{Bucket: "b", MaxBytes: 2})
	_, err := store.Put(context.Background(), Upload{Name: "x", Data: []byte("abc")}, "ENQ-01", KindPhoto)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, bucket.objects)
}

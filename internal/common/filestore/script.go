package filestore

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Uploader is the table service's uploadFile operation.
type Uploader interface {
	UploadFile(ctx context.Context, base64Data, fileName, mimeType, folderID string) (string, error)
}

// ScriptStore uploads through the table service into a Drive folder.
type ScriptStore struct {
	uploader Uploader
	folderID string
	maxBytes int64
}

func NewScriptStore(uploader Uploader, folderID string, maxBytes int64) *ScriptStore {
	return &ScriptStore{uploader: uploader, folderID: folderID, maxBytes: maxBytes}
}

func (s *ScriptStore) Put(ctx context.Context, upload Upload, candidateID string, kind Kind) (string, error) {
	if err := CheckSize(upload, s.maxBytes); err != nil {
		return "", err
	}

	mimeType := mimeTypeOf(upload)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(upload.Data))

	return s.uploader.UploadFile(ctx, dataURL, ObjectName(candidateID, kind, upload.Name), mimeType, s.folderID)
}

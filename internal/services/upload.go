package services

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/vidstream/apiserver/internal/storage"
)

// Uploader turns a local file into a hosted URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// ObjectUploader uploads local files to object storage under a key prefix.
type ObjectUploader struct {
	storage *storage.Storage
	prefix  string
}

func NewObjectUploader(st *storage.Storage, prefix string) *ObjectUploader {
	return &ObjectUploader{
		storage: st,
		prefix:  strings.Trim(prefix, "/"),
	}
}

// Upload streams the file at localPath to object storage and returns its
// public URL. The caller owns the local file and its cleanup.
func (u *ObjectUploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := u.prefix + "/" + uuid.NewString() + ext
	if err := u.storage.Put(ctx, key, file, info.Size(), contentType); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return u.storage.ObjectURL(key), nil
}

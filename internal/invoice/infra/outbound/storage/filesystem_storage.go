package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
)

// FilesystemStorage guarda los documentos bajo un directorio local. Para desarrollo sin S3.
type FilesystemStorage struct {
	root    string
	baseURL string
}

// NewFilesystemStorage: si baseURL está vacío las URLs son file://.
func NewFilesystemStorage(root, baseURL string) *FilesystemStorage {
	return &FilesystemStorage{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Put escribe en un temporal y renombra, así nunca queda un PDF a medias.
func (s *FilesystemStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + key, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

var _ domain.ObjectStorage = (*FilesystemStorage)(nil)

// Package blob сохраняет загруженные изображения на локальный диск.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// maxExtLen ограничивает длину расширения, взятого из имени клиента.
const maxExtLen = 10

// LocalStore кладёт файлы в каталог dir и отдаёт URL вида baseURL/<uuid><ext>.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore создаёт каталог dir, если его нет.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir возвращает каталог с файлами (раздаётся HTTP-сервером).
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put копирует body во временный файл и атомарно переименовывает его.
func (s *LocalStore) Put(ctx context.Context, name, _ string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := uuid.NewString() + extension(name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", domain.StoreError("create blob", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return "", domain.StoreError("write blob", err)
	}
	if err := tmp.Close(); err != nil {
		return "", domain.StoreError("close blob", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, filename)); err != nil {
		return "", domain.StoreError("rename blob", err)
	}

	return s.baseURL + "/" + filename, nil
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

var _ domain.BlobStore = (*LocalStore)(nil)

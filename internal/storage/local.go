package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes uploads to a directory served under a public URL prefix.
type LocalStorage struct {
	root         string
	publicPrefix string
}

// NewLocalStorage prepares the upload directory.
func NewLocalStorage(root, publicPrefix string) (*LocalStorage, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("storage: upload directory required")
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(publicPrefix), "/")
	if prefix == "/" {
		return nil, fmt.Errorf("storage: public prefix required")
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absolute, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create upload directory: %w", err)
	}
	return &LocalStorage{root: absolute, publicPrefix: prefix}, nil
}

// Root returns the directory holding uploaded files.
func (s *LocalStorage) Root() string {
	return s.root
}

// PublicPrefix returns the URL path prefix under which uploads are served.
func (s *LocalStorage) PublicPrefix() string {
	return s.publicPrefix
}

// Save writes the body atomically and returns its public path.
func (s *LocalStorage) Save(ctx context.Context, key string, body io.Reader, _ string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, copyErr := io.Copy(tmp, contextReader{ctx: ctx, reader: body})
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("storage: write file: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("storage: finalize file: %w", err)
	}
	return s.publicPrefix + "/" + cleaned, nil
}

// Delete removes a previously saved file; missing files are not an error.
func (s *LocalStorage) Delete(_ context.Context, fileURL string) error {
	if !s.Owns(fileURL) {
		return ErrNotManaged
	}
	cleaned, err := cleanKey(strings.TrimPrefix(fileURL, s.publicPrefix+"/"))
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// Owns reports whether the URL lives under the public upload prefix.
func (s *LocalStorage) Owns(fileURL string) bool {
	return strings.HasPrefix(strings.TrimSpace(fileURL), s.publicPrefix+"/")
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}

// Package storage persists uploaded files and maps them to public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotManaged indicates that a URL does not belong to the storage backend.
	ErrNotManaged = errors.New("storage: url is not managed by this backend")
	// ErrInvalidKey indicates an object key that escapes the storage namespace.
	ErrInvalidKey = errors.New("storage: invalid object key")
)

// Storage is the contract shared by the local and S3 backends.
type Storage interface {
	// Save stores the body under key and returns the public URL of the object.
	Save(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// Delete removes the object addressed by a URL previously returned from Save.
	Delete(ctx context.Context, fileURL string) error
	// Owns reports whether the URL addresses an object managed by this backend.
	Owns(fileURL string) bool
}

// NewObjectKey builds a collision-free key inside folder, keeping the original extension.
func NewObjectKey(folder, originalName string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(originalName)))
	if len(ext) > 10 {
		ext = ""
	}
	name := uuid.NewString() + ext
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

func cleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+trimmed), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

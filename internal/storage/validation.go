package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// ErrInvalidUpload wraps every upload rejection.
var ErrInvalidUpload = errors.New("storage: invalid upload")

// FileConstraints lists the accepted detected types, extensions and size.
type FileConstraints struct {
	AllowedMimeTypes  map[string]bool
	AllowedExtensions map[string]bool
	MaxSize           int64
}

var (
	// ImageConstraints accepts property photos.
	ImageConstraints = FileConstraints{
		AllowedMimeTypes: map[string]bool{
			"image/jpeg": true,
			"image/png":  true,
			"image/webp": true,
			"image/gif":  true,
		},
		AllowedExtensions: map[string]bool{
			".jpg":  true,
			".jpeg": true,
			".png":  true,
			".webp": true,
			".gif":  true,
		},
		MaxSize: 10 << 20,
	}

	// DocumentConstraints accepts property documents: PDF, plain text,
	// zip-based office formats and scanned images.
	DocumentConstraints = FileConstraints{
		AllowedMimeTypes: map[string]bool{
			"application/pdf":           true,
			"text/plain; charset=utf-8": true,
			"application/zip":           true,
			"image/jpeg":                true,
			"image/png":                 true,
		},
		AllowedExtensions: map[string]bool{
			".pdf":  true,
			".txt":  true,
			".docx": true,
			".xlsx": true,
			".jpg":  true,
			".jpeg": true,
			".png":  true,
		},
		MaxSize: 25 << 20,
	}
)

// ValidateUpload checks the file against the constraint sets (any match wins)
// and returns the detected content type.
func ValidateUpload(header *multipart.FileHeader, constraints ...FileConstraints) (string, error) {
	if header == nil {
		return "", fmt.Errorf("%w: file required", ErrInvalidUpload)
	}
	if len(constraints) == 0 {
		return "", fmt.Errorf("%w: no file constraints provided", ErrInvalidUpload)
	}

	file, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open file: %v", ErrInvalidUpload, err)
	}
	defer func() { _ = file.Close() }()

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("%w: failed to read file: %v", ErrInvalidUpload, err)
	}
	detected := http.DetectContentType(buffer[:n])

	var lastErr error
	for _, constraint := range constraints {
		if err := checkConstraint(header, detected, constraint); err != nil {
			lastErr = err
			continue
		}
		return detected, nil
	}
	return "", lastErr
}

func checkConstraint(header *multipart.FileHeader, detected string, constraint FileConstraints) error {
	if header.Size > constraint.MaxSize {
		return fmt.Errorf("%w: file too large, maximum size is %d MB", ErrInvalidUpload, constraint.MaxSize/(1<<20))
	}
	if !constraint.AllowedMimeTypes[detected] {
		return fmt.Errorf("%w: invalid file type (detected: %s)", ErrInvalidUpload, detected)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !constraint.AllowedExtensions[ext] {
		return fmt.Errorf("%w: invalid file extension: %s", ErrInvalidUpload, ext)
	}
	return nil
}
